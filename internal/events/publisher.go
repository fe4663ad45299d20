package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/book-rank-scraper/internal/models"
	"github.com/redis/go-redis/v9"
)

const EventProductInserted = "PRODUCT_INSERTED"

// RedisClient interface for testing
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// ProductInserted is announced on the stream after a row has been committed.
type ProductInserted struct {
	EventID   uuid.UUID             `json:"event_id"`
	RunID     uuid.UUID             `json:"run_id"`
	Site      string                `json:"site"`
	PageURL   string                `json:"page_url"`
	Timestamp time.Time             `json:"timestamp"`
	Product   *models.ProductRecord `json:"product"`
}

type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "events"),
		now:    time.Now,
	}
}

// PublishInserted appends one entry to the stream and returns its ID.
func (p *Publisher) PublishInserted(ctx context.Context, runID uuid.UUID, site, pageURL string, product *models.ProductRecord) (string, error) {
	event := ProductInserted{
		EventID:   uuid.New(),
		RunID:     runID,
		Site:      site,
		PageURL:   pageURL,
		Timestamp: p.now().UTC(),
		Product:   product,
	}

	dataJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(dataJSON),
			"type":      EventProductInserted,
			"site":      site,
			"run_id":    runID.String(),
			"event_id":  event.EventID.String(),
			"timestamp": fmt.Sprintf("%d", event.Timestamp.UnixNano()),
		},
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Debug("published event",
		"stream", p.stream,
		"stream_id", id,
		"event_id", event.EventID,
		"title", product.Title,
	)

	return id, nil
}
