package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/maltedev/book-rank-scraper/internal/models"
)

// FileSink appends each record as one JSON line. It takes the place of the
// database when a run exports to a file.
type FileSink struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	enc      *json.Encoder
	filename string
	count    int
}

func NewFileSink(filename string) (*FileSink, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	return &FileSink{
		file:     f,
		writer:   w,
		enc:      enc,
		filename: filename,
	}, nil
}

// InsertProduct writes the record and flushes, so every line is on disk
// before the next item is processed.
func (s *FileSink) InsertProduct(ctx context.Context, p *models.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(p); err != nil {
		return fmt.Errorf("failed to write product: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to write product: %w", err)
	}

	s.count++
	return nil
}

func (s *FileSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
