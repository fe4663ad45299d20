package database

import (
	"context"
	"fmt"

	"github.com/maltedev/book-rank-scraper/internal/models"
)

const insertProductQuery = `
		INSERT INTO product (cover, description, detail, price, rate, title)
		VALUES ($1, $2, $3, $4, $5, $6)`

const countProductsQuery = `SELECT COUNT(*) FROM product`

// InsertProduct writes one row. The statement runs outside any explicit
// transaction, so it is committed as soon as Exec returns. Re-running a page
// inserts the same books again.
func (db *DB) InsertProduct(ctx context.Context, p *models.ProductRecord) error {
	_, err := db.q.Exec(ctx, insertProductQuery,
		p.Cover, p.Description, p.Detail, p.Price, p.Rate, p.Title,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}

	return nil
}

// CountProducts returns the number of rows in the product table.
func (db *DB) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	if err := db.q.QueryRow(ctx, countProductsQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}

	return count, nil
}
