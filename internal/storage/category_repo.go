package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerchat/internal/domain"
)

// CategoryStore defines the interface for category storage operations.
type CategoryStore interface {
	// Insert inserts a category. The ID must be set before calling.
	Insert(ctx context.Context, cat *domain.Category) error
	// ListAll returns all categories ordered by name.
	ListAll(ctx context.Context) ([]domain.Category, error)
}

// CategoryRepo provides methods for category operations.
// It implements the CategoryStore interface.
type CategoryRepo struct {
	db *sql.DB
}

// NewCategoryRepo creates a new CategoryRepo.
func NewCategoryRepo(db *sql.DB) *CategoryRepo {
	return &CategoryRepo{db: db}
}

// Insert inserts a category.
func (r *CategoryRepo) Insert(ctx context.Context, cat *domain.Category) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO categories (id, name) VALUES (?, ?)",
		cat.ID, cat.Name)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

// ListAll returns all categories ordered by name.
func (r *CategoryRepo) ListAll(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var cats []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return cats, nil
}
