package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_transaction_store.go -package=mocks ledgerchat/internal/storage TransactionStore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ledgerchat/internal/domain"
)

const transactionColumns = "id, date, amount, direction, vendor, category_id, currency, note, embedding, document_id"

// TransactionStore defines the interface for transaction storage operations.
// The query pipeline only reads transactions and backfills their embedding
// field; Insert exists for the importer.
type TransactionStore interface {
	// Insert inserts a single transaction. The ID must be set before calling.
	Insert(ctx context.Context, tx *domain.Transaction) error
	// GetByID returns one transaction. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// GetByIDs returns the transactions for the given IDs, skipping unknown IDs.
	GetByIDs(ctx context.Context, ids []string) ([]domain.Transaction, error)
	// ListByDateRange returns all transactions with date in [start, end], ordered by date.
	ListByDateRange(ctx context.Context, start, end time.Time) ([]domain.Transaction, error)
	// ListByVendor returns transactions with an exact (case-insensitive) vendor match.
	ListByVendor(ctx context.Context, vendor string) ([]domain.Transaction, error)
	// ListByCategory returns transactions in the given category.
	ListByCategory(ctx context.Context, categoryID string) ([]domain.Transaction, error)
	// ListAll returns every transaction, ordered by date.
	ListAll(ctx context.Context) ([]domain.Transaction, error)
	// ListMissingEmbeddings returns up to limit transactions whose embedding
	// is still the placeholder, ordered by date for stable batching.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]domain.Transaction, error)
	// UpdateEmbedding stores the embedding vector for one transaction.
	// It is a keyed upsert: repeating it with the same vector is a no-op.
	UpdateEmbedding(ctx context.Context, id string, vec []float32) error
}

// TransactionRepo provides methods for transaction operations.
// It implements the TransactionStore interface.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Insert inserts a single transaction.
func (r *TransactionRepo) Insert(ctx context.Context, tx *domain.Transaction) error {
	var categoryID any
	if tx.CategoryID != "" {
		categoryID = tx.CategoryID
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transactions ("+transactionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		tx.ID, tx.Date, tx.Amount, string(tx.Direction), tx.Vendor, categoryID,
		tx.Currency, tx.Note, encodeVector(tx.Embedding), tx.DocumentID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetByID returns one transaction by ID. Returns ErrNotFound if not found.
func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return tx, nil
}

// GetByIDs returns the transactions for the given IDs. Unknown IDs are skipped.
func (r *TransactionRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id IN ("+placeholders+") ORDER BY date",
		args...)
}

// ListByDateRange returns all transactions with date in [start, end], ordered by date.
func (r *TransactionRepo) ListByDateRange(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	return r.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE date >= ? AND date <= ? ORDER BY date",
		start, end)
}

// ListByVendor returns transactions with an exact (case-insensitive) vendor match.
func (r *TransactionRepo) ListByVendor(ctx context.Context, vendor string) ([]domain.Transaction, error) {
	return r.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE vendor = ? COLLATE NOCASE ORDER BY date",
		vendor)
}

// ListByCategory returns transactions in the given category.
func (r *TransactionRepo) ListByCategory(ctx context.Context, categoryID string) ([]domain.Transaction, error) {
	return r.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE category_id = ? ORDER BY date",
		categoryID)
}

// ListAll returns every transaction, ordered by date.
func (r *TransactionRepo) ListAll(ctx context.Context) ([]domain.Transaction, error) {
	return r.list(ctx, "SELECT "+transactionColumns+" FROM transactions ORDER BY date")
}

// ListMissingEmbeddings returns up to limit transactions without a real
// embedding. New writes store the placeholder as NULL, but rows imported by
// older tooling may carry a full-length all-zero blob; the hex check catches
// those too.
func (r *TransactionRepo) ListMissingEmbeddings(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return r.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE embedding IS NULL OR replace(hex(embedding), '00', '') = '' ORDER BY date LIMIT ?",
		limit)
}

// UpdateEmbedding stores the embedding vector for one transaction.
func (r *TransactionRepo) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET embedding = ? WHERE id = ?",
		encodeVector(vec), id)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// list runs a query returning transaction rows and scans them all.
func (r *TransactionRepo) list(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return txs, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTransaction maps one row to a validated domain.Transaction.
func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx         domain.Transaction
		direction  string
		categoryID sql.NullString
		blob       []byte
	)
	if err := row.Scan(&tx.ID, &tx.Date, &tx.Amount, &direction, &tx.Vendor,
		&categoryID, &tx.Currency, &tx.Note, &blob, &tx.DocumentID); err != nil {
		return nil, err
	}
	tx.Direction = domain.Direction(direction)
	if categoryID.Valid {
		tx.CategoryID = categoryID.String
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	tx.Embedding = vec
	return &tx, nil
}
