package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ledgerchat/internal/domain"
)

// setupTestDB creates a temporary database with migrations applied.
func setupTestDB(t *testing.T) *TransactionRepo {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return NewTransactionRepo(db)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedTransactions(t *testing.T, repo *TransactionRepo, txs []domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	for i := range txs {
		if err := repo.Insert(ctx, &txs[i]); err != nil {
			t.Fatalf("Insert(%s) error = %v", txs[i].ID, err)
		}
	}
}

func TestTransactionRepo_ListByDateRange(t *testing.T) {
	repo := setupTestDB(t)
	seedTransactions(t, repo, []domain.Transaction{
		{ID: "t1", Date: date(2025, time.January, 5), Amount: 12.50, Direction: domain.DirectionExpense, Vendor: "Cafe Uno", Currency: "USD"},
		{ID: "t2", Date: date(2025, time.January, 20), Amount: 80, Direction: domain.DirectionExpense, Vendor: "Grocer", Currency: "USD"},
		{ID: "t3", Date: date(2025, time.February, 2), Amount: 35, Direction: domain.DirectionExpense, Vendor: "Grocer", Currency: "USD"},
	})

	got, err := repo.ListByDateRange(context.Background(), date(2025, time.January, 1), date(2025, time.January, 31))
	if err != nil {
		t.Fatalf("ListByDateRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByDateRange() returned %d transactions, want 2", len(got))
	}
	if got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("ListByDateRange() order = [%s %s], want [t1 t2]", got[0].ID, got[1].ID)
	}
}

func TestTransactionRepo_ListByVendor_CaseInsensitive(t *testing.T) {
	repo := setupTestDB(t)
	seedTransactions(t, repo, []domain.Transaction{
		{ID: "t1", Date: date(2025, time.March, 1), Amount: 9.99, Direction: domain.DirectionExpense, Vendor: "Netflix", Currency: "USD"},
		{ID: "t2", Date: date(2025, time.March, 2), Amount: 4.20, Direction: domain.DirectionExpense, Vendor: "Cafe Uno", Currency: "USD"},
	})

	got, err := repo.ListByVendor(context.Background(), "netflix")
	if err != nil {
		t.Fatalf("ListByVendor() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("ListByVendor(netflix) = %v, want [t1]", got)
	}
}

func TestTransactionRepo_EmbeddingRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	seedTransactions(t, repo, []domain.Transaction{
		{ID: "t1", Date: date(2025, time.April, 1), Amount: 10, Direction: domain.DirectionExpense, Vendor: "Shop", Currency: "USD"},
	})

	ctx := context.Background()

	// Freshly inserted rows have no embedding
	missing, err := repo.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(missing) != 1 {
		t.Fatalf("ListMissingEmbeddings() returned %d, want 1", len(missing))
	}

	vec := []float32{0.25, -1.5, 3.75}
	if err := repo.UpdateEmbedding(ctx, "t1", vec); err != nil {
		t.Fatalf("UpdateEmbedding() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.Embedding) != len(vec) {
		t.Fatalf("embedding length = %d, want %d", len(got.Embedding), len(vec))
	}
	for i := range vec {
		if got.Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], vec[i])
		}
	}

	// Backfilled rows no longer report as missing
	missing, err = repo.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("ListMissingEmbeddings() after backfill = %d, want 0", len(missing))
	}
}

func TestTransactionRepo_ListMissingEmbeddings_ZeroBlobCountsAsMissing(t *testing.T) {
	repo := setupTestDB(t)
	seedTransactions(t, repo, []domain.Transaction{
		{ID: "legacy", Date: date(2025, time.April, 1), Amount: 10, Direction: domain.DirectionExpense, Vendor: "Shop", Currency: "USD"},
		{ID: "embedded", Date: date(2025, time.April, 2), Amount: 20, Direction: domain.DirectionExpense, Vendor: "Shop", Currency: "USD", Embedding: []float32{0.25, -1.5, 3.75}},
	})
	ctx := context.Background()

	// Older tooling stored the placeholder as a full-length all-zero blob
	// instead of NULL.
	if _, err := repo.db.ExecContext(ctx, "UPDATE transactions SET embedding = ? WHERE id = ?", make([]byte, 4*384), "legacy"); err != nil {
		t.Fatalf("seeding zero blob: %v", err)
	}

	missing, err := repo.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(missing) != 1 || missing[0].ID != "legacy" {
		t.Errorf("ListMissingEmbeddings() = %v, want only the zero-blob row", missing)
	}
}

func TestTransactionRepo_UpdateEmbedding_ZeroVectorStaysMissing(t *testing.T) {
	repo := setupTestDB(t)
	seedTransactions(t, repo, []domain.Transaction{
		{ID: "t1", Date: date(2025, time.April, 1), Amount: 10, Direction: domain.DirectionExpense, Vendor: "Shop", Currency: "USD"},
	})
	ctx := context.Background()

	if err := repo.UpdateEmbedding(ctx, "t1", make([]float32, 384)); err != nil {
		t.Fatalf("UpdateEmbedding() error = %v", err)
	}
	missing, err := repo.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(missing) != 1 {
		t.Errorf("ListMissingEmbeddings() after zero-vector write = %d rows, want 1; the placeholder must not count as embedded", len(missing))
	}
}

func TestTransactionRepo_UpdateEmbedding_UnknownID(t *testing.T) {
	repo := setupTestDB(t)

	err := repo.UpdateEmbedding(context.Background(), "missing", []float32{1})
	if err != ErrNotFound {
		t.Errorf("UpdateEmbedding(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTransactionRepo_GetByIDs(t *testing.T) {
	repo := setupTestDB(t)
	seedTransactions(t, repo, []domain.Transaction{
		{ID: "t1", Date: date(2025, time.May, 1), Amount: 10, Direction: domain.DirectionExpense, Vendor: "A", Currency: "USD"},
		{ID: "t2", Date: date(2025, time.May, 2), Amount: 20, Direction: domain.DirectionExpense, Vendor: "B", Currency: "USD"},
	})

	got, err := repo.GetByIDs(context.Background(), []string{"t2", "unknown"})
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "t2" {
		t.Errorf("GetByIDs() = %v, want [t2]", got)
	}
}

func TestTransactionFlow_LegacySignFallback(t *testing.T) {
	tests := []struct {
		name string
		tx   domain.Transaction
		want domain.Direction
	}{
		{"explicit expense wins over sign", domain.Transaction{Amount: -50, Direction: domain.DirectionExpense}, domain.DirectionExpense},
		{"explicit income", domain.Transaction{Amount: 100, Direction: domain.DirectionIncome}, domain.DirectionIncome},
		{"legacy negative means income", domain.Transaction{Amount: -100}, domain.DirectionIncome},
		{"legacy positive means expense", domain.Transaction{Amount: 100}, domain.DirectionExpense},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tx.Flow(); got != tt.want {
				t.Errorf("Flow() = %v, want %v", got, tt.want)
			}
		})
	}
}
