package retrieval

import (
	"context"
	"sort"
	"testing"
	"time"

	"ledgerchat/internal/domain"
	"ledgerchat/internal/vectorstore"
)

type stubTxStore struct {
	txs []domain.Transaction
}

func (s *stubTxStore) Insert(ctx context.Context, tx *domain.Transaction) error { return nil }

func (s *stubTxStore) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	for i := range s.txs {
		if s.txs[i].ID == id {
			cp := s.txs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubTxStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Transaction, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Transaction
	for _, tx := range s.txs {
		if want[tx.ID] {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *stubTxStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range s.txs {
		if !tx.Date.Before(start) && !tx.Date.After(end) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *stubTxStore) ListByVendor(ctx context.Context, vendor string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range s.txs {
		if tx.Vendor == vendor {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *stubTxStore) ListByCategory(ctx context.Context, categoryID string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range s.txs {
		if tx.CategoryID == categoryID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *stubTxStore) ListAll(ctx context.Context) ([]domain.Transaction, error) {
	return append([]domain.Transaction(nil), s.txs...), nil
}

func (s *stubTxStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *stubTxStore) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	return nil
}

// stubVectorStore returns canned search results.
type stubVectorStore struct {
	results []vectorstore.SearchResult
}

func (s *stubVectorStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	return nil
}

func (s *stubVectorStore) Search(ctx context.Context, collection string, query []float32, k int, minScore float32) ([]vectorstore.SearchResult, error) {
	return s.results, nil
}

func (s *stubVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	return nil
}

type stubEmbedder struct{ ready bool }

func (s *stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *stubEmbedder) IsReady() bool  { return s.ready }
func (s *stubEmbedder) Dimension() int { return 3 }

func day(d int) time.Time {
	return time.Date(2025, time.January, d, 12, 0, 0, 0, time.UTC)
}

func janRange() *domain.DateRange {
	return &domain.DateRange{
		Start: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, time.January, 31, 23, 59, 59, 0, time.UTC),
	}
}

func testEngine(store *stubTxStore, vecs *stubVectorStore, emb *stubEmbedder) *Engine {
	return NewEngine(store, emb, vecs, "transactions", map[string]string{"dining": "cat-dining"}, 20)
}

func classification(ents domain.ExtractedEntities) domain.QueryClassification {
	return domain.QueryClassification{
		Intent:           domain.IntentSpending,
		Entities:         ents,
		NeedsLocalSearch: true,
	}
}

func TestRetrieve_DateFilterScoring(t *testing.T) {
	store := &stubTxStore{txs: []domain.Transaction{
		{ID: "in-range", Date: day(10), Amount: 20, Direction: domain.DirectionExpense, Vendor: "Cafe"},
		{ID: "out-of-range", Date: time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC), Amount: 20, Direction: domain.DirectionExpense, Vendor: "Cafe"},
	}}
	e := testEngine(store, &stubVectorStore{}, &stubEmbedder{ready: false})

	got, err := e.Retrieve(context.Background(), "spending in January", classification(domain.ExtractedEntities{
		DateRange: janRange(),
		Direction: domain.DirectionExpense,
	}))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || got[0].Tx.ID != "in-range" {
		t.Fatalf("Retrieve() = %v, want only in-range transaction", ids(got))
	}
	if got[0].Score != dateMatchScore {
		t.Errorf("Score = %v, want %v for a date-only match", got[0].Score, dateMatchScore)
	}
}

func TestRetrieve_MultiFilterScoreStacksDiscounted(t *testing.T) {
	store := &stubTxStore{txs: []domain.Transaction{
		{ID: "t1", Date: day(10), Amount: 20, Direction: domain.DirectionExpense, Vendor: "Starbucks", CategoryID: "cat-dining"},
	}}
	e := testEngine(store, &stubVectorStore{}, &stubEmbedder{ready: false})

	got, err := e.Retrieve(context.Background(), "Starbucks dining in January", classification(domain.ExtractedEntities{
		DateRange:  janRange(),
		Vendors:    []string{"Starbucks"},
		Categories: []string{"dining"},
		Direction:  domain.DirectionExpense,
	}))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Retrieve() returned %d results, want 1", len(got))
	}
	// vendor 0.7 + (0.6 + 0.6) * 0.3 = 1.06, capped at 1.0.
	if got[0].Score != 1.0 {
		t.Errorf("Score = %v, want 1.0 (capped)", got[0].Score)
	}
}

func TestRetrieve_BlendsBothPaths(t *testing.T) {
	store := &stubTxStore{txs: []domain.Transaction{
		{ID: "both", Date: day(10), Amount: 20, Direction: domain.DirectionExpense, Vendor: "Starbucks"},
		{ID: "semantic-only", Date: day(11), Amount: 15, Direction: domain.DirectionExpense, Vendor: "Blue Bottle"},
	}}
	vecs := &stubVectorStore{results: []vectorstore.SearchResult{
		{PointID: "both", Score: 0.9},
		{PointID: "semantic-only", Score: 0.5},
	}}
	e := testEngine(store, vecs, &stubEmbedder{ready: true})

	got, err := e.Retrieve(context.Background(), "coffee at Starbucks", classification(domain.ExtractedEntities{
		Vendors:   []string{"Starbucks"},
		Direction: domain.DirectionExpense,
	}))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Retrieve() = %v, want 2 results", ids(got))
	}
	if got[0].Tx.ID != "both" {
		t.Errorf("top result = %q, want the cross-path match first", got[0].Tx.ID)
	}
	// structured 0.7 * 0.4 + semantic 0.9 * 0.6 + 0.1 bonus = 0.92. The
	// semantic score travels as float32, so allow its rounding error.
	want := 0.7*blendExistingWeight + 0.9*blendNewWeight + blendBothBonus
	if diff := got[0].Score - want; diff > 1e-7 || diff < -1e-7 {
		t.Errorf("blended score = %v, want %v", got[0].Score, want)
	}
	if got[1].Tx.ID != "semantic-only" || got[1].Score != 0.5 {
		t.Errorf("second result = %q score %v, want semantic-only at 0.5", got[1].Tx.ID, got[1].Score)
	}
}

func TestRetrieve_AmountBounds(t *testing.T) {
	store := &stubTxStore{txs: []domain.Transaction{
		{ID: "small", Date: day(1), Amount: 10, Direction: domain.DirectionExpense, Vendor: "A"},
		{ID: "big", Date: day(2), Amount: 500, Direction: domain.DirectionExpense, Vendor: "B"},
	}}
	e := testEngine(store, &stubVectorStore{}, &stubEmbedder{ready: false})

	minAmt := 100.0
	got, err := e.Retrieve(context.Background(), "purchases over 100", classification(domain.ExtractedEntities{
		AmountMin: &minAmt,
		Direction: domain.DirectionExpense,
	}))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || got[0].Tx.ID != "big" {
		t.Errorf("Retrieve() = %v, want only the transaction over the bound", ids(got))
	}
}

func TestRetrieve_CategoryFilterDropsOtherCategories(t *testing.T) {
	store := &stubTxStore{txs: []domain.Transaction{
		{ID: "dining-tx", Date: day(5), Amount: 40, Direction: domain.DirectionExpense, Vendor: "Bistro", CategoryID: "cat-dining"},
		{ID: "rent-tx", Date: day(1), Amount: 1200, Direction: domain.DirectionExpense, Vendor: "Acme Property", CategoryID: "cat-rent"},
	}}
	e := testEngine(store, &stubVectorStore{}, &stubEmbedder{ready: false})

	got, err := e.Retrieve(context.Background(), "dining spending in January", classification(domain.ExtractedEntities{
		DateRange:  janRange(),
		Categories: []string{"dining"},
		Direction:  domain.DirectionExpense,
	}))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || got[0].Tx.ID != "dining-tx" {
		t.Errorf("Retrieve() = %v, want only the dining transaction; other categories must be filtered, not just down-scored", ids(got))
	}
}

func TestRetrieve_UncategorizedVendorKeywordFallback(t *testing.T) {
	store := &stubTxStore{txs: []domain.Transaction{
		{ID: "tagged", Date: day(1), Amount: 12, Direction: domain.DirectionExpense, Vendor: "Bistro", CategoryID: "cat-dining"},
		{ID: "untagged", Date: day(2), Amount: 8, Direction: domain.DirectionExpense, Vendor: "Starbucks", CategoryID: ""},
	}}
	e := testEngine(store, &stubVectorStore{}, &stubEmbedder{ready: false})

	got, err := e.Retrieve(context.Background(), "how much on dining and starbucks coffee", classification(domain.ExtractedEntities{
		DateRange:  janRange(),
		Categories: []string{"dining"},
		Keywords:   []string{"dining", "starbucks", "coffee"},
		Direction:  domain.DirectionExpense,
	}))
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	found := ids(got)
	sort.Strings(found)
	if len(found) != 2 || found[0] != "tagged" || found[1] != "untagged" {
		t.Errorf("Retrieve() = %v, want both the tagged and keyword-matched untagged transactions", found)
	}
}

func ids(sts []ScoredTransaction) []string {
	out := make([]string, len(sts))
	for i, st := range sts {
		out[i] = st.Tx.ID
	}
	return out
}
