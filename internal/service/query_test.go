package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"ledgerchat/internal/aggregate"
	"ledgerchat/internal/classify"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/llm"
	"ledgerchat/internal/retrieval"
	"ledgerchat/internal/service"
	"ledgerchat/internal/service/mocks"
	"ledgerchat/internal/session"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// memTxStore is an in-memory TransactionStore for pipeline tests.
type memTxStore struct {
	txs []domain.Transaction
}

func (s *memTxStore) Insert(ctx context.Context, tx *domain.Transaction) error { return nil }

func (s *memTxStore) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	for i := range s.txs {
		if s.txs[i].ID == id {
			cp := s.txs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memTxStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *memTxStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, tx := range s.txs {
		if !tx.Date.Before(start) && !tx.Date.After(end) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memTxStore) ListByVendor(ctx context.Context, vendor string) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *memTxStore) ListByCategory(ctx context.Context, categoryID string) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *memTxStore) ListAll(ctx context.Context) ([]domain.Transaction, error) {
	return append([]domain.Transaction(nil), s.txs...), nil
}

func (s *memTxStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return nil, nil
}

func (s *memTxStore) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	return nil
}

// januaryStore seeds two January expenses totaling $30 for the current year,
// so "in January" queries resolve onto them.
func januaryStore() *memTxStore {
	year := time.Now().Year()
	return &memTxStore{txs: []domain.Transaction{
		{
			ID:        "t1",
			Date:      time.Date(year, time.January, 5, 12, 0, 0, 0, time.UTC),
			Amount:    10,
			Direction: domain.DirectionExpense,
			Vendor:    "Cafe Uno",
			Currency:  "USD",
		},
		{
			ID:        "t2",
			Date:      time.Date(year, time.January, 9, 12, 0, 0, 0, time.UTC),
			Amount:    20,
			Direction: domain.DirectionExpense,
			Vendor:    "Grocer",
			Currency:  "USD",
		},
	}}
}

func newService(store *memTxStore, gen service.Generator) *service.QueryService {
	classifier := classify.NewClassifier(nil, nil)
	retriever := retrieval.NewEngine(store, nil, nil, "transactions", nil, aggregate.ContextBudget)
	aggregates := aggregate.NewComputer(store, nil, nil)
	return service.NewQueryService(classifier, retriever, aggregates, session.NewManager(), gen, nil)
}

func TestProcessQuery_Validation(t *testing.T) {
	svc := newService(januaryStore(), nil)

	_, err := svc.ProcessQuery(context.Background(), "s1", "")
	var verr *service.ValidationError
	if !errors.As(err, &verr) || verr.Field != "query" {
		t.Errorf("ProcessQuery(empty) error = %v, want ValidationError on query", err)
	}

	_, err = svc.ProcessQuery(context.Background(), "", "how much did I spend")
	if !errors.As(err, &verr) || verr.Field != "sessionId" {
		t.Errorf("ProcessQuery(no session) error = %v, want ValidationError on sessionId", err)
	}
}

func TestProcessQuery_HappyPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		Return(&llm.Result{
			Text:      "You spent a total of $30.00 in January.",
			Followups: []string{"Break it down by vendor?"},
		}, nil)

	svc := newService(januaryStore(), gen)
	resp, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}

	if resp.OfflineGenerated {
		t.Error("OfflineGenerated = true, want model-generated answer")
	}
	if resp.WasCorrected {
		t.Error("WasCorrected = true for an accurate total")
	}
	if len(resp.SuggestedFollowups) != 1 {
		t.Errorf("SuggestedFollowups = %v, want the model's follow-up", resp.SuggestedFollowups)
	}
	if resp.VerifiedData == nil || resp.VerifiedData.TotalExpenses != 30 {
		t.Errorf("VerifiedData = %+v, want total expenses 30", resp.VerifiedData)
	}
	if len(resp.Citations) == 0 || len(resp.Citations) > 5 {
		t.Errorf("len(Citations) = %d, want 1..5", len(resp.Citations))
	}
	if resp.ResponseTimeMs < 0 {
		t.Errorf("ResponseTimeMs = %d", resp.ResponseTimeMs)
	}

	history := svc.History("s1")
	if len(history) != 2 || history[0].Role != domain.RoleUser || history[1].Role != domain.RoleAssistant {
		t.Errorf("History() = %v, want user and assistant turns recorded", history)
	}
}

func TestProcessQuery_CorrectsHallucinatedTotal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		Return(&llm.Result{Text: "You spent a total of $25.00 in January."}, nil)

	svc := newService(januaryStore(), gen)
	resp, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}

	if !resp.WasCorrected {
		t.Fatal("WasCorrected = false, want hallucinated total corrected")
	}
	if !strings.Contains(resp.Text, "$30.00") {
		t.Errorf("Text = %q, want verified total substituted", resp.Text)
	}
}

func TestProcessQuery_GeneratorFailureFallsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		Return(nil, &llm.Error{Kind: llm.KindTransient, Op: "llm.Generate", Err: errors.New("connection refused")})

	svc := newService(januaryStore(), gen)
	resp, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v, pipeline must not fail past its boundary", err)
	}

	if !resp.OfflineGenerated {
		t.Error("OfflineGenerated = false, want templated fallback")
	}
	if !strings.Contains(resp.Text, "$30.00") {
		t.Errorf("Text = %q, want verified figures in the fallback", resp.Text)
	}
	if len(resp.SuggestedFollowups) == 0 {
		t.Error("SuggestedFollowups is empty, want generic suggestions with the fallback answer")
	}
}

func TestProcessQuery_SafetyRejectionAbortsTurn(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		Return(nil, &llm.Error{Kind: llm.KindSafety, Op: "llm.CheckPayload", Err: errors.New("payload contains an embedding-like vector")})

	svc := newService(januaryStore(), gen)
	resp, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January")
	if err == nil {
		t.Fatal("ProcessQuery() error = nil, want safety rejection surfaced")
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil on an aborted turn", resp)
	}
}

func TestProcessQuery_NoGeneratorIsOffline(t *testing.T) {
	svc := newService(januaryStore(), nil)
	resp, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	if !resp.OfflineGenerated {
		t.Error("OfflineGenerated = false without a generator")
	}
	if len(resp.SuggestedFollowups) == 0 {
		t.Error("SuggestedFollowups is empty, want generic suggestions in offline mode")
	}
}

func TestProcessQuery_SelfContainedQueryDoesNotInherit(t *testing.T) {
	store := januaryStore()
	year := time.Now().Year()
	store.txs = append(store.txs, domain.Transaction{
		ID:        "t3",
		Date:      time.Date(year, time.February, 3, 12, 0, 0, 0, time.UTC),
		Amount:    50,
		Direction: domain.DirectionExpense,
		Vendor:    "Hardware Store",
		Currency:  "USD",
	})
	svc := newService(store, nil)

	resp, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	if resp.VerifiedData == nil || resp.VerifiedData.TotalExpenses != 30 {
		t.Fatalf("VerifiedData = %+v, want January's 30", resp.VerifiedData)
	}

	// The second question stands on its own, so January's date range must
	// not leak into it.
	resp, err = svc.ProcessQuery(context.Background(), "s1", "how much did I spend")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	if resp.VerifiedData == nil || resp.VerifiedData.TotalExpenses != 80 {
		t.Errorf("VerifiedData = %+v, want all 80 without the inherited January range", resp.VerifiedData)
	}
}

func TestProcessQuery_FollowUpInheritsEntities(t *testing.T) {
	svc := newService(januaryStore(), nil)

	if _, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January"); err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	resp, err := svc.ProcessQuery(context.Background(), "s1", "and how much was that altogether?")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	if resp.VerifiedData == nil || resp.VerifiedData.TotalExpenses != 30 {
		t.Errorf("VerifiedData = %+v, want the follow-up scoped to January's 30", resp.VerifiedData)
	}
}

func TestProcessQueryStream(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	gen := mocks.NewMockGenerator(ctrl)
	gen.EXPECT().
		GenerateStream(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p llm.Prompt, onChunk func(string)) (*llm.Result, error) {
			onChunk("You spent ")
			onChunk("a total of $30.00.")
			return &llm.Result{Text: "You spent a total of $30.00."}, nil
		})

	svc := newService(januaryStore(), gen)

	var chunks []service.StreamChunk
	resp, err := svc.ProcessQueryStream(context.Background(), "s1", "how much did I spend in January", func(c service.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessQueryStream() error = %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("received %d chunks, want 2 deltas plus the final", len(chunks))
	}
	final := chunks[len(chunks)-1]
	if !final.IsFinal || final.Text != resp.Text {
		t.Errorf("final chunk = %+v, want IsFinal with the full verified text", final)
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.IsFinal {
			t.Error("intermediate chunk marked final")
		}
	}
}

func TestProcessQuery_CitationsRankedByRelevance(t *testing.T) {
	// A superlative question reorders the selected context by amount; the
	// citations still come out most relevant first.
	svc := newService(januaryStore(), nil)
	resp, err := svc.ProcessQuery(context.Background(), "s1", "what was my biggest purchase at Cafe Uno in January")
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	if len(resp.Citations) < 2 {
		t.Fatalf("len(Citations) = %d, want both transactions cited", len(resp.Citations))
	}
	for i := 1; i < len(resp.Citations); i++ {
		if resp.Citations[i].RelevanceScore > resp.Citations[i-1].RelevanceScore {
			t.Fatalf("citations out of order: %v before %v",
				resp.Citations[i-1].RelevanceScore, resp.Citations[i].RelevanceScore)
		}
	}
	if resp.Citations[0].TransactionID != "t1" {
		t.Errorf("top citation = %q, want the vendor-matched t1 despite the amount ordering", resp.Citations[0].TransactionID)
	}
}

func TestClearHistory(t *testing.T) {
	svc := newService(januaryStore(), nil)
	if _, err := svc.ProcessQuery(context.Background(), "s1", "how much did I spend in January"); err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	if len(svc.History("s1")) == 0 {
		t.Fatal("no history recorded")
	}

	svc.ClearHistory("s1")
	if len(svc.History("s1")) != 0 {
		t.Error("ClearHistory() left messages behind")
	}
}

func TestSuggestedQueries(t *testing.T) {
	svc := newService(januaryStore(), nil)
	got := svc.SuggestedQueries(context.Background())
	if len(got) < 3 {
		t.Errorf("SuggestedQueries() = %v, want at least the starter set", got)
	}
	for i, s := range got {
		if s == "" {
			t.Errorf("suggestion %d is empty", i)
		}
	}
}
