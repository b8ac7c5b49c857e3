package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_generator.go -package=mocks ledgerchat/internal/service Generator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledgerchat/internal/aggregate"
	"ledgerchat/internal/classify"
	"ledgerchat/internal/contextutil"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/llm"
	"ledgerchat/internal/retrieval"
	"ledgerchat/internal/session"
)

// maxCitations caps the evidence surfaced with each answer.
const maxCitations = 5

// Generator produces answers from an assembled prompt. Defined here,
// consumer-first; the Gemini client satisfies it.
type Generator interface {
	Generate(ctx context.Context, p llm.Prompt) (*llm.Result, error)
	GenerateStream(ctx context.Context, p llm.Prompt, onChunk func(text string)) (*llm.Result, error)
}

// StreamChunk is one unit of a streamed answer. The final chunk carries the
// complete, verified text (corrections happen after streaming finishes).
type StreamChunk struct {
	Text    string
	IsFinal bool
}

// QueryService runs the full question pipeline: reformulate, classify,
// retrieve, aggregate, generate, verify. It degrades instead of failing: a
// missing or erroring generator yields a templated answer built from
// verified data, never an error to the caller.
type QueryService struct {
	classifier *classify.Classifier
	retriever  *retrieval.Engine
	aggregates *aggregate.Computer
	sessions   *session.Manager
	generator  Generator // nil means offline answers only

	// categoryNames maps category IDs to display names for prompts.
	categoryNames map[string]string
}

// NewQueryService wires the pipeline. generator may be nil; categoryNames maps
// category IDs to names and may be nil.
func NewQueryService(
	classifier *classify.Classifier,
	retriever *retrieval.Engine,
	aggregates *aggregate.Computer,
	sessions *session.Manager,
	generator Generator,
	categoryNames map[string]string,
) *QueryService {
	return &QueryService{
		classifier:    classifier,
		retriever:     retriever,
		aggregates:    aggregates,
		sessions:      sessions,
		generator:     generator,
		categoryNames: categoryNames,
	}
}

// ProcessQuery answers one question in a session.
func (s *QueryService) ProcessQuery(ctx context.Context, sessionID, query string) (*domain.QueryResponse, error) {
	return s.process(ctx, sessionID, query, nil)
}

// ProcessQueryStream answers one question, streaming text as it is
// generated. The final chunk carries the full corrected answer; clients
// should replace their accumulated text with it.
func (s *QueryService) ProcessQueryStream(ctx context.Context, sessionID, query string, onChunk func(StreamChunk) error) (*domain.QueryResponse, error) {
	return s.process(ctx, sessionID, query, onChunk)
}

func (s *QueryService) process(ctx context.Context, sessionID, query string, onChunk func(StreamChunk) error) (*domain.QueryResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	if query == "" {
		return nil, &ValidationError{Field: "query", Message: "cannot be empty"}
	}
	if sessionID == "" {
		return nil, &ValidationError{Field: "sessionId", Message: "cannot be empty"}
	}

	history := s.sessions.History(sessionID)
	effective, rewritten := classify.Reformulate(query, history)
	if rewritten {
		logger.DebugContext(ctx, "reformulated follow-up", "original", query, "effective", effective)
	}

	cls := s.classifier.Classify(ctx, effective)
	if rewritten {
		// Only detected follow-ups inherit entities; a self-contained
		// question must not drag in the previous turn's filters.
		cls.Entities = session.MergeEntities(cls.Entities, s.sessions.LastEntities(sessionID))
	}

	ranked, err := s.retriever.Retrieve(ctx, effective, cls)
	if err != nil {
		// Degrade: aggregates and generation still work without context.
		logger.WarnContext(ctx, "retrieval failed, answering without transaction context", "error", err)
		ranked = nil
	}
	selected := aggregate.SelectContext(ranked, cls)

	var data *domain.VerifiedFinancialData
	if cls.NeedsAggregateLookup {
		data, err = s.aggregates.Compute(ctx, cls.Entities)
		if err != nil {
			logger.WarnContext(ctx, "aggregate computation failed", "error", err)
			data = nil
		}
	}

	resp, err := s.generate(ctx, effective, cls, data, selected, history, onChunk)
	if err != nil {
		return nil, err
	}
	resp.Citations = buildCitations(selected)
	resp.VerifiedData = data
	resp.ResponseTimeMs = time.Since(start).Milliseconds()

	s.record(sessionID, query, cls, resp)

	if onChunk != nil {
		if err := onChunk(StreamChunk{Text: resp.Text, IsFinal: true}); err != nil {
			return resp, WrapError(err, "failed to deliver final chunk")
		}
	}
	logger.InfoContext(ctx, "query processed",
		"intent", cls.Intent, "offline", resp.OfflineGenerated,
		"corrected", resp.WasCorrected, "duration_ms", resp.ResponseTimeMs)
	return resp, nil
}

// generate runs the model (streaming when onChunk is set) and verifies the
// answer against ground truth. Transient generation failures fall back to a
// templated offline answer; payload-safety and configuration failures abort
// the turn.
func (s *QueryService) generate(
	ctx context.Context,
	query string,
	cls domain.QueryClassification,
	data *domain.VerifiedFinancialData,
	selected []retrieval.ScoredTransaction,
	history []domain.ChatMessage,
	onChunk func(StreamChunk) error,
) (*domain.QueryResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	var result *llm.Result
	if s.generator != nil {
		prompt := llm.BuildPrompt(query, cls, data, transactions(selected), s.categoryNames, history)
		var err error
		if onChunk != nil {
			result, err = s.generator.GenerateStream(ctx, prompt, func(text string) {
				_ = onChunk(StreamChunk{Text: text})
			})
		} else {
			result, err = s.generator.Generate(ctx, prompt)
		}
		if err != nil {
			switch kind := llm.KindOf(err); kind {
			case llm.KindSafety, llm.KindConfiguration:
				logger.ErrorContext(ctx, "generation aborted", "kind", kind, "error", err)
				return nil, WrapError(err, "generation aborted")
			default:
				logger.WarnContext(ctx, "generation failed, falling back to templated answer",
					"kind", kind, "error", err)
				result = nil
			}
		}
	}

	if result == nil {
		fallback := llm.FallbackAnswer(cls, data)
		return &domain.QueryResponse{
			Text:               fallback.Text,
			SuggestedFollowups: fallback.Followups,
			OfflineGenerated:   true,
		}, nil
	}

	text, corrected := aggregate.VerifyAndCorrect(result.Text, data, cls.Entities.Direction)
	if corrected {
		logger.WarnContext(ctx, "corrected hallucinated total in generated answer")
	}
	return &domain.QueryResponse{
		Text:               text,
		SuggestedFollowups: result.Followups,
		WasCorrected:       corrected,
	}, nil
}

// record appends both turns to history and stores the classification for
// follow-up inheritance.
func (s *QueryService) record(sessionID, query string, cls domain.QueryClassification, resp *domain.QueryResponse) {
	s.sessions.Append(sessionID, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: query,
		Intent:  cls.Intent,
	})
	s.sessions.Append(sessionID, domain.ChatMessage{
		Role:               domain.RoleAssistant,
		Content:            resp.Text,
		Citations:          resp.Citations,
		Intent:             cls.Intent,
		SuggestedFollowups: resp.SuggestedFollowups,
	})
	s.sessions.RecordClassification(sessionID, cls, cls.Entities)
}

// History returns the session's conversation so far.
func (s *QueryService) History(sessionID string) []domain.ChatMessage {
	return s.sessions.History(sessionID)
}

// ClearHistory drops all conversation state for the session.
func (s *QueryService) ClearHistory(sessionID string) {
	s.sessions.Clear(sessionID)
}

// SuggestedQueries returns starter questions, personalized with the ledger's
// top categories when aggregates are available.
func (s *QueryService) SuggestedQueries(ctx context.Context) []string {
	suggestions := []string{
		"How much did I spend last month?",
		"What was my biggest purchase this month?",
		"How does this month compare to last month?",
	}

	data, err := s.aggregates.Compute(ctx, domain.ExtractedEntities{})
	if err != nil || data.Count == 0 {
		return suggestions
	}
	var topCat string
	var topTotal float64
	for cat, total := range data.ByCategory {
		if cat == "uncategorized" {
			continue
		}
		if total > topTotal || (total == topTotal && (topCat == "" || cat < topCat)) {
			topCat, topTotal = cat, total
		}
	}
	if topCat != "" {
		suggestions = append(suggestions, fmt.Sprintf("How much did I spend on %s this year?", topCat))
	}
	return suggestions
}

func buildCitations(selected []retrieval.ScoredTransaction) []domain.Citation {
	// Context selection may reorder by amount or date; citations always come
	// out most relevant first.
	ranked := append([]retrieval.ScoredTransaction(nil), selected...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	n := min(len(ranked), maxCitations)
	citations := make([]domain.Citation, 0, n)
	for _, st := range ranked[:n] {
		tx := st.Tx
		label := tx.Vendor
		if label == "" {
			label = tx.Note
		}
		citations = append(citations, domain.Citation{
			TransactionID:  tx.ID,
			RelevanceScore: st.Score,
			Snippet:        fmt.Sprintf("%s %s %.2f %s", tx.Date.Format("2006-01-02"), tx.Flow(), tx.AbsAmount(), tx.Currency),
			Label:          label,
			Date:           tx.Date,
			Amount:         tx.Amount,
			Vendor:         tx.Vendor,
		})
	}
	return citations
}

func transactions(selected []retrieval.ScoredTransaction) []domain.Transaction {
	txs := make([]domain.Transaction, len(selected))
	for i, st := range selected {
		txs[i] = st.Tx
	}
	return txs
}
