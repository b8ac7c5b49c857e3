package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ledgerchat/internal/contextutil"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/embedding"
	"ledgerchat/internal/storage"
	"ledgerchat/internal/vectorstore"
)

const (
	// Base relevance scores per matched structured filter.
	dateMatchScore     = 0.6
	vendorMatchScore   = 0.7
	categoryMatchScore = 0.6

	// extraFilterWeight discounts each matched filter beyond the strongest one.
	extraFilterWeight = 0.3

	// Blend weights when a transaction surfaces on both retrieval paths. The
	// fixed bonus rewards cross-path agreement.
	blendExistingWeight = 0.4
	blendNewWeight      = 0.6
	blendBothBonus      = 0.1

	// minSemanticScore drops weak vector matches.
	minSemanticScore = 0.3

	// semanticCandidateFactor sizes the vector search relative to the
	// downstream context budget.
	semanticCandidateFactor = 2
)

// ScoredTransaction pairs a transaction with its retrieval relevance.
type ScoredTransaction struct {
	Tx    domain.Transaction
	Score float64
}

// Engine runs structured and semantic retrieval concurrently and merges the
// results into a single ranked list. The list is unbounded; context selection
// applies the budget.
type Engine struct {
	txRepo     storage.TransactionStore
	embedder   embedding.Embedder
	vectors    vectorstore.VectorStore
	collection string

	// categoryIDs maps lowercased category names to their IDs.
	categoryIDs map[string]string

	contextBudget int
}

// NewEngine creates a retrieval engine. categoryIDs maps lowercased category
// names to IDs and may be nil when the ledger has no categories.
func NewEngine(
	txRepo storage.TransactionStore,
	embedder embedding.Embedder,
	vectors vectorstore.VectorStore,
	collection string,
	categoryIDs map[string]string,
	contextBudget int,
) *Engine {
	return &Engine{
		txRepo:        txRepo,
		embedder:      embedder,
		vectors:       vectors,
		collection:    collection,
		categoryIDs:   categoryIDs,
		contextBudget: contextBudget,
	}
}

// Retrieve runs both paths and returns transactions ranked by blended score,
// descending. Semantic failures degrade to structured-only results; an error
// is returned only when no path produced anything usable.
func (e *Engine) Retrieve(ctx context.Context, query string, cls domain.QueryClassification) ([]ScoredTransaction, error) {
	logger := contextutil.LoggerFromContext(ctx)

	var (
		wg            sync.WaitGroup
		structured    []ScoredTransaction
		structuredErr error
		semantic      []ScoredTransaction
		semanticErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		structured, structuredErr = e.retrieveStructured(ctx, cls.Entities)
	}()
	go func() {
		defer wg.Done()
		if !cls.NeedsLocalSearch {
			return
		}
		semantic, semanticErr = e.retrieveSemantic(ctx, query, cls.Entities)
	}()
	wg.Wait()

	if semanticErr != nil {
		logger.WarnContext(ctx, "semantic retrieval failed, using structured results only", "error", semanticErr)
	}
	if structuredErr != nil {
		if semanticErr != nil || len(semantic) == 0 {
			return nil, fmt.Errorf("retrieval failed: %w", structuredErr)
		}
		logger.WarnContext(ctx, "structured retrieval failed, using semantic results only", "error", structuredErr)
	}

	merged := mergeScored(structured, semantic)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

// retrieveStructured fetches candidates via the narrowest available SQL path
// and scores them by how many query filters each one satisfies.
func (e *Engine) retrieveStructured(ctx context.Context, ents domain.ExtractedEntities) ([]ScoredTransaction, error) {
	candidates, err := e.structuredCandidates(ctx, ents)
	if err != nil {
		return nil, err
	}

	var out []ScoredTransaction
	for _, tx := range candidates {
		if !matchesConstraints(&tx, ents, e.categoryIDs) {
			continue
		}
		score := structuredScore(&tx, ents, e.categoryIDs)
		if score <= 0 {
			continue
		}
		out = append(out, ScoredTransaction{Tx: tx, Score: score})
	}
	return out, nil
}

// structuredCandidates picks the most selective index available.
func (e *Engine) structuredCandidates(ctx context.Context, ents domain.ExtractedEntities) ([]domain.Transaction, error) {
	switch {
	case ents.DateRange != nil:
		return e.txRepo.ListByDateRange(ctx, ents.DateRange.Start, ents.DateRange.End)
	case len(ents.Vendors) > 0:
		var all []domain.Transaction
		seen := make(map[string]bool)
		for _, v := range ents.Vendors {
			txs, err := e.txRepo.ListByVendor(ctx, v)
			if err != nil {
				return nil, err
			}
			for _, tx := range txs {
				if !seen[tx.ID] {
					seen[tx.ID] = true
					all = append(all, tx)
				}
			}
		}
		return all, nil
	case len(ents.Categories) > 0:
		var all []domain.Transaction
		seen := make(map[string]bool)
		for _, name := range ents.Categories {
			id, ok := e.categoryIDs[strings.ToLower(name)]
			if !ok {
				continue
			}
			txs, err := e.txRepo.ListByCategory(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, tx := range txs {
				if !seen[tx.ID] {
					seen[tx.ID] = true
					all = append(all, tx)
				}
			}
		}
		return all, nil
	default:
		return e.txRepo.ListAll(ctx)
	}
}

// retrieveSemantic searches the vector index and hydrates matches from SQL.
// Hard constraints still apply to semantic hits.
func (e *Engine) retrieveSemantic(ctx context.Context, query string, ents domain.ExtractedEntities) ([]ScoredTransaction, error) {
	if e.embedder == nil || !e.embedder.IsReady() {
		return nil, nil
	}

	queryVec, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	k := semanticCandidateFactor * e.contextBudget
	results, err := e.vectors.Search(ctx, e.collection, queryVec, k, minSemanticScore)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]string, len(results))
	scores := make(map[string]float64, len(results))
	for i, r := range results {
		ids[i] = r.PointID
		scores[r.PointID] = float64(r.Score)
	}

	txs, err := e.txRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate semantic matches: %w", err)
	}

	var out []ScoredTransaction
	for _, tx := range txs {
		if !matchesConstraints(&tx, ents, e.categoryIDs) {
			continue
		}
		out = append(out, ScoredTransaction{Tx: tx, Score: scores[tx.ID]})
	}
	return out, nil
}

// mergeScored unions both result lists by transaction ID. A transaction found
// by both paths gets a blended score with a cross-path bonus, capped at 1.0.
func mergeScored(structured, semantic []ScoredTransaction) []ScoredTransaction {
	byID := make(map[string]int, len(structured))
	merged := make([]ScoredTransaction, 0, len(structured)+len(semantic))

	for _, st := range structured {
		byID[st.Tx.ID] = len(merged)
		merged = append(merged, st)
	}
	for _, sem := range semantic {
		if i, ok := byID[sem.Tx.ID]; ok {
			blended := merged[i].Score*blendExistingWeight + sem.Score*blendNewWeight + blendBothBonus
			merged[i].Score = min(blended, 1.0)
			continue
		}
		merged = append(merged, sem)
	}
	return merged
}
