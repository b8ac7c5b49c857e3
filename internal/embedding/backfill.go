package embedding

import (
	"context"
	"fmt"
	"strings"

	"ledgerchat/internal/contextutil"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/storage"
	"ledgerchat/internal/vectorstore"
)

// backfillBatchSize is the number of transactions read per pass; batches are
// processed sequentially to bound memory.
const backfillBatchSize = 64

// Backfill embeds transactions that still carry the placeholder vector and
// upserts them into the vector index. All writes are keyed by transaction ID,
// so a retried partial batch cannot corrupt state, and re-running over an
// already-backfilled dataset performs zero writes.
type Backfill struct {
	txRepo     storage.TransactionStore
	embedder   Embedder
	vectors    vectorstore.VectorStore
	collection string
	catNames   map[string]string
}

// NewBackfill creates a backfill pipeline. catNames maps category IDs to
// display names used in the embedded summary text.
func NewBackfill(
	txRepo storage.TransactionStore,
	embedder Embedder,
	vectors vectorstore.VectorStore,
	collection string,
	catNames map[string]string,
) *Backfill {
	return &Backfill{
		txRepo:     txRepo,
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
		catNames:   catNames,
	}
}

// Run processes placeholder-embedded transactions in sequential batches and
// returns how many were backfilled. Each batch is upserted into the vector
// index before the rows are marked embedded, so a crash between the two leaves
// rows still listed as missing rather than marked but unindexed. A per-row
// mark failure is logged and retried on the next run.
func (b *Backfill) Run(ctx context.Context) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	attempted := make(map[string]bool)
	var total int
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		batch, err := b.txRepo.ListMissingEmbeddings(ctx, backfillBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list unembedded transactions: %w", err)
		}
		// Rows whose mark keeps failing stay listed as missing; skip anything
		// already attempted this run so the loop always terminates.
		fresh := make([]domain.Transaction, 0, len(batch))
		for _, tx := range batch {
			if !attempted[tx.ID] {
				attempted[tx.ID] = true
				fresh = append(fresh, tx)
			}
		}
		if len(fresh) == 0 {
			break
		}

		texts := make([]string, len(fresh))
		for i, tx := range fresh {
			texts[i] = SummaryText(&tx, b.catNames[tx.CategoryID])
		}

		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(vecs) != len(fresh) {
			return total, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(fresh), len(vecs))
		}

		points := make([]vectorstore.Point, len(fresh))
		for i, tx := range fresh {
			points[i] = vectorstore.Point{
				ID:  tx.ID,
				Vec: vecs[i],
				Meta: map[string]any{
					"vendor":    tx.Vendor,
					"category":  b.catNames[tx.CategoryID],
					"direction": string(tx.Flow()),
					"date":      tx.Date.Format("2006-01-02"),
					"amount":    tx.Amount,
				},
			}
		}
		if err := b.vectors.Upsert(ctx, b.collection, points); err != nil {
			return total, fmt.Errorf("failed to upsert vectors: %w", err)
		}

		var marked int
		for i, tx := range fresh {
			if err := b.txRepo.UpdateEmbedding(ctx, tx.ID, vecs[i]); err != nil {
				logger.WarnContext(ctx, "failed to mark embedding, will retry next run", "transaction_id", tx.ID, "error", err)
				continue
			}
			marked++
		}

		total += marked
		logger.InfoContext(ctx, "backfilled embeddings", "batch", marked, "total", total)
	}

	return total, nil
}

// SummaryText composes the short text embedded for a transaction. Raw
// document text never enters the index; only these composed summaries do.
func SummaryText(tx *domain.Transaction, categoryName string) string {
	var sb strings.Builder
	if tx.Vendor != "" {
		sb.WriteString(tx.Vendor)
	}
	if categoryName != "" {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(categoryName)
	}
	if tx.Note != "" {
		if sb.Len() > 0 {
			sb.WriteString(". ")
		}
		sb.WriteString(tx.Note)
	}
	if sb.Len() > 0 {
		sb.WriteString(". ")
	}
	fmt.Fprintf(&sb, "%s of %.2f %s on %s",
		tx.Flow(), tx.AbsAmount(), tx.Currency, tx.Date.Format("2006-01-02"))
	return sb.String()
}
