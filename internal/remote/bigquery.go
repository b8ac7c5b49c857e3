package remote

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"ledgerchat/internal/domain"
)

// BigQueryAggregator answers aggregate cross-check queries against a
// warehouse copy of the ledger. It exists to detect sync drift between the
// local database and the warehouse; local numbers always remain
// authoritative.
type BigQueryAggregator struct {
	client  *bigquery.Client
	dataset string
}

// NewBigQueryAggregator connects to the project's warehouse. Credentials come
// from the ambient application-default chain.
func NewBigQueryAggregator(ctx context.Context, projectID, dataset string) (*BigQueryAggregator, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return &BigQueryAggregator{client: client, dataset: dataset}, nil
}

// TotalsForRange sums expenses and income over the range in the warehouse.
// The direction tag wins; the amount sign only classifies untagged rows,
// matching how Flow() resolves direction locally.
func (a *BigQueryAggregator) TotalsForRange(ctx context.Context, r domain.DateRange) (expenses, income float64, err error) {
	q := a.client.Query(totalsQuery(a.dataset))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start", Value: r.Start},
		{Name: "end", Value: r.End},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("warehouse totals query failed: %w", err)
	}

	var row struct {
		Income   float64 `bigquery:"income"`
		Expenses float64 `bigquery:"expenses"`
	}
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read warehouse totals: %w", err)
	}
	return row.Expenses, row.Income, nil
}

// untagged matches rows whose direction tag resolves nothing, leaving the
// amount sign to classify them the way Flow() does locally.
const untagged = "COALESCE(direction, '') NOT IN ('income', 'expense')"

func totalsQuery(dataset string) string {
	return fmt.Sprintf(`
		SELECT
			COALESCE(SUM(IF(direction = 'income' OR (%[1]s AND amount < 0), ABS(amount), 0)), 0) AS income,
			COALESCE(SUM(IF(direction = 'expense' OR (%[1]s AND amount >= 0), ABS(amount), 0)), 0) AS expenses
		FROM %[2]s.transactions
		WHERE date BETWEEN @start AND @end`, untagged, dataset)
}

// Close releases the underlying client.
func (a *BigQueryAggregator) Close() error {
	return a.client.Close()
}
