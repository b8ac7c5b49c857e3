package llm

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"ledgerchat/internal/domain"
)

const (
	// historyTurns is how many prior exchanges enter the prompt.
	historyTurns = 6

	// followupPrefix marks the structured follow-up lines the model is
	// instructed to emit after its answer.
	followupPrefix = "FOLLOWUP:"

	// MaxFollowups caps suggested follow-up questions per response.
	MaxFollowups = 3
)

const systemInstruction = `You are a personal finance assistant answering questions about the user's own transaction ledger.

Rules:
- Use ONLY the VERIFIED TOTALS and TRANSACTIONS provided below. Never invent amounts, vendors or dates.
- When stating an overall total, use the exact figure from VERIFIED TOTALS.
- Amounts are in the transaction currency; format them with a currency symbol and two decimals.
- Be concise and direct. Answer the question first, detail after.
- After your answer, suggest up to 3 short follow-up questions, each on its own line starting with "FOLLOWUP: ".`

// Prompt is an assembled generation request.
type Prompt struct {
	System string
	User   string
	Intent domain.Intent
}

// Result is the parsed model output: answer text with the structured
// follow-up lines split out.
type Result struct {
	Text      string
	Followups []string
}

// BuildPrompt assembles the grounded prompt: verified totals first, then the
// selected transactions, recent history, and the user's question. catNames
// maps category IDs to display names and may be nil. All user-controlled text
// is sanitized before inclusion.
func BuildPrompt(query string, cls domain.QueryClassification, data *domain.VerifiedFinancialData, txs []domain.Transaction, catNames map[string]string, history []domain.ChatMessage) Prompt {
	var sb strings.Builder

	if data != nil {
		writeVerifiedData(&sb, data)
	}
	if len(txs) > 0 {
		writeTransactions(&sb, txs, catNames)
	}
	if len(history) > 0 {
		writeHistory(&sb, history)
	}

	sb.WriteString("QUESTION:\n")
	sb.WriteString(sanitize(query))
	sb.WriteString("\n")

	return Prompt{
		System: systemInstruction,
		User:   sb.String(),
		Intent: cls.Intent,
	}
}

func writeVerifiedData(sb *strings.Builder, data *domain.VerifiedFinancialData) {
	sb.WriteString("VERIFIED TOTALS (ground truth, computed from the full ledger):\n")
	fmt.Fprintf(sb, "- period: %s\n", data.Period)
	fmt.Fprintf(sb, "- total expenses: %.2f across %d transactions\n", data.TotalExpenses, data.ExpenseCount)
	fmt.Fprintf(sb, "- total income: %.2f across %d transactions\n", data.TotalIncome, data.IncomeCount)

	if len(data.ByCategory) > 0 {
		sb.WriteString("- by category:")
		for _, cat := range sortedKeys(data.ByCategory) {
			fmt.Fprintf(sb, " %s=%.2f (%d)", cat, data.ByCategory[cat], data.CountByCategory[cat])
		}
		sb.WriteString("\n")
	}
	if len(data.ByVendor) > 0 {
		sb.WriteString("- top vendors:")
		for _, v := range sortedKeys(data.ByVendor) {
			fmt.Fprintf(sb, " %s=%.2f", v, data.ByVendor[v])
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func writeTransactions(sb *strings.Builder, txs []domain.Transaction, catNames map[string]string) {
	sb.WriteString("TRANSACTIONS (most relevant to the question):\n")
	for _, tx := range txs {
		fmt.Fprintf(sb, "- [%s] %s %s %.2f %s",
			tx.ID, tx.Date.Format("2006-01-02"), tx.Flow(), tx.AbsAmount(), tx.Currency)
		if tx.Vendor != "" {
			fmt.Fprintf(sb, " at %s", sanitize(tx.Vendor))
		}
		if name := catNames[tx.CategoryID]; name != "" {
			fmt.Fprintf(sb, " [%s]", sanitize(name))
		}
		if tx.Note != "" {
			fmt.Fprintf(sb, " (%s)", sanitize(tx.Note))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func writeHistory(sb *strings.Builder, history []domain.ChatMessage) {
	start := len(history) - historyTurns
	if start < 0 {
		start = 0
	}
	sb.WriteString("CONVERSATION SO FAR:\n")
	for _, msg := range history[start:] {
		fmt.Fprintf(sb, "%s: %s\n", msg.Role, sanitize(msg.Content))
	}
	sb.WriteString("\n")
}

// ParseResult splits the model's structured follow-up lines out of the
// answer text and caps them.
func ParseResult(raw string) Result {
	var answer []string
	var followups []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, followupPrefix) {
			f := strings.TrimSpace(strings.TrimPrefix(trimmed, followupPrefix))
			if f != "" && len(followups) < MaxFollowups {
				followups = append(followups, f)
			}
			continue
		}
		answer = append(answer, line)
	}
	return Result{
		Text:      strings.TrimSpace(strings.Join(answer, "\n")),
		Followups: followups,
	}
}

// maxPromptBytes bounds the outgoing payload. A prompt assembled from the
// selected context stays far below this; anything larger is carrying content
// it should not.
const maxPromptBytes = 64 * 1024

// vectorLeakRe matches runs of high-precision floats, the shape of an
// embedding vector serialized into text.
var vectorLeakRe = regexp.MustCompile(`-?\d+\.\d{4,}(?:\s*,\s*-?\d+\.\d{4,}){7,}`)

// CheckPayload rejects a prompt that would leak disallowed raw content to the
// remote model: embedding vectors, or a payload large enough to be carrying
// raw documents. The rejection is fatal and must not be retried.
func CheckPayload(p Prompt) error {
	if len(p.User) > maxPromptBytes {
		return &Error{Kind: KindSafety, Op: "llm.CheckPayload",
			Err: fmt.Errorf("payload is %d bytes, limit %d", len(p.User), maxPromptBytes)}
	}
	if vectorLeakRe.MatchString(p.User) {
		return &Error{Kind: KindSafety, Op: "llm.CheckPayload",
			Err: fmt.Errorf("payload contains an embedding-like vector")}
	}
	return nil
}

// sanitize strips control characters and flattens newlines so ledger text
// cannot break the prompt structure.
func sanitize(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			sb.WriteRune(' ')
		case r < 0x20 || r == 0x7f:
			// drop
		default:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
