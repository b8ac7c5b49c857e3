package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"ledgerchat/internal/domain"
)

const (
	// financialTemperature keeps numeric answers deterministic; insight
	// questions get slightly more room.
	financialTemperature = 0.15
	insightTemperature   = 0.3
)

// Gemini generates answers through the Gemini API. Retry, temperature
// selection and follow-up parsing all live here; callers see a clean
// prompt-in, result-out surface.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the client. Fails fast on a missing key so the caller can
// fall back to offline answers from the start.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, &Error{Kind: KindConfiguration, Op: "llm.NewGemini", Err: fmt.Errorf("api key is empty")}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, &Error{Kind: KindInitialization, Op: "llm.NewGemini", Err: err}
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate produces a complete answer for the prompt.
func (g *Gemini) Generate(ctx context.Context, p Prompt) (*Result, error) {
	if err := CheckPayload(p); err != nil {
		return nil, err
	}
	raw, err := withRetry(ctx, "llm.Generate", func() (string, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents(p), g.config(p))
		if err != nil {
			return "", wrapGenErr("llm.Generate", err)
		}
		return responseText(resp)
	})
	if err != nil {
		return nil, err
	}
	result := ParseResult(raw)
	return &result, nil
}

// GenerateStream produces the answer incrementally, invoking onChunk for each
// text delta as it arrives, and returns the parsed full result. Follow-up
// lines stream through onChunk like any other text; callers that hide them
// should filter on the final result instead.
func (g *Gemini) GenerateStream(ctx context.Context, p Prompt, onChunk func(text string)) (*Result, error) {
	if err := CheckPayload(p); err != nil {
		return nil, err
	}
	raw, err := withRetry(ctx, "llm.GenerateStream", func() (string, error) {
		var full string
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents(p), g.config(p)) {
			if err != nil {
				return "", wrapGenErr("llm.GenerateStream", err)
			}
			chunk := resp.Text()
			if chunk == "" {
				continue
			}
			full += chunk
			if onChunk != nil {
				onChunk(chunk)
			}
		}
		if full == "" {
			return "", &Error{Kind: KindTransient, Op: "llm.GenerateStream", Err: fmt.Errorf("empty streamed response")}
		}
		return full, nil
	})
	if err != nil {
		return nil, err
	}
	result := ParseResult(raw)
	return &result, nil
}

func (g *Gemini) config(p Prompt) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: p.System}},
		},
	}
	if temp := temperatureFor(p.Intent); temp != nil {
		cfg.Temperature = genai.Ptr(float32(*temp))
	}
	return cfg
}

func contents(p Prompt) []*genai.Content {
	return []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: p.User}},
		},
	}
}

// temperatureFor picks the sampling temperature by question type. Nil means
// leave it to the provider default.
func temperatureFor(intent domain.Intent) *float64 {
	switch intent {
	case domain.IntentSpending, domain.IntentIncome, domain.IntentBudget, domain.IntentComparison:
		return genai.Ptr(financialTemperature)
	case domain.IntentTrend:
		return genai.Ptr(insightTemperature)
	default:
		return nil
	}
}

// responseText extracts the answer, turning a safety block into a fatal,
// non-retryable error.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", &Error{Kind: KindSafety, Op: "llm.Generate", Err: fmt.Errorf("response blocked by safety filter")}
	}
	text := resp.Text()
	if text == "" {
		return "", &Error{Kind: KindTransient, Op: "llm.Generate", Err: fmt.Errorf("empty response from model")}
	}
	return text, nil
}

func wrapGenErr(op string, err error) error {
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
