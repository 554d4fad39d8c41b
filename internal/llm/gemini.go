package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/driesdb/budget-engine/internal/domain"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.0-flash"

// GeminiProvider implements Provider on top of the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	chunkSize int
}

// NewGeminiProvider creates a Gemini-backed provider. The API key is read
// from the environment by the genai client (GEMINI_API_KEY).
func NewGeminiProvider(ctx context.Context, model string) (*GeminiProvider, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiProvider: create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, chunkSize: DefaultChunkSize}, nil
}

// Name implements the Provider interface.
func (p *GeminiProvider) Name() string { return "gemini" }

// Model implements the Provider interface.
func (p *GeminiProvider) Model() string { return p.model }

// ClassifyBatch implements the Provider interface. Transactions are sent
// in chunks; a failing chunk fails the whole batch so the caller never
// publishes a half-classified snapshot.
func (p *GeminiProvider) ClassifyBatch(ctx context.Context, req Request) ([]Assignment, error) {
	var out []Assignment
	for _, chunk := range chunkTransactions(req.Transactions, p.chunkSize) {
		assignments, err := p.classifyChunk(ctx, chunk, req)
		if err != nil {
			return nil, err
		}
		out = append(out, assignments...)
		if req.OnChunk != nil {
			req.OnChunk(len(chunk))
		}
	}
	return out, nil
}

func (p *GeminiProvider) classifyChunk(ctx context.Context, chunk []domain.Transaction, req Request) ([]Assignment, error) {
	prompt := buildClassifyPrompt(chunk, req.Groups, req.KnownCategories)

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("classifyChunk: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("classifyChunk: empty response from model")
	}

	clean := cleanModelJSON(rawText)

	var assignments []Assignment
	if err := json.Unmarshal([]byte(clean), &assignments); err != nil {
		return nil, fmt.Errorf("classifyChunk: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	return assignments, nil
}

// Summarize implements the Provider interface.
func (p *GeminiProvider) Summarize(ctx context.Context, summary domain.Summary) (string, error) {
	prompt := buildSummaryPrompt(summary)

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Summarize: generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("Summarize: empty response from model")
	}
	return text, nil
}

func buildClassifyPrompt(txs []domain.Transaction, groups []domain.MappingGroup, knownCategories []string) string {
	var b strings.Builder

	b.WriteString("You are a budget assistant classifying Belgian bank transactions.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Assign exactly one category to each transaction below.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a JSON array of objects.\n\n")
	b.WriteString("Each object must have these fields:\n")
	b.WriteString("- \"external_transaction_id\": string, copied verbatim from the input\n")
	b.WriteString("- \"category\": string\n\n")

	if len(knownCategories) > 0 {
		b.WriteString("Prefer these existing categories when one fits:\n")
		for _, c := range knownCategories {
			b.WriteString("- " + c + "\n")
		}
		b.WriteString("\n")
	}
	if len(groups) > 0 {
		b.WriteString("Configured keyword rules (category: keywords):\n")
		for _, g := range groups {
			b.WriteString("- " + g.Category + ": " + strings.Join(g.Keywords, ", ") + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Rules:\n")
	b.WriteString("- Category names are Dutch, short, and reusable across transactions.\n")
	b.WriteString("- Negative amounts are expenses, positive amounts are income.\n")
	b.WriteString("- Return ONLY valid raw JSON.\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n")
	b.WriteString("- Output must begin with \"[\" and end with \"]\".\n\n")

	b.WriteString("Transactions:\n")
	for _, tx := range txs {
		row := map[string]string{
			"external_transaction_id": tx.ExternalID,
			"booking_date":            tx.BookingDate,
			"amount":                  tx.Amount.StringFixed(2),
			"counterparty":            tx.CounterpartyName,
			"remittance":              tx.RemittanceInformation,
			"movement_type":           tx.MovementType,
		}
		data, _ := json.Marshal(row)
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String()
}

func buildSummaryPrompt(summary domain.Summary) string {
	var b strings.Builder

	b.WriteString("You are a budget assistant. Write a short summary, in Dutch, of the\n")
	b.WriteString("following household budget figures. Two to four sentences, plain text,\n")
	b.WriteString("no Markdown. Mention the largest expense categories and whether the\n")
	b.WriteString("period ended with a surplus or deficit.\n\n")

	b.WriteString(fmt.Sprintf("Total income: %s\n", summary.TotalIncome.StringFixed(2)))
	b.WriteString(fmt.Sprintf("Total expenses: %s\n", summary.TotalExpense.StringFixed(2)))
	b.WriteString(fmt.Sprintf("Net: %s\n", summary.Net.StringFixed(2)))
	b.WriteString(fmt.Sprintf("Transactions: %d\n\n", summary.TransactionCount))

	b.WriteString("Per category (income, expense):\n")
	for _, ct := range summary.CategoryTotals {
		b.WriteString(fmt.Sprintf("- %s: %s, %s\n", ct.Category, ct.Income.StringFixed(2), ct.Expense.StringFixed(2)))
	}
	return b.String()
}

// chunkTransactions splits the input into slices of at most size elements.
func chunkTransactions(txs []domain.Transaction, size int) [][]domain.Transaction {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]domain.Transaction
	for start := 0; start < len(txs); start += size {
		end := start + size
		if end > len(txs) {
			end = len(txs)
		}
		chunks = append(chunks, txs[start:end])
	}
	return chunks
}

// cleanModelJSON strips Markdown fences and surrounding junk when the
// model ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

// Ensure GeminiProvider implements the Provider interface.
var _ Provider = (*GeminiProvider)(nil)
