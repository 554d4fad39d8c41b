package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/driesdb/budget-engine/internal/domain"
)

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"raw array untouched",
			`[{"external_transaction_id":"a","category":"Loon"}]`,
			`[{"external_transaction_id":"a","category":"Loon"}]`,
		},
		{
			"json fence stripped",
			"```json\n[{\"external_transaction_id\":\"a\",\"category\":\"Loon\"}]\n```",
			`[{"external_transaction_id":"a","category":"Loon"}]`,
		},
		{
			"bare fence stripped",
			"```\n[]\n```",
			"[]",
		},
		{
			"prose around the array removed",
			"Here is the result:\n[{\"external_transaction_id\":\"a\",\"category\":\"Loon\"}]\nHope this helps!",
			`[{"external_transaction_id":"a","category":"Loon"}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanModelJSON(tt.raw)
			if got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
			var parsed []Assignment
			if err := json.Unmarshal([]byte(got), &parsed); err != nil {
				t.Errorf("cleaned output is not valid JSON: %v", err)
			}
		})
	}
}

func TestChunkTransactions(t *testing.T) {
	txs := make([]domain.Transaction, 195)
	chunks := chunkTransactions(txs, DefaultChunkSize)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 80 || len(chunks[1]) != 80 || len(chunks[2]) != 35 {
		t.Errorf("chunk sizes = %d/%d/%d, want 80/80/35",
			len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := chunkTransactions(nil, 80); got != nil {
		t.Errorf("empty input: got %d chunks, want none", len(got))
	}
}

func TestBuildClassifyPromptIncludesContext(t *testing.T) {
	txs := []domain.Transaction{
		{ExternalID: "tx-1", BookingDate: "2024-01-15", CounterpartyName: "DELHAIZE"},
	}
	groups := []domain.MappingGroup{
		{Category: "Abonnementen", Keywords: []string{"netflix", "spotify"}},
	}
	prompt := buildClassifyPrompt(txs, groups, []string{"Loon", "Boodschappen"})

	for _, want := range []string{"tx-1", "DELHAIZE", "Abonnementen", "netflix, spotify", "Loon", "STRICT JSON"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
