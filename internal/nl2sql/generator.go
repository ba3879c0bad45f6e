package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/prompt"
)

// SQLGenerator renders the prompt template and returns the model's SQL
// unchanged apart from fence stripping and trimming. It does not judge
// whether the statement is safe.
type SQLGenerator struct {
	completer llm.Completer
}

func NewSQLGenerator(completer llm.Completer) *SQLGenerator {
	return &SQLGenerator{completer: completer}
}

func (g *SQLGenerator) Generate(ctx context.Context, question, schemaText string, tmpl prompt.Template, model string) (string, error) {
	rendered, err := tmpl.Render(map[string]string{
		prompt.SlotQuestion: question,
		prompt.SlotSchema:   schemaText,
	})
	if err != nil {
		return "", fmt.Errorf("render sql prompt: %w", err)
	}
	content, err := g.completer.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: rendered}},
		Temperature: 0,
	})
	observability.ObserveModelCall("generate", err)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}
	return stripMarkdownSQL(content), nil
}

// stripMarkdownSQL unwraps a fenced code block, dropping a one-word info
// string such as "sql" on the opening fence.
func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && !strings.ContainsAny(strings.TrimSpace(trimmed[:newline]), " \t") {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
