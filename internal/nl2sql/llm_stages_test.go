package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/prompt"
)

func recordingCompleter(answer string, err error, got *llm.CompletionRequest) llm.Completer {
	return llm.CompleterFunc(func(_ context.Context, req llm.CompletionRequest) (string, error) {
		*got = req
		return answer, err
	})
}

func TestIsAffirmative(t *testing.T) {
	cases := map[string]bool{
		"SI":            true,
		"si":            true,
		"Sí, es válida": true,
		"  SI\n":        true,
		"NO":            false,
		"":              false,
		"Yes":           false,
		"No sé":         false,
	}
	for answer, want := range cases {
		if got := IsAffirmative(answer); got != want {
			t.Fatalf("IsAffirmative(%q) = %v, want %v", answer, got, want)
		}
	}
}

func TestValidatorSendsDeterministicPrompt(t *testing.T) {
	var got llm.CompletionRequest
	validator := NewRelevanceValidator(recordingCompleter("SI", nil, &got))

	ok, err := validator.Validate(context.Background(), "¿Cuántos pedidos hay?", "- orders: id(int)", "gpt-4o")
	if err != nil || !ok {
		t.Fatalf("Validate() = %v, %v", ok, err)
	}
	if got.Model != "gpt-4o" || got.Temperature != 0 || len(got.Messages) != 1 {
		t.Fatalf("request = %#v", got)
	}
	content := got.Messages[0].Content
	if !strings.Contains(content, "- orders: id(int)") || !strings.Contains(content, "¿Cuántos pedidos hay?") {
		t.Fatalf("prompt = %q", content)
	}
}

func TestValidatorAmbiguousAnswerIsRejection(t *testing.T) {
	var got llm.CompletionRequest
	ok, err := NewRelevanceValidator(recordingCompleter("Depende", nil, &got)).Validate(context.Background(), "q", "s", "m")
	if err != nil || ok {
		t.Fatalf("Validate() = %v, %v", ok, err)
	}
}

func TestValidatorPropagatesModelFailure(t *testing.T) {
	var got llm.CompletionRequest
	_, err := NewRelevanceValidator(recordingCompleter("", llm.ErrUnavailable, &got)).Validate(context.Background(), "q", "s", "m")
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestGeneratorRendersTemplateAndTrims(t *testing.T) {
	tmpl, err := prompt.Parse("S={esquema} Q={pregunta}", prompt.SQLSlots...)
	if err != nil {
		t.Fatalf("prompt.Parse() error = %v", err)
	}
	var got llm.CompletionRequest
	generator := NewSQLGenerator(recordingCompleter("\n  SELECT COUNT(*) FROM orders \n", nil, &got))

	sql, err := generator.Generate(context.Background(), "how many", "orders(id)", tmpl, "gpt-4o")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if sql != "SELECT COUNT(*) FROM orders" {
		t.Fatalf("Generate() = %q", sql)
	}
	if got.Messages[0].Content != "S=orders(id) Q=how many" || got.Temperature != 0 || got.Model != "gpt-4o" {
		t.Fatalf("request = %#v", got)
	}
}

func TestGeneratorPropagatesModelFailure(t *testing.T) {
	tmpl, _ := prompt.Parse("{esquema}{pregunta}", prompt.SQLSlots...)
	var got llm.CompletionRequest
	_, err := NewSQLGenerator(recordingCompleter("", llm.ErrUnavailable, &got)).Generate(context.Background(), "q", "s", tmpl, "m")
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestGeneratorRequiresTemplate(t *testing.T) {
	var got llm.CompletionRequest
	_, err := NewSQLGenerator(recordingCompleter("SELECT 1", nil, &got)).Generate(context.Background(), "q", "s", prompt.Template{}, "m")
	if !errors.Is(err, prompt.ErrTemplateMissing) {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestStripMarkdownSQL(t *testing.T) {
	cases := map[string]string{
		"```sql\nSELECT 1\n```":         "SELECT 1",
		"```\nSELECT 1\n```":            "SELECT 1",
		"```SQL\nSELECT *\nFROM t\n```": "SELECT *\nFROM t",
		"  SELECT 1  ":                  "SELECT 1",
		"```SELECT 1```":                "SELECT 1",
	}
	for in, want := range cases {
		if got := stripMarkdownSQL(in); got != want {
			t.Fatalf("stripMarkdownSQL(%q) = %q, want %q", in, got, want)
		}
	}
}
