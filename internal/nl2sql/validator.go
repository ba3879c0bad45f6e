package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
)

const relevancePrompt = `Eres un asistente que ayuda a interpretar preguntas de usuarios sobre una base de datos.
Dado el siguiente esquema de base de datos y una pregunta del usuario, indica si la pregunta
tiene sentido, está relacionada con el dominio del esquema, y puede ser respondida mediante SQL.

Esquema:
%s

Pregunta:
%q

Responde solo con "SI" si la pregunta es válida o "NO" si no lo es. No añadas más información.`

// RelevanceValidator asks the model whether a question can be answered with
// SQL over the schema. Anything but an affirmative answer is a rejection.
type RelevanceValidator struct {
	completer llm.Completer
}

func NewRelevanceValidator(completer llm.Completer) *RelevanceValidator {
	return &RelevanceValidator{completer: completer}
}

func (v *RelevanceValidator) Validate(ctx context.Context, question, schemaText, model string) (bool, error) {
	answer, err := v.completer.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(relevancePrompt, schemaText, question)}},
		Temperature: 0,
	})
	observability.ObserveModelCall("validate", err)
	if err != nil {
		return false, fmt.Errorf("validate question: %w", err)
	}
	return IsAffirmative(answer), nil
}

// IsAffirmative reports whether answer starts with "si" or "sí", ignoring case
// and surrounding whitespace.
func IsAffirmative(answer string) bool {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	return strings.HasPrefix(normalized, "si") || strings.HasPrefix(normalized, "sí")
}
