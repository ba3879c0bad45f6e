package nl2sql

import "github.com/askdb/askdb/internal/query"

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRejectedQuestion Outcome = "rejected_question"
	OutcomeUnsafeQuery      Outcome = "unsafe_query"
	OutcomeExecutionError   Outcome = "execution_error"
)

// Result is the terminal state of one pipeline run. Exactly one of Success,
// RejectedQuestion, UnsafeQuery or ExecutionError is returned.
type Result interface {
	Outcome() Outcome
	// SQL is the generated statement, empty only for RejectedQuestion.
	SQL() string
	// Reason is the human-readable failure message, empty only for Success.
	Reason() string

	sealed()
}

type Success struct {
	GeneratedSQL string
	Rows         query.ResultSet
}

type RejectedQuestion struct {
	Message string
}

type UnsafeQuery struct {
	GeneratedSQL string
	Message      string
}

type ExecutionError struct {
	GeneratedSQL string
	Message      string
}

func (Success) Outcome() Outcome          { return OutcomeSuccess }
func (r Success) SQL() string             { return r.GeneratedSQL }
func (Success) Reason() string            { return "" }
func (Success) sealed()                   {}
func (RejectedQuestion) Outcome() Outcome { return OutcomeRejectedQuestion }
func (RejectedQuestion) SQL() string      { return "" }
func (r RejectedQuestion) Reason() string { return r.Message }
func (RejectedQuestion) sealed()          {}
func (UnsafeQuery) Outcome() Outcome      { return OutcomeUnsafeQuery }
func (r UnsafeQuery) SQL() string         { return r.GeneratedSQL }
func (r UnsafeQuery) Reason() string      { return r.Message }
func (UnsafeQuery) sealed()               {}
func (ExecutionError) Outcome() Outcome   { return OutcomeExecutionError }
func (r ExecutionError) SQL() string      { return r.GeneratedSQL }
func (r ExecutionError) Reason() string   { return r.Message }
func (ExecutionError) sealed()            {}

// RowCount is the number of rows a Success carries and zero otherwise.
func RowCount(r Result) int {
	if success, ok := r.(Success); ok {
		return success.Rows.Len()
	}
	return 0
}
