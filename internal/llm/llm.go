package llm

import (
	"context"
	"errors"
)

// ErrUnavailable marks every failure to obtain a completion: transport, auth,
// HTTP status and malformed responses alike.
var ErrUnavailable = errors.New("language model unavailable")

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
}

type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompleterFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}
