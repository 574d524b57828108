package pipeline

import (
	"context"
	"errors"

	"github.com/skillstream/skillstream/internal/llm"
)

// failingClient always errors, which forces every stage onto its local
// fallback path.
type failingClient struct{}

func (failingClient) Provider() string { return "mock" }

func (failingClient) Complete(context.Context, llm.CompletionRequest) (string, error) {
	return "", errors.New("model unavailable")
}

// newTestDeps builds stage dependencies with a discarding emitter. A nil
// client gets the always-failing one.
func newTestDeps(client llm.Client) *stageDeps {
	if client == nil {
		client = failingClient{}
	}
	return &stageDeps{
		client:  client,
		emitter: NopEmitter{},
	}
}
