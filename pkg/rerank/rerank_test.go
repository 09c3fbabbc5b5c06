package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
)

type fakeChatClient struct {
	response string
	err      error
}

func (f *fakeChatClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (f *fakeChatClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return nil
}

func (f *fakeChatClient) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	return f.response, f.err
}

func (f *fakeChatClient) GenerateChatWithFormat(ctx context.Context, name, description string, messages []ai.ChatMessage, out any, opts ...ai.GenerateOption) error {
	return nil
}

func (f *fakeChatClient) GenerateChatStream(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (<-chan ai.StreamEvent, error) {
	ch := make(chan ai.StreamEvent)
	close(ch)
	return ch, nil
}

func (f *fakeChatClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, nil
}

func (f *fakeChatClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	return nil, nil
}

func (f *fakeChatClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

var candidates = []common.Triple{
	{Subject: "alice", Predicate: "knows", Object: "bob"},
	{Subject: "bob", Predicate: "lives in", Object: "berlin"},
	{Subject: "carol", Predicate: "works at", Object: "acme"},
}

func TestRerankSelectsAndOrders(t *testing.T) {
	client := &fakeChatClient{response: `[[ ## fact_after_filter ## ]]
{"fact": [["bob", "lives in", "berlin"], ["alice", "knows", "bob"]]}

[[ ## completed ## ]]`}

	f := NewFactFilter(client)
	indices, facts, err := f.Rerank(context.Background(), "where does bob live?", candidates, []int{10, 11, 12}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(indices) != 2 {
		t.Fatalf("expected 2 results, got %v", indices)
	}
	if indices[0] != 11 || indices[1] != 10 {
		t.Fatalf("expected caller indices [11 10], got %v", indices)
	}
	if facts[0] != candidates[1] || facts[1] != candidates[0] {
		t.Fatalf("unexpected fact order: %+v", facts)
	}
}

func TestRerankFuzzyMatchesParaphrasedFacts(t *testing.T) {
	// model echoes a slightly different surface form
	client := &fakeChatClient{response: `[[ ## fact_after_filter ## ]]
{"fact": [["Bob", "lives in", "Berlin!"]]}

[[ ## completed ## ]]`}

	f := NewFactFilter(client)
	indices, facts, err := f.Rerank(context.Background(), "q", candidates, []int{0, 1, 2}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(indices) != 1 || indices[0] != 1 {
		t.Fatalf("expected fuzzy match to candidate 1, got %v", indices)
	}
	if facts[0] != candidates[1] {
		t.Fatalf("unexpected fact: %+v", facts[0])
	}
}

func TestRerankUnparsableDegradesToEmpty(t *testing.T) {
	client := &fakeChatClient{response: "I could not find any relevant facts, sorry."}

	f := NewFactFilter(client)
	indices, facts, err := f.Rerank(context.Background(), "q", candidates, []int{0, 1, 2}, 0)
	if err != nil {
		t.Fatalf("unparsable output must not be an error: %v", err)
	}
	if len(indices) != 0 || len(facts) != 0 {
		t.Fatalf("expected empty result, got %v / %v", indices, facts)
	}
}

func TestRerankRespectsLimit(t *testing.T) {
	client := &fakeChatClient{response: `[[ ## fact_after_filter ## ]]
{"fact": [["alice", "knows", "bob"], ["bob", "lives in", "berlin"], ["carol", "works at", "acme"]]}

[[ ## completed ## ]]`}

	f := NewFactFilter(client)
	indices, _, err := f.Rerank(context.Background(), "q", candidates, []int{0, 1, 2}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(indices) != 2 {
		t.Fatalf("expected limit to apply, got %v", indices)
	}
}

func TestRerankDuplicateMatchesCollapse(t *testing.T) {
	client := &fakeChatClient{response: `[[ ## fact_after_filter ## ]]
{"fact": [["alice", "knows", "bob"], ["alice", "knows", "bob"]]}

[[ ## completed ## ]]`}

	f := NewFactFilter(client)
	indices, _, err := f.Rerank(context.Background(), "q", candidates, []int{0, 1, 2}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(indices) != 1 {
		t.Fatalf("expected duplicates collapsed, got %v", indices)
	}
}

func TestRerankTransportErrorPropagates(t *testing.T) {
	client := &fakeChatClient{err: errors.New("model unavailable")}

	f := NewFactFilter(client)
	_, _, err := f.Rerank(context.Background(), "q", candidates, []int{0, 1, 2}, 0)
	if err == nil {
		t.Fatal("expected transport error to propagate")
	}
}

func TestRerankEmptyCandidates(t *testing.T) {
	f := NewFactFilter(&fakeChatClient{})
	indices, facts, err := f.Rerank(context.Background(), "q", nil, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(indices) != 0 || len(facts) != 0 {
		t.Fatalf("expected empty result, got %v / %v", indices, facts)
	}
}

func TestParseFilterResponseTolerantSyntax(t *testing.T) {
	// single quotes and trailing comma still parse via repair
	got := parseFilterResponse(`[[ ## fact_after_filter ## ]]
{'fact': [['alice', 'knows', 'bob'],]}

[[ ## completed ## ]]`)
	if len(got) != 1 {
		t.Fatalf("expected tolerant parse to yield 1 fact, got %v", got)
	}
	if got[0][0] != "alice" || got[0][2] != "bob" {
		t.Fatalf("unexpected fact: %v", got[0])
	}
}
