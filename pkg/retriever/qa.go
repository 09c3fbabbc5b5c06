package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
)

// QA generates an answer for an already retrieved solution. The top
// passages are presented to the model together with the question; the
// answer is extracted from the "Answer:" section of the response, falling
// back to the full response when the model skips the expected structure.
func (r *Retriever) QA(
	ctx context.Context,
	solution common.QuerySolution,
	opts ...ai.GenerateOption,
) (common.QuerySolution, string, error) {
	messages := r.qaMessages(solution)

	opts = append(opts, ai.WithSystemPrompts(ai.RAGQASystemPrompt))
	response, err := r.client.GenerateChat(ctx, messages, opts...)
	if err != nil {
		return solution, "", err
	}

	solution.Answer = extractAnswer(response)
	return solution, response, nil
}

// QAStream is QA with incremental response delivery. The caller consumes
// the event channel; the answer is not written back into the solution
// because the response is only complete once the channel closes.
func (r *Retriever) QAStream(
	ctx context.Context,
	solution common.QuerySolution,
	opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	messages := r.qaMessages(solution)

	opts = append(opts, ai.WithSystemPrompts(ai.RAGQASystemPrompt))
	return r.client.GenerateChatStream(ctx, messages, opts...)
}

// RAGQA retrieves passages for the query and answers it in one call.
func (r *Retriever) RAGQA(
	ctx context.Context,
	query string,
	filters map[string][]string,
	opts ...ai.GenerateOption,
) (common.QuerySolution, error) {
	solution, err := r.Retrieve(ctx, query, filters)
	if err != nil {
		return solution, err
	}
	solution, _, err = r.QA(ctx, solution, opts...)
	return solution, err
}

// RAGQADense is RAGQA over the dense-only retrieval path.
func (r *Retriever) RAGQADense(
	ctx context.Context,
	query string,
	filters map[string][]string,
	opts ...ai.GenerateOption,
) (common.QuerySolution, error) {
	solution, err := r.RetrieveDense(ctx, query, filters)
	if err != nil {
		return solution, err
	}
	solution, _, err = r.QA(ctx, solution, opts...)
	return solution, err
}

func (r *Retriever) qaMessages(solution common.QuerySolution) []ai.ChatMessage {
	passages := solution.Docs
	if len(passages) > r.config.QATopK {
		passages = passages[:r.config.QATopK]
	}

	var prompt strings.Builder
	for _, passage := range passages {
		fmt.Fprintf(&prompt, "Retrived Information: %s\n\n", passage.Content)
	}
	prompt.WriteString("Question: " + solution.Question + "\nThought: ")

	return []ai.ChatMessage{{Role: "user", Message: prompt.String()}}
}

func extractAnswer(response string) string {
	_, after, found := strings.Cut(response, "Answer:")
	if !found {
		return response
	}
	return strings.TrimSpace(after)
}
