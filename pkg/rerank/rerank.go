package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/logger"

	"github.com/agnivade/levenshtein"
)

type factPayload struct {
	Fact [][]string `json:"fact"`
}

// FactFilter reranks candidate facts by asking an LLM to select the ones
// relevant to a question. The model sees a fixed instruction template plus
// few-shot demonstrations and answers in sections marked with
// [[ ## name ## ]] headers.
type FactFilter struct {
	client ai.LLMClient
}

func NewFactFilter(client ai.LLMClient) *FactFilter {
	return &FactFilter{client: client}
}

// Rerank filters and orders candidateItems by relevance to the query.
// candidateIndices carries the caller's position for each candidate and is
// reordered alongside. An unparsable or unmatched model response degrades
// to an empty result; only transport failures return an error.
func (f *FactFilter) Rerank(
	ctx context.Context,
	query string,
	candidateItems []common.Triple,
	candidateIndices []int,
	limit int,
) ([]int, []common.Triple, error) {
	if len(candidateItems) != len(candidateIndices) {
		return nil, nil, fmt.Errorf(
			"candidate items/indices length mismatch: %d != %d",
			len(candidateItems), len(candidateIndices),
		)
	}
	if len(candidateItems) == 0 {
		return []int{}, []common.Triple{}, nil
	}

	payload := factPayload{Fact: make([][]string, len(candidateItems))}
	for i, t := range candidateItems {
		payload.Fact[i] = []string{t.Subject, t.Predicate, t.Object}
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	messages := buildFilterMessages(query, string(serialized))

	response, err := f.client.GenerateChat(
		ctx,
		messages,
		ai.WithSystemPrompts(ai.FactFilterSystemPrompt),
	)
	if err != nil {
		return nil, nil, err
	}

	generated := parseFilterResponse(response)

	resultIndices := make([]int, 0, len(generated))
	seen := make(map[int]struct{}, len(generated))
	for _, fact := range generated {
		idx, ok := closestCandidate(fact, candidateItems)
		if !ok {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		resultIndices = append(resultIndices, idx)
	}

	if limit > 0 && len(resultIndices) > limit {
		resultIndices = resultIndices[:limit]
	}

	sortedIndices := make([]int, len(resultIndices))
	sortedItems := make([]common.Triple, len(resultIndices))
	for i, idx := range resultIndices {
		sortedIndices[i] = candidateIndices[idx]
		sortedItems[i] = candidateItems[idx]
	}
	return sortedIndices, sortedItems, nil
}

func buildFilterMessages(query string, factBeforeFilter string) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, 2*len(ai.FactFilterDemos)+1)
	for _, demo := range ai.FactFilterDemos {
		messages = append(messages, ai.ChatMessage{
			Role:    "user",
			Message: fmt.Sprintf(ai.FactFilterInputTemplate, demo.Question, demo.FactBeforeFilter),
		})
		messages = append(messages, ai.ChatMessage{
			Role:    "assistant",
			Message: fmt.Sprintf(ai.FactFilterOutputTemplate, demo.FactAfterFilter),
		})
	}
	messages = append(messages, ai.ChatMessage{
		Role:    "user",
		Message: fmt.Sprintf(ai.FactFilterInputTemplate, query, factBeforeFilter),
	})
	return messages
}

var sectionHeaderRe = regexp.MustCompile(`^\[\[ ## (\w+) ## \]\]$`)

// parseFilterResponse recovers the filtered fact list from the model
// response. It splits the response into [[ ## name ## ]] sections and
// tolerantly parses the fact_after_filter section; anything unparsable
// yields an empty list.
func parseFilterResponse(response string) [][]string {
	sections := map[string][]string{}
	current := ""
	for _, line := range strings.Split(response, "\n") {
		if m := sectionHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			current = m[1]
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}

	body, ok := sections["fact_after_filter"]
	if !ok {
		logger.Warn("Fact filter response has no fact_after_filter section")
		return nil
	}

	var payload factPayload
	if err := ai.UnmarshalFlexible(strings.TrimSpace(strings.Join(body, "\n")), &payload); err != nil {
		logger.Warn("Failed to parse fact filter response", "err", err)
		return nil
	}

	facts := make([][]string, 0, len(payload.Fact))
	for _, f := range payload.Fact {
		if len(f) == 3 {
			facts = append(facts, f)
		}
	}
	return facts
}

// closestCandidate maps a generated fact back to the candidate with the
// smallest edit distance. The model may paraphrase or reorder fields, so an
// exact match is not required; the first candidate at minimal distance wins.
func closestCandidate(fact []string, candidates []common.Triple) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	target := common.Triple{Subject: fact[0], Predicate: fact[1], Object: fact[2]}.Key()

	best := -1
	bestDistance := 0
	for i, c := range candidates {
		d := levenshtein.ComputeDistance(target, c.Key())
		if best == -1 || d < bestDistance {
			best = i
			bestDistance = d
		}
	}
	return best, true
}
