package openie

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/hippo/backend/internal/util"
	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	defaultRetries = 3
	defaultWorkers = 4
)

type nerOutput struct {
	NamedEntities []string `json:"named_entities" jsonschema_description:"Contained named entities"`
}

type triplesOutput struct {
	Triples [][]string `json:"triples" jsonschema_description:"List of [subject, predicate, object] triples"`
}

// NERResult holds the unique named entities extracted from one passage.
type NERResult struct {
	ChunkID  string
	Entities []string
}

// TripleResult holds the filtered triples extracted from one passage.
type TripleResult struct {
	ChunkID string
	Triples []common.Triple
}

// BatchResult is the partial-success outcome of extracting a chunk batch.
// Chunks that failed appear in Errors and are absent from NER/Triples.
type BatchResult struct {
	NER     map[string]NERResult
	Triples map[string]TripleResult
	Errors  map[string]error
}

// Extractor turns passages into named entities and triples via an LLM. An
// empty model result is treated as a retryable soft-failure: the call is
// repeated up to the retry bound and then returns an explicit empty result
// instead of an error.
type Extractor struct {
	client  ai.LLMClient
	retries int
	workers int
}

type ExtractorOption func(*Extractor)

func WithRetries(retries int) ExtractorOption {
	return func(e *Extractor) {
		if retries > 0 {
			e.retries = retries
		}
	}
}

func WithWorkers(workers int) ExtractorOption {
	return func(e *Extractor) {
		if workers > 0 {
			e.workers = workers
		}
	}
}

func NewExtractor(client ai.LLMClient, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		client:  client,
		retries: defaultRetries,
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NER extracts the unique named entities of a passage. Zero entities after
// all retries is a valid result, not an error.
func (e *Extractor) NER(ctx context.Context, chunkID string, passage string) (NERResult, error) {
	messages := []ai.ChatMessage{
		{Role: "user", Message: ai.NERExampleParagraph},
		{Role: "assistant", Message: ai.NERExampleOutput},
		{Role: "user", Message: passage},
	}

	for attempt := 0; attempt < e.retries; attempt++ {
		if ctx.Err() != nil {
			return NERResult{}, ctx.Err()
		}

		var out nerOutput
		err := e.client.GenerateChatWithFormat(
			ctx,
			"named_entities",
			"Named entities contained in the passage",
			messages,
			&out,
			ai.WithSystemPrompts(ai.NERSystemPrompt),
		)
		if err != nil {
			return NERResult{}, fmt.Errorf("ner extraction for chunk %s: %w", chunkID, err)
		}

		entities := uniqueSorted(out.NamedEntities)
		if len(entities) > 0 {
			return NERResult{ChunkID: chunkID, Entities: entities}, nil
		}
		logger.Warn("No entities found, retrying", "chunk", chunkID, "attempt", attempt)
	}

	logger.Warn("Entity extraction exhausted retries, returning empty result", "chunk", chunkID)
	return NERResult{ChunkID: chunkID, Entities: []string{}}, nil
}

// TripleExtraction extracts subject-predicate-object triples from a passage
// given its named entities. Zero valid triples after all retries is a valid
// result, not an error.
func (e *Extractor) TripleExtraction(
	ctx context.Context,
	chunkID string,
	passage string,
	namedEntities []string,
) (TripleResult, error) {
	entityJSON, err := json.Marshal(nerOutput{NamedEntities: namedEntities})
	if err != nil {
		return TripleResult{}, err
	}

	exampleInput := fmt.Sprintf(ai.TripleUserPrompt, ai.NERExampleParagraph, ai.NERExampleOutput)
	messages := []ai.ChatMessage{
		{Role: "user", Message: exampleInput},
		{Role: "assistant", Message: ai.TripleExampleOutput},
		{Role: "user", Message: fmt.Sprintf(ai.TripleUserPrompt, passage, string(entityJSON))},
	}

	for attempt := 0; attempt < e.retries; attempt++ {
		if ctx.Err() != nil {
			return TripleResult{}, ctx.Err()
		}

		var out triplesOutput
		err := e.client.GenerateChatWithFormat(
			ctx,
			"triples",
			"Subject-predicate-object triples extracted from the passage",
			messages,
			&out,
			ai.WithSystemPrompts(ai.TripleSystemPrompt),
		)
		if err != nil {
			return TripleResult{}, fmt.Errorf("triple extraction for chunk %s: %w", chunkID, err)
		}

		triples := FilterInvalidTriples(out.Triples)
		if len(triples) > 0 {
			return TripleResult{ChunkID: chunkID, Triples: triples}, nil
		}
		logger.Warn("No triples extracted, retrying", "chunk", chunkID, "attempt", attempt)
	}

	logger.Warn("Triple extraction exhausted retries, returning empty result", "chunk", chunkID)
	return TripleResult{ChunkID: chunkID, Triples: []common.Triple{}}, nil
}

// OpenIE runs NER followed by triple extraction for a single passage.
func (e *Extractor) OpenIE(ctx context.Context, chunkID string, passage string) (NERResult, TripleResult, error) {
	ner, err := e.NER(ctx, chunkID, passage)
	if err != nil {
		return NERResult{}, TripleResult{}, err
	}

	triples, err := e.TripleExtraction(ctx, chunkID, passage, ner.Entities)
	if err != nil {
		return NERResult{}, TripleResult{}, err
	}
	return ner, triples, nil
}

// BatchOpenIE extracts a batch of chunks keyed by id. NER runs for every
// chunk; triple extraction only for chunks whose NER produced at least one
// entity. A failing chunk leaves a gap in the result maps and an entry in
// Errors instead of aborting the batch. An error is returned only when NER
// failed for every chunk.
func (e *Extractor) BatchOpenIE(ctx context.Context, chunks map[string]string) (*BatchResult, error) {
	result := &BatchResult{
		NER:     make(map[string]NERResult, len(chunks)),
		Triples: make(map[string]TripleResult, len(chunks)),
		Errors:  make(map[string]error),
	}
	if len(chunks) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(chunks))
	for id := range chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var mu sync.Mutex

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for _, id := range ids {
		chunkID := id
		passage := chunks[id]
		eg.Go(func() error {
			ner, err := e.NER(ectx, chunkID, passage)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[chunkID] = err
				return nil
			}
			result.NER[chunkID] = ner
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(result.NER) == 0 {
		return nil, fmt.Errorf("ner failed for all %d chunks", len(chunks))
	}

	eg, ectx = errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for _, id := range ids {
		chunkID := id
		ner, ok := result.NER[chunkID]
		if !ok || len(ner.Entities) == 0 {
			continue
		}
		passage := chunks[chunkID]
		eg.Go(func() error {
			triples, err := e.TripleExtraction(ectx, chunkID, passage, ner.Entities)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[chunkID] = err
				return nil
			}
			result.Triples[chunkID] = triples
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

// FilterInvalidTriples drops triples with the wrong arity or with fields
// that normalize to empty strings, and removes exact duplicates while
// preserving order. Applying it twice yields the same result.
func FilterInvalidTriples(raw [][]string) []common.Triple {
	out := make([]common.Triple, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, fields := range raw {
		if len(fields) != 3 {
			continue
		}
		valid := true
		for _, f := range fields {
			if util.NormalizeWord(f) == "" {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		t := common.Triple{Subject: fields[0], Predicate: fields[1], Object: fields[2]}
		key := t.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
