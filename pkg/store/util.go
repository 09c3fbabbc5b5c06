package store

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"golang.org/x/sync/errgroup"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

const embeddingBatchSize = 128

// EmbedTexts embeds the given texts in batches, preserving input order.
// Batches run concurrently; the AI client bounds actual parallelism.
func EmbedTexts(
	ctx context.Context,
	client ai.LLMClient,
	texts []string,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	_ = ChunkRange(len(texts), embeddingBatchSize, func(start, end int) error {
		eg.Go(func() error {
			inputs := make([][]byte, end-start)
			for i := start; i < end; i++ {
				inputs[i-start] = []byte(texts[i])
			}
			vecs, err := client.GenerateEmbeddings(ectx, inputs)
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding batch size mismatch: got %d want %d", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
