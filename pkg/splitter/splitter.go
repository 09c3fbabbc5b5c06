package splitter

import (
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoder is the tiktoken encoding used to count tokens.
	DefaultEncoder = "o200k_base"
	// DefaultMaxTokens is the per-chunk token budget.
	DefaultMaxTokens = 512
)

// Chunk is one passage produced by splitting a source text. Start and End
// index the sentence range the chunk covers.
type Chunk struct {
	ID    string
	Start int
	End   int
	Text  string
}

// Splitter breaks source text into passages small enough for extraction.
type Splitter interface {
	Split(text string) ([]Chunk, error)
}

// TokenSplitter splits text on sentence boundaries and packs sentences into
// chunks up to a token budget.
type TokenSplitter struct {
	encoder   string
	maxTokens int
}

type TokenSplitterOption func(*TokenSplitter)

func WithEncoder(encoder string) TokenSplitterOption {
	return func(s *TokenSplitter) {
		if encoder != "" {
			s.encoder = encoder
		}
	}
}

func WithMaxTokens(maxTokens int) TokenSplitterOption {
	return func(s *TokenSplitter) {
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
	}
}

func NewTokenSplitter(opts ...TokenSplitterOption) *TokenSplitter {
	s := &TokenSplitter{
		encoder:   DefaultEncoder,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenSplitter) Split(text string) ([]Chunk, error) {
	enc, err := tiktoken.GetEncoding(s.encoder)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	chunkStart := -1
	chunkEnd := -1

	flushChunk := func() error {
		if chunkStart < 0 || chunkEnd <= chunkStart {
			return nil
		}
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		chunks = append(chunks, Chunk{
			ID:    id,
			Start: chunkStart,
			End:   chunkEnd,
			Text:  strings.TrimSpace(strings.Join(sentences[chunkStart:chunkEnd], " ")),
		})
		chunkStart = -1
		chunkEnd = -1
		return nil
	}

	for i := range sentences {
		if chunkStart < 0 {
			chunkStart = i
			chunkEnd = i + 1
			continue
		}

		testText := strings.Join(sentences[chunkStart:i+1], " ")
		if len(enc.Encode(testText, nil, nil)) <= s.maxTokens {
			chunkEnd = i + 1
			continue
		}

		if err := flushChunk(); err != nil {
			return nil, err
		}
		chunkStart = i
		chunkEnd = i + 1
	}
	if err := flushChunk(); err != nil {
		return nil, err
	}

	return chunks, nil
}

var sentenceEndRe = regexp.MustCompile(`([.!?])(\s+|$)`)

// splitIntoSentences breaks text into sentences, treating line breaks and
// terminal punctuation as boundaries.
func splitIntoSentences(text string) []string {
	var sentences []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		last := 0
		for _, loc := range sentenceEndRe.FindAllStringIndex(line, -1) {
			sentence := strings.TrimSpace(line[last:loc[1]])
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			last = loc[1]
		}
		if rest := strings.TrimSpace(line[last:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	return sentences
}
