// Package extract turns chapter text into structured memory records, either
// through an LLM or a deterministic mock for offline runs.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sekailabs/sekai-memory/internal/config"
	"github.com/sekailabs/sekai-memory/internal/model"
)

// Extractor produces memory records for one chapter.
type Extractor interface {
	Extract(ctx context.Context, ch model.Chapter) ([]*model.MemoryRecord, error)
}

// completer is the slice of the OpenAI client the extractor needs.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMExtractor extracts facts with a chat completion model.
type LLMExtractor struct {
	client   completer
	model    string
	registry *config.Registry
	vocab    config.Vocabulary
}

// NewLLMExtractor builds an extractor against the OpenAI API. BaseURL is
// optional and supports compatible endpoints.
func NewLLMExtractor(cfg *config.Runtime, registry *config.Registry, vocab config.Vocabulary) (*LLMExtractor, error) {
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("extractor: OPENAI_API_KEY is not set")
	}
	cc := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		cc.BaseURL = cfg.OpenAIBaseURL
	}
	return &LLMExtractor{
		client:   openai.NewClientWithConfig(cc),
		model:    cfg.OpenAIModel,
		registry: registry,
		vocab:    vocab,
	}, nil
}

const systemPrompt = `You extract narrative memory facts from story chapters.
Return ONLY a JSON array. Each element:
{"mem_type":"C2U|IC|WM","subjects":["..."],"predicate":"...","object":"...",
"fact_text":"...","confidence":0.0-1.0,"visibility":"private|shared|world"}
Rules: C2U facts have exactly one character and the user as subjects. IC facts
have two or more characters. WM facts describe the world. Prefer predicates
from the provided vocabulary. Only state facts established in this chapter.`

// Extract asks the model for the chapter's facts and parses the reply.
func (e *LLMExtractor) Extract(ctx context.Context, ch model.Chapter) ([]*model.MemoryRecord, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt + "\n\nVocabulary: " + e.vocabHint()},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Chapter %d: %s\n\n%s", ch.Chapter, ch.Title, ch.Synopsis)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract chapter %d: %w", ch.Chapter, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extract chapter %d: empty completion", ch.Chapter)
	}
	return ParseFacts(resp.Choices[0].Message.Content, ch.Chapter, e.registry)
}

func (e *LLMExtractor) vocabHint() string {
	var names []string
	for name := range e.vocab {
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// rawFact is the wire shape the model replies with.
type rawFact struct {
	MemType    string   `json:"mem_type"`
	Subjects   []string `json:"subjects"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	FactText   string   `json:"fact_text"`
	Confidence float64  `json:"confidence"`
	Visibility string   `json:"visibility"`
}

// ParseFacts parses a JSON array of facts, tolerating markdown code fences,
// and normalizes subject names through the registry.
func ParseFacts(reply string, chapter int, registry *config.Registry) ([]*model.MemoryRecord, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if i := strings.LastIndex(body, "```"); i >= 0 {
			body = body[:i]
		}
		body = strings.TrimSpace(body)
	}

	var raw []rawFact
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("parse extraction reply: %w", err)
	}

	records := make([]*model.MemoryRecord, 0, len(raw))
	for _, rf := range raw {
		subjects := make([]string, 0, len(rf.Subjects))
		for _, s := range rf.Subjects {
			subjects = append(subjects, registry.Normalize(s))
		}
		records = append(records, &model.MemoryRecord{
			MemType:      model.MemType(rf.MemType),
			Subjects:     subjects,
			Predicate:    rf.Predicate,
			Object:       rf.Object,
			FactText:     rf.FactText,
			ChapterStart: chapter,
			Confidence:   rf.Confidence,
			Visibility:   model.Visibility(rf.Visibility),
			Provenance:   model.Provenance{Chapter: chapter, Source: "extraction"},
		})
	}
	return records, nil
}

// Mock is a canned extractor for offline ingestion and tests.
type Mock struct {
	// Records holds the facts to return per chapter.
	Records map[int][]*model.MemoryRecord
}

// Extract returns the canned records for the chapter, never an error.
func (m *Mock) Extract(ctx context.Context, ch model.Chapter) ([]*model.MemoryRecord, error) {
	out := make([]*model.MemoryRecord, 0, len(m.Records[ch.Chapter]))
	for _, r := range m.Records[ch.Chapter] {
		out = append(out, r.Clone())
	}
	return out, nil
}
