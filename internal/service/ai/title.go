package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	titleSystemPrompt = "You are a conversation title generator. " +
		"Based on the user's first message to a coding assistant, generate a concise and accurate title for the conversation. " +
		"The title should be at most six words and summarize the main topic. " +
		"Output only the title; do not include quotes, punctuation at the end, or any additional content."
	maxTitleRunes = 60
)

// Summarizer produces short session titles with a low output cap.
type Summarizer struct {
	gen       Generator
	maxTokens int
}

func NewSummarizer(gen Generator, maxTokens int) *Summarizer {
	return &Summarizer{gen: gen, maxTokens: maxTokens}
}

// Title summarises the first user message of a conversation. An empty
// cleaned result is reported as a generation failure.
func (s *Summarizer) Title(ctx context.Context, firstMessage string) (string, error) {
	resp, err := s.gen.Generate(ctx, Request{
		Prompt:         fmt.Sprintf("Please generate a clean title for a conversation that starts with:\n\n%s", firstMessage),
		SystemPreamble: titleSystemPrompt,
		Params:         Params{MaxTokens: s.maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("generate title failed: %w", err)
	}
	title := CleanTitle(resp)
	if title == "" {
		return "", &GenerationError{Provider: "title", Err: errEmptyResponse}
	}
	return title, nil
}

// CleanTitle keeps the first non-empty line of a model reply, drops
// markdown emphasis, a "Title:" prefix and surrounding quotes, and caps the
// length.
func CleanTitle(raw string) string {
	var line string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.TrimLeft(line, "#*_ ")
	line = strings.TrimRight(line, "*_ ")
	if len(line) >= len("title:") && strings.EqualFold(line[:len("title:")], "title:") {
		line = strings.TrimSpace(line[len("title:"):])
	}
	line = strings.Trim(line, "\"'`“”‘’ ")
	line = strings.TrimRight(line, ".")
	if utf8.RuneCountInString(line) > maxTitleRunes {
		runes := []rune(line)
		line = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return line
}
