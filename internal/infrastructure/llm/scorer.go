// Package llm scores digest items through an OpenAI-compatible chat API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const defaultSystemPrompt = "You rate the importance of newsletter items " +
	"for a reader, considering actionability, deadlines, learning value and " +
	"current relevance. You answer with JSON only."

// summaryLimit trims per-item summaries in the request payload.
const summaryLimit = 200

// Scorer implements ports.Scorer backed by OpenAI-compatible APIs.
// A missing API key means the scorer is not constructed at all; ranking
// then degrades to static priorities.
type Scorer struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Scorer = (*Scorer)(nil)

// NewScorer builds a scorer from configuration.
func NewScorer(cfg config.OpenAIConfig) *Scorer {
	return &Scorer{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Score posts the whole batch once and returns a score in [0,1] per
// message ID. Any failure is reported to the caller, which treats every
// item as neutral; the run never fails on scoring.
func (s *Scorer) Score(ctx context.Context, items []domain.Item) (map[string]float64, error) {
	if s == nil {
		return nil, fmt.Errorf("scorer is nil")
	}
	if s.apiKey == "" || s.endpoint == "" || s.model == "" {
		return nil, fmt.Errorf("scorer misconfigured")
	}
	if len(items) == 0 {
		return map[string]float64{}, nil
	}

	prompt, err := buildPrompt(items)
	if err != nil {
		return nil, fmt.Errorf("build scoring prompt: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(s.systemPrompt)},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal scoring payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("scoring error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("scoring response has no choices")
	}

	return parseScores(parsed.Choices[0].Message.Content)
}

func buildPrompt(items []domain.Item) (string, error) {
	type entry struct {
		MessageID string `json:"message_id"`
		Title     string `json:"title"`
		Summary   string `json:"summary"`
		Priority  int    `json:"priority"`
		Source    string `json:"source"`
	}

	entries := make([]entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, entry{
			MessageID: item.MessageID,
			Title:     item.Title,
			Summary:   truncate(item.Preview, summaryLimit),
			Priority:  item.Priority,
			Source:    item.SourceName,
		})
	}

	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`Rate each newsletter item from 0 to 1 by importance:
actionability, approaching deadlines, learning value, current relevance.
Higher score means more important.

Items:
%s

Answer ONLY with a JSON object mapping message_id to score:
{"<message_id>": 0.X, ...}`, payload), nil
}

// parseScores tolerates models wrapping the JSON object in a fenced code
// block.
func parseScores(content string) (map[string]float64, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	scores := map[string]float64{}
	if err := json.Unmarshal([]byte(content), &scores); err != nil {
		return nil, fmt.Errorf("parse scores: %w", err)
	}
	return scores, nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}
