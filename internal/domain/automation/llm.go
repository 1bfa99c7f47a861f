package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Completer is the narrow slice of an LLM API the planner needs. Prompting
// strategy beyond step planning is out of scope here.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMConfig locates the completion API.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// LLMClient calls an OpenAI-compatible chat completion endpoint.
type LLMClient struct {
	client *resty.Client
	model  string
}

// NewLLMClient creates a completion client. Returns nil when no API key is
// configured; the orchestrator refuses objectives without a planner.
func NewLLMClient(cfg LLMConfig) *LLMClient {
	if cfg.APIKey == "" {
		return nil
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMClient{
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(60 * time.Second).
			SetHeader("Authorization", "Bearer "+cfg.APIKey).
			SetHeader("Content-Type", "application/json"),
		model: model,
	}
}

// Complete sends a single-user-message chat completion request.
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"model": c.model,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
			"temperature": 0.2,
		}).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("completion API returned status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

const planPrompt = `You are planning browser automation steps for a job-search assistant.
Objective: %s

Current page outline:
%s

Respond with ONLY a JSON array of steps. Each step is an object:
{"action": "navigate|click|type|select|wait|evaluate|search|request_human",
 "url": "...", "selector": "...", "text": "...", "value": "...",
 "keywords": "...", "location": "...", "reason": "one short sentence"}
Use "search" to query job providers, "request_human" when login or a captcha
requires a person. Plan at most 8 steps.`

// planSteps asks the completer for a step list and decodes it, tolerating
// prose around the JSON array.
func planSteps(ctx context.Context, c Completer, objective, pageOutline string) ([]Step, error) {
	raw, err := c.Complete(ctx, fmt.Sprintf(planPrompt, objective, pageOutline))
	if err != nil {
		return nil, err
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("planner response contains no step array")
	}

	var steps []Step
	if err := json.Unmarshal([]byte(raw[start:end+1]), &steps); err != nil {
		return nil, fmt.Errorf("planner response is not valid step JSON: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner produced an empty plan")
	}
	return steps, nil
}
