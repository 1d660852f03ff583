package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/model"
)

// Client wraps an OpenAI-compatible API client and generates assessment
// questions with it.
type Client struct {
	api        *openai.Client
	model      string
	maxRetries uint64
	// first delay between retries; grows exponentially
	retryInterval time.Duration
}

// New creates a new LLM client. maxRetries bounds the retries after the
// first failed call.
func New(baseURL, apiKey, modelName string, maxRetries int) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		api:           openai.NewClientWithConfig(config),
		model:         modelName,
		maxRetries:    uint64(maxRetries),
		retryInterval: 500 * time.Millisecond,
	}
}

// Generate asks the model for one multiple choice question. Transient
// failures, including unusable output, are retried with exponential backoff;
// when retries run out the error is a generation service error.
func (c *Client) Generate(ctx context.Context, req assessment.GenerationRequest) (assessment.GeneratedContent, error) {
	var (
		content assessment.GeneratedContent
		tries   int
	)
	op := func() error {
		tries++
		var err error
		content, err = c.generateOnce(ctx, req)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		slog.Warn("question generation failed, retrying", "attempt", tries, "wait", wait, "error", err)
	})
	if err != nil {
		return assessment.GeneratedContent{}, model.Errorf(model.KindGenerationService,
			"question generation failed after %d attempts: %w", tries, err)
	}
	return content, nil
}

func (c *Client) generateOnce(ctx context.Context, req assessment.GenerationRequest) (assessment.GeneratedContent, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: req.Temperature,
	})
	if err != nil {
		return assessment.GeneratedContent{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return assessment.GeneratedContent{}, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var content assessment.GeneratedContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return assessment.GeneratedContent{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if err := assessment.CheckGenerated(content); err != nil {
		return assessment.GeneratedContent{}, err
	}
	return content, nil
}

// retryable reports whether a failed call may succeed if repeated. Client
// errors other than rate limiting will not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
