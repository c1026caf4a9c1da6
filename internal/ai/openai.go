package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// Groq defaults. Any OpenAI-compatible endpoint works by overriding BaseURL
// (DeepSeek: https://api.deepseek.com/v1).
const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultTemperature = 0.15
	DefaultRetries     = 2
)

// OpenAIConfig configures NewOpenAICompatible. Zero fields take the defaults.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	// Retries is the number of extra attempts after the first one fails.
	Retries int
	// RetryWait is multiplied by the attempt number between attempts.
	RetryWait time.Duration
	Timeout   time.Duration
	Logger    *slog.Logger
}

// openAICompatible is the concrete Assessor backed by an OpenAI-compatible
// /chat/completions endpoint.
type openAICompatible struct {
	client      *openai.Client
	model       string
	temperature float32
	retries     int
	retryWait   time.Duration
	logger      *slog.Logger
}

// NewOpenAICompatible returns an Assessor that calls an OpenAI-compatible
// chat completions API in JSON-object mode.
func NewOpenAICompatible(cfg OpenAIConfig) Assessor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &openAICompatible{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		retries:     cfg.Retries,
		retryWait:   cfg.RetryWait,
		logger:      cfg.Logger,
	}
}

// Assess asks the model for G, F, P. Transport failures and unparseable
// answers are both retried; the last error decides the returned sentinel.
func (c *openAICompatible) Assess(ctx context.Context, risk scoring.RiskInput) (Result, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(risk)},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(c.retryWait * time.Duration(attempt)):
			}
		}

		result, err := c.once(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.logger.Warn("ai: assessment attempt failed",
			"attempt", attempt+1,
			"model", c.model,
			"error", err,
		)
	}
	return Result{}, lastErr
}

func (c *openAICompatible) once(ctx context.Context, req openai.ChatCompletionRequest) (Result, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Result{}, fmt.Errorf("%w: API error %d: %s", ErrUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices in response", ErrMalformedResponse)
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}
	result.Provider = c.model
	return result, nil
}
