// Package completion talks to an OpenAI-compatible chat completion and image
// endpoint.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/stream"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	ImageModel  string
	MaxTokens   int
	Temperature float64
}

// StatusError is a non-2xx answer to a streaming request.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint returned %d: %s", e.StatusCode, e.Message)
}

var ErrEmptyResponse = errors.New("completion returned no choices")

type Client struct {
	api        *openai.Client
	http       *http.Client
	baseURL    string
	apiKey     string
	model      string
	imageModel string
	maxTokens  int
	temp       float32
	aggregator *stream.Aggregator
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	httpClient := &http.Client{}
	apiCfg.HTTPClient = httpClient

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		http:       httpClient,
		baseURL:    apiCfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		maxTokens:  cfg.MaxTokens,
		temp:       float32(cfg.Temperature),
		aggregator: stream.New(logger),
		logger:     logger,
	}
}

func (c *Client) request(messages []openai.ChatCompletionMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temp,
	}
}

// Complete returns the first choice of a non-streaming completion.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages))
	if err != nil {
		c.logger.Error("Failed to get completion", zap.Error(err))
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Stream starts a streaming completion and returns the raw event-stream body.
// The body is bound to ctx; the caller closes it.
func (c *Client) Stream(ctx context.Context, messages []openai.ChatCompletionMessage) (io.ReadCloser, error) {
	req := c.request(messages)
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send completion request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		c.logger.Error("Completion stream rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp.Body, nil
}

// StreamText streams a completion and returns the full text, calling
// onFragment for each piece as it arrives.
func (c *Client) StreamText(ctx context.Context, messages []openai.ChatCompletionMessage, onFragment func(string)) (string, error) {
	body, err := c.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return c.aggregator.Collect(ctx, body, onFragment)
}

// GenerateImage returns the URL of a single generated image.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		c.logger.Error("Failed to generate image", zap.Error(err))
		return "", fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrEmptyResponse
	}
	return resp.Data[0].URL, nil
}
