/**
 * @description
 * OpenAI-compatible Chat Completions client (OpenRouter by default).
 * Used by the prediction service to turn a race prompt into model text.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - backend/internal/config
 * - backend/internal/prediction: error kinds and response types
 *
 * @notes
 * - No retry loop here; the prediction service owns retry policy and
 *   decides from the error kind whether another attempt is worthwhile.
 */

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/prediction"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel     = "google/gemini-2.5-flash"
	requestTimeout   = 120 * time.Second
	defaultMaxTokens = 8192
	opGenerate       = "openai.generate"
)

var (
	errResponseRead   = errors.New("openai response read failed")
	errResponseDecode = errors.New("openai response decode failed")
	errMissingKey     = errors.New("openai api key is not configured")
)

type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	model      string
}

type ChatRequest struct {
	Model          string           `json:"model"`
	Messages       []Message        `json:"messages"`
	Temperature    float64          `json:"temperature"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
	Reasoning      *ReasoningConfig `json:"reasoning,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ReasoningConfig struct {
	Exclude bool `json:"exclude,omitempty"` // keep reasoning tokens out of content
}

type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

type ChatResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []Choice         `json:"choices"`
	Usage   prediction.Usage `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func NewClient(cfg *config.Config) *Client {
	baseURL := strings.TrimSpace(cfg.LLM.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.LLM.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.LLM.RequestTimeout
	if timeout <= 0 {
		timeout = requestTimeout
	}

	return &Client{
		apiKey:     cfg.LLM.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the model name being used by this client
func (c *Client) Name() string {
	return c.model
}

// GenerateStructured sends one chat completion request asking for a JSON
// object and returns the first choice's content.
func (c *Client) GenerateStructured(ctx context.Context, prompt prediction.Prompt, opts prediction.GenerateOptions) (*prediction.ModelResponse, error) {
	if c.apiKey == "" {
		return nil, prediction.NewError(prediction.KindInvalidCredential, opGenerate, errMissingKey)
	}
	if strings.TrimSpace(prompt.User) == "" {
		return nil, prediction.NewError(prediction.KindValidation, opGenerate, errors.New("user prompt is required"))
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: strings.TrimSpace(prompt.System)},
			{Role: "user", Content: strings.TrimSpace(prompt.User)},
		},
		Temperature:    opts.Temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Reasoning:      &ReasoningConfig{Exclude: true},
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, prediction.NewError(prediction.KindModel, opGenerate, err)
	}

	return c.send(ctx, bodyBytes)
}

func (c *Client) send(ctx context.Context, bodyBytes []byte) (*prediction.ModelResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return nil, prediction.NewError(prediction.KindModel, opGenerate, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, prediction.NewError(prediction.KindTransient, opGenerate, fmt.Errorf("openai request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		logger.Error("Failed to read OpenAI response body: %v | partial: %s", readErr, logger.Truncate(string(respBody), 1000))
		return nil, prediction.NewError(prediction.KindTransient, opGenerate, fmt.Errorf("%w: %v", errResponseRead, readErr))
	}

	if resp.StatusCode != http.StatusOK {
		logger.Error("OpenAI API error: %d - %s", resp.StatusCode, logger.Truncate(string(respBody), 1000))
		return nil, prediction.NewError(prediction.KindForStatus(resp.StatusCode), opGenerate,
			fmt.Errorf("openai api returned status %d: %s", resp.StatusCode, apiErrorMessage(respBody)))
	}

	var result ChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		logger.Error("Failed to decode OpenAI response: %v | raw: %s", err, logger.Truncate(string(respBody), 1000))
		return nil, prediction.NewError(prediction.KindTransient, opGenerate, fmt.Errorf("%w: %v", errResponseDecode, err))
	}
	if len(result.Choices) == 0 {
		return nil, prediction.NewError(prediction.KindModel, opGenerate, errors.New("no choices returned from openai"))
	}

	choice := result.Choices[0]
	finish := choice.FinishReason
	if isFilteredFinish(finish) {
		return nil, prediction.NewError(prediction.KindContentFiltered, opGenerate,
			fmt.Errorf("openai response blocked (finish_reason: %s)", finish))
	}

	// Only content is used; reasoning tokens never reach the parser.
	content := strings.TrimSpace(choice.Message.Content)
	if reasoning := strings.TrimSpace(choice.Message.Reasoning); reasoning != "" {
		logger.L().Debug("openrouter reasoning excluded from content", zap.String("reasoning", logger.Truncate(reasoning, 200)))
	}
	if content == "" {
		logger.Error("OpenAI response missing content | finish_reason=%s | raw: %s", finish, logger.Truncate(string(respBody), 1000))
		if finish == "length" {
			return nil, prediction.NewError(prediction.KindModel, opGenerate,
				errors.New("openai response truncated before any content was produced"))
		}
		return nil, prediction.NewError(prediction.KindModel, opGenerate,
			fmt.Errorf("openai response missing content (finish_reason: %s)", finish))
	}

	logger.L().Info("model call completed",
		zap.String("model", c.model),
		zap.String("finish_reason", finish),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
	)

	model := result.Model
	if model == "" {
		model = c.model
	}
	return &prediction.ModelResponse{
		Text:         content,
		FinishReason: finish,
		Model:        model,
		Usage:        result.Usage,
	}, nil
}

func isFilteredFinish(reason string) bool {
	switch strings.ToLower(reason) {
	case "content_filter", "safety", "recitation", "prohibited_content", "blocklist":
		return true
	}
	return false
}

func apiErrorMessage(body []byte) string {
	var e apiErrorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return logger.Truncate(string(body), 200)
}
