/**
 * @description
 * Anthropic Messages API client used as an alternative prediction model.
 * Exposes the same GenerateStructured contract as the OpenAI-compatible client.
 *
 * @dependencies
 * - github.com/anthropics/anthropic-sdk-go
 * - backend/internal/config
 * - backend/internal/prediction
 */

package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/prediction"
	"go.uber.org/zap"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 8192
	opGenerate       = "anthropic.generate"

	// appended to the system prompt; the Messages API has no JSON mode flag
	jsonInstruction = "Respond with a single JSON object only."
)

var errMissingKey = errors.New("anthropic api key is not configured")

type Client struct {
	client sdk.Client
	model  string
	hasKey bool
}

func NewClient(cfg *config.Config, opts ...option.RequestOption) *Client {
	model := strings.TrimSpace(cfg.LLM.AnthropicModel)
	if model == "" {
		model = DefaultModel
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.LLM.AnthropicAPIKey)}
	if cfg.LLM.RequestTimeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.LLM.RequestTimeout))
	}
	// The SDK retries on its own by default; the prediction service does that.
	reqOpts = append(reqOpts, option.WithMaxRetries(0))
	reqOpts = append(reqOpts, opts...)

	return &Client{
		client: sdk.NewClient(reqOpts...),
		model:  model,
		hasKey: cfg.LLM.AnthropicAPIKey != "",
	}
}

func (c *Client) Name() string {
	return c.model
}

func (c *Client) GenerateStructured(ctx context.Context, prompt prediction.Prompt, opts prediction.GenerateOptions) (*prediction.ModelResponse, error) {
	if !c.hasKey {
		return nil, prediction.NewError(prediction.KindInvalidCredential, opGenerate, errMissingKey)
	}
	user := strings.TrimSpace(prompt.User)
	if user == "" {
		return nil, prediction.NewError(prediction.KindValidation, opGenerate, errors.New("user prompt is required"))
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(user))},
		System:      []sdk.TextBlockParam{{Text: strings.TrimSpace(prompt.System + "\n\n" + jsonInstruction)}},
		Temperature: sdk.Float(opts.Temperature),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, prediction.NewError(classify(err), opGenerate, fmt.Errorf("anthropic: create message: %w", err))
	}

	stop := string(msg.StopReason)
	if stop == "refusal" {
		return nil, prediction.NewError(prediction.KindContentFiltered, opGenerate, errors.New("anthropic response refused"))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, prediction.NewError(prediction.KindModel, opGenerate,
			fmt.Errorf("anthropic response missing content (stop_reason: %s)", stop))
	}

	usage := prediction.Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	logger.L().Info("model call completed",
		zap.String("model", string(msg.Model)),
		zap.String("stop_reason", stop),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)

	return &prediction.ModelResponse{
		Text:         content,
		FinishReason: stop,
		Model:        string(msg.Model),
		Usage:        usage,
	}, nil
}

func classify(err error) prediction.Kind {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return prediction.KindForStatus(apiErr.StatusCode)
	}
	// transport failures and timeouts
	return prediction.KindTransient
}
