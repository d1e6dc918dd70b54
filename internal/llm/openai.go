package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/sakif/agentcoder/internal/config"
)

const systemPrompt = "You are a careful software engineer. Answer only through the requested structured output."

// OpenAIClient talks to Azure OpenAI or any OpenAI-compatible endpoint.
//
// One client is shared by every run. The limiter paces calls across all of
// them so a burst of submissions does not trip the provider's rate limit.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	output      string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewOpenAIClient builds a client from the model configuration.
func NewOpenAIClient(cfg config.Model, logger *slog.Logger) (*OpenAIClient, error) {
	var oc openai.ClientConfig
	switch cfg.Provider {
	case config.ProviderAzure:
		if cfg.Endpoint == "" {
			return nil, errors.New("llm: azure provider needs an endpoint")
		}
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		if cfg.APIVersion != "" {
			oc.APIVersion = cfg.APIVersion
		}
		// Requests name the deployment through the model field.
		deployment := cfg.Deployment
		oc.AzureModelMapperFunc = func(string) string { return deployment }
	case config.ProviderOpenAI:
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			oc.BaseURL = cfg.Endpoint
		}
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	oc.HTTPClient = &http.Client{}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	output := cfg.Output
	if output == "" {
		output = config.OutputFunctions
	}

	logger.Info("model client configured",
		slog.String("provider", cfg.Provider),
		slog.String("deployment", cfg.Deployment),
		slog.String("output", output),
	)

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Deployment,
		output:      output,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}, nil
}

// Complete sends call as a single user message. For calls with a schema
// the answer is forced through the configured structured-output mode and
// the JSON arguments are returned.
func (c *OpenAIClient) Complete(ctx context.Context, call Call) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: waiting for rate limiter: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: call.Prompt},
		},
		Temperature: sendTemperature(c.temperature),
		MaxTokens:   c.maxTokens,
	}
	if call.Schema != nil {
		c.withSchema(&req, call)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("llm: %s call: status %d: %s: %w", call.Name, apiErr.HTTPStatusCode, apiErr.Message, err)
		}
		return "", fmt.Errorf("llm: %s call: %w", call.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: %s call: no choices returned", call.Name)
	}

	choice := resp.Choices[0]
	c.logger.Debug("model call complete",
		slog.String("call", call.Name),
		slog.String("finish_reason", string(choice.FinishReason)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)),
	)
	if choice.FinishReason == openai.FinishReasonLength {
		return "", fmt.Errorf("llm: %s call: answer cut off at %d tokens", call.Name, c.maxTokens)
	}

	msg := choice.Message
	switch {
	case msg.FunctionCall != nil && msg.FunctionCall.Arguments != "":
		return msg.FunctionCall.Arguments, nil
	case len(msg.ToolCalls) > 0:
		return msg.ToolCalls[0].Function.Arguments, nil
	default:
		return msg.Content, nil
	}
}

func (c *OpenAIClient) withSchema(req *openai.ChatCompletionRequest, call Call) {
	fn := openai.FunctionDefinition{
		Name:        call.Name,
		Description: call.Description,
		Parameters:  call.Schema,
	}
	switch c.output {
	case config.OutputTools:
		req.Tools = []openai.Tool{{Type: openai.ToolTypeFunction, Function: &fn}}
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: call.Name},
		}
	case config.OutputJSONSchema:
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        call.Name,
				Description: call.Description,
				Schema:      call.Schema,
			},
		}
	default:
		// Legacy function calling works on every Azure API version.
		req.Functions = []openai.FunctionDefinition{fn}
		req.FunctionCall = openai.FunctionCall{Name: call.Name}
	}
}

// sendTemperature keeps a configured 0 on the wire. The request field is
// omitempty, and a missing temperature means the provider default of 1.
func sendTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
