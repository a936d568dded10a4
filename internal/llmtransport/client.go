package llmtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/deepresearch/internal/httpclient"
	"github.com/kadirpekel/deepresearch/internal/obslog"
)

// MetricsRecorder is the slice of obslog.Metrics the Client drives.
type MetricsRecorder interface {
	RecordLLMCall(model string, d time.Duration)
	RecordLLMError(model string)
}

// noopMetrics discards everything; used when the caller wires no recorder.
type noopMetrics struct{}

func (noopMetrics) RecordLLMCall(string, time.Duration) {}
func (noopMetrics) RecordLLMError(string)               {}

// Client is a chat-completion client for an OpenAI-compatible endpoint.
type Client struct {
	endpoint         string
	apiKey           string
	model            string
	defaultTemp      float64
	defaultMaxTokens int
	metrics          MetricsRecorder
	http             *httpclient.Client
}

// Config configures a new Client. Temperature and MaxTokens are the
// environment-wide generation defaults (spec §6 "Environment"); an agent's
// per-call Options only need to override them when it wants something
// different (the writer's repair pass does not, for instance).
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	Metrics     MetricsRecorder
}

// New builds a Client against an OpenAI-compatible /chat/completions endpoint.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Client{
		endpoint:         cfg.Endpoint,
		apiKey:           cfg.APIKey,
		model:            cfg.Model,
		defaultTemp:      cfg.Temperature,
		defaultMaxTokens: cfg.MaxTokens,
		metrics:          cfg.Metrics,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

type chatRequest struct {
	Model          string       `json:"model"`
	Messages       []Message    `json:"messages"`
	Temperature    float64      `json:"temperature,omitempty"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *responseFmt `json:"response_format,omitempty"`
	Stream         bool         `json:"stream,omitempty"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		OutputTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatCompletion issues a single chat-completion request and returns the
// response content with any <think> trace split out. It fails loud: on
// network error, non-2xx, or malformed response body it returns a non-nil
// error wrapping context, never a silently empty Completion. Every call is
// wrapped in a span and recorded against metrics exactly once, regardless
// of which of the error paths below fires, mirroring the teacher's
// pkg/llms/openai.go Generate pattern.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts Options) (completion Completion, err error) {
	ctx, span := obslog.Tracer("deepresearch/llmtransport").Start(ctx, obslog.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(obslog.AttrLLMModel, c.model),
			attribute.Bool("streaming", opts.Stream),
		),
	)
	start := time.Now()
	defer func() {
		c.metrics.RecordLLMCall(c.model, time.Since(start))
		if err != nil {
			c.metrics.RecordLLMError(c.model)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if opts.Stream {
		return Completion{}, fmt.Errorf("llmtransport: streaming is not supported by this client")
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = c.defaultTemp
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.defaultMaxTokens
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if opts.ResponseFormat == ResponseFormatJSON {
		reqBody.ResponseFormat = &responseFmt{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("llmtransport: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("llmtransport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("llmtransport: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("llmtransport: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Completion{}, fmt.Errorf("llmtransport: endpoint returned HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{}, fmt.Errorf("llmtransport: decode response: %w", err)
	}
	if parsed.Error != nil {
		return Completion{}, fmt.Errorf("llmtransport: endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("llmtransport: empty choices in response")
	}

	content := parsed.Choices[0].Message.Content
	var thinking, rest string
	if opts.EnableThinking {
		thinking, rest = SplitThinking(content)
	} else {
		rest = content
	}

	return Completion{
		Content:      rest,
		Thinking:     thinking,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}
