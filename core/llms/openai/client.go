// Package openai implements the llms provider contract over any
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/junavoice/juna-core/core/llms"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

// Client talks to an OpenAI-compatible chat completions endpoint. It
// implements both llms.StreamingClient and llms.StructuredClient.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at a different OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient constructs a client for the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestBody struct {
	Model          string              `json:"model"`
	Messages       []message           `json:"messages"`
	Stream         bool                `json:"stream,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// PromptWithStream streams a completion, invoking onDelta for each content
// fragment, and returns the assembled response.
func (c *Client) PromptWithStream(ctx context.Context, prompt string, onDelta func(delta string), opts ...llms.PromptOption) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm streaming")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	messages := toMessages(options.Instructions, options.History)
	messages = append(messages, message{Role: messageRoleUser, Content: prompt})

	resp, err := c.post(ctx, requestBody{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	var response strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
		if len(chunk) == 0 || chunk == endMessage {
			continue
		}

		var body streamingResponseBody
		if err := json.Unmarshal([]byte(chunk), &body); err != nil {
			err = fmt.Errorf("error unmarshalling stream chunk: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return response.String(), err
		}
		if len(body.Choices) == 0 {
			continue
		}

		if delta := body.Choices[0].Delta.Content; delta != "" {
			response.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		err = fmt.Errorf("error reading stream: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return response.String(), err
	}

	return response.String(), nil
}

func (c *Client) post(ctx context.Context, body requestBody) (*http.Response, error) {
	requestBodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, string(errorBody))
	}
	return resp, nil
}
