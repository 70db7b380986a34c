package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/junavoice/juna-core/core/llms"
)

type chatResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string            `json:"name"`
	Schema jsonschema.Schema `json:"schema"`
	Strict bool              `json:"strict"`
}

type completionResponseBody struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"message"`
	} `json:"choices"`
}

// PromptStructured requests a completion constrained to out's JSON schema
// and unmarshals the result into out. out must be a non-nil pointer.
func (c *Client) PromptStructured(ctx context.Context, prompt string, out any, opts ...llms.PromptOption) error {
	ctx, span := tracer.Start(ctx, "prompt llm structured")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	outType := reflect.TypeOf(out)
	if outType == nil || outType.Kind() != reflect.Ptr {
		return fmt.Errorf("structured output target must be a pointer, got %T", out)
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.ReflectFromType(outType.Elem())
	schemaString, _ := schema.MarshalJSON()
	span.SetAttributes(attribute.String("request.schema", string(schemaString)))

	messages := toMessages(options.Instructions, options.History)
	messages = append(messages, message{Role: messageRoleUser, Content: prompt})

	resp, err := c.post(ctx, requestBody{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: &chatResponseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   outType.Elem().Name(),
				Schema: *schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response body: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var responseBody completionResponseBody
	if err := json.Unmarshal(respBodyBytes, &responseBody); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(responseBody.Choices) == 0 {
		err := fmt.Errorf("response contained no choices")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	content := responseBody.Choices[0].Message.Content
	// Some models wrap the JSON in a fenced block despite the schema.
	if split := strings.Split(content, "```"); len(split) > 1 {
		content = split[1]
		content = strings.TrimPrefix(content, "json")
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		err = fmt.Errorf("error unmarshalling structured content: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
