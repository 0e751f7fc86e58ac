package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

// openaiClient speaks the OpenAI /embeddings protocol, which Jina and Voyage
// also serve. Those two take the query/passage hint as an extra body field.
type openaiClient struct {
	client         openai.Client
	provider       Vendor
	model          string
	dimensions     int
	sendDimensions bool
	taskField      string
	taskQuery      string
	taskPassage    string
}

func newOpenAIClient(cfg Config) *openaiClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
	}

	c := &openaiClient{
		client:         openai.NewClient(opts...),
		provider:       cfg.Vendor,
		model:          cfg.Model,
		dimensions:     cfg.Dimensions,
		sendDimensions: cfg.SendDimensions,
		taskQuery:      cfg.TaskQuery,
		taskPassage:    cfg.TaskPassage,
	}
	switch cfg.Vendor {
	case VendorJina:
		c.taskField = "task"
	case VendorVoyage:
		c.taskField = "input_type"
	}
	return c
}

func (c *openaiClient) vendor() Vendor { return c.provider }

func (c *openaiClient) task(input InputType) string {
	switch input {
	case InputQuery:
		return c.taskQuery
	case InputPassage:
		return c.taskPassage
	}
	return ""
}

func (c *openaiClient) embed(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(c.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.sendDimensions {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	var opts []option.RequestOption
	if task := c.task(input); task != "" && c.taskField != "" {
		opts = append(opts, option.WithJSONSet(c.taskField, task))
	}

	resp, err := c.client.Embeddings.New(ctx, params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &VendorError{Provider: string(c.provider), Status: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		return nil, &VendorError{Provider: string(c.provider), Err: err}
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, &VendorError{Provider: string(c.provider), Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		out[d.Index] = vector.FromFloat64(d.Embedding)
	}
	for i, v := range out {
		if v == nil {
			return nil, &VendorError{Provider: string(c.provider), Message: fmt.Sprintf("missing embedding for input %d", i)}
		}
	}
	return out, nil
}
