package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ollamaClient generates text embeddings via the Ollama API. Query and
// passage hints are sent as text prefixes (e.g. "search_query: ").
type ollamaClient struct {
	baseURL       string
	model         string
	dimensions    int
	sendDims      bool
	queryPrefix   string
	passagePrefix string
	httpClient    *http.Client
}

func newOllamaClient(cfg Config) *ollamaClient {
	return &ollamaClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		model:         cfg.Model,
		dimensions:    cfg.Dimensions,
		sendDims:      cfg.SendDimensions,
		queryPrefix:   cfg.TaskQuery,
		passagePrefix: cfg.TaskPassage,
		httpClient:    &http.Client{},
	}
}

type ollamaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *ollamaClient) vendor() Vendor { return VendorOllama }

func (c *ollamaClient) embed(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	prefix := ""
	switch input {
	case InputQuery:
		prefix = c.queryPrefix
	case InputPassage:
		prefix = c.passagePrefix
	}

	reqBody := ollamaEmbedRequest{Model: c.model, Input: make([]string, len(texts))}
	for i, t := range texts {
		reqBody.Input[i] = prefix + t
	}
	if c.sendDims {
		reqBody.Dimensions = c.dimensions
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &VendorError{Provider: string(VendorOllama), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &VendorError{Provider: string(VendorOllama), Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &VendorError{Provider: string(VendorOllama), Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var result ollamaEmbedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &VendorError{Provider: string(VendorOllama), Status: resp.StatusCode, Message: "decode embed response", Err: err}
	}
	return result.Embeddings, nil
}
