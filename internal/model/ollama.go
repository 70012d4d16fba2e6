// Package model contains HTTP clients for the local model runtime: an
// Ollama-compatible server for embeddings and VLM generation, and a
// Whisper-family transcriber for audio.
package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// OllamaClient speaks the Ollama HTTP protocol.
type OllamaClient struct {
	host    string
	client  *http.Client
	breaker *xerrors.CircuitBreaker
}

// NewOllamaClient creates a client for the given host, e.g.
// http://localhost:11434.
//
// No client-level timeout is set: per-request deadlines come from the
// caller's context so different operations can carry different budgets.
func NewOllamaClient(host string) *OllamaClient {
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     10 * time.Second,
	}
	return &OllamaClient{
		host:    host,
		client:  &http.Client{Transport: transport},
		breaker: xerrors.NewCircuitBreaker("ollama"),
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Embed requests a dense embedding for one prompt.
func (c *OllamaClient) Embed(ctx context.Context, embeddingModel, prompt string) ([]float32, error) {
	var resp embedResponse
	err := c.post(ctx, "/api/embeddings", embedRequest{Model: embeddingModel, Prompt: prompt}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, xerrors.Newf(xerrors.KindModelShapeMismatch, "empty embedding from model %s", embeddingModel)
	}
	return resp.Embedding, nil
}

// Generate runs a (vision) generation with optional image attachments.
func (c *OllamaClient) Generate(ctx context.Context, generationModel, prompt string, images [][]byte) (string, error) {
	req := generateRequest{Model: generationModel, Prompt: prompt, Stream: false}
	for _, img := range images {
		req.Images = append(req.Images, base64.StdEncoding.EncodeToString(img))
	}
	var resp generateResponse
	if err := c.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Available checks if the runtime answers at all.
func (c *OllamaClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *OllamaClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	if !c.breaker.Allow() {
		return xerrors.ErrCircuitOpen
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return xerrors.Wrap(xerrors.KindModelTimeout, path, err)
		}
		if errors.Is(err, context.Canceled) {
			return xerrors.Wrap(xerrors.KindCancelled, path, err)
		}
		return xerrors.Wrap(xerrors.KindModelUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return xerrors.Newf(xerrors.KindModelUnavailable, "%s: status %d: %s", path, resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		c.breaker.RecordFailure()
		return xerrors.Wrap(xerrors.KindModelUnavailable, fmt.Sprintf("%s: decode response", path), err)
	}
	c.breaker.RecordSuccess()
	return nil
}
