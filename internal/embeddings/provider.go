// Package embeddings generalizes the teacher's LM Studio-specific
// embedding client into an EmbeddingProvider interface plus an HTTP
// base provider, and layers spec.md §4.8's context-aware adapter on
// top.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cliairmonitor/epimem/internal/errors"
)

// Provider is the base embedding interface every backend (LM Studio,
// OpenAI-shaped, or a future local model server) implements.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HTTPProvider calls an OpenAI-shaped POST /embeddings endpoint, the
// same wire contract the teacher's LMStudioEmbedding used, generalized
// to take a context and a rate limiter.
type HTTPProvider struct {
	baseURL    string
	model      string
	client     *http.Client
	limiter    *rate.Limiter
	dimensions int
}

// NewHTTPProvider builds a provider against baseURL/model. ratePerSec
// <= 0 disables rate limiting.
func NewHTTPProvider(baseURL, model string, ratePerSec float64, burst int) *HTTPProvider {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		model:      model,
		client:     &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		dimensions: 1536,
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed calls the provider's /embeddings endpoint, blocking on the
// rate limiter (if configured) and respecting ctx cancellation.
func (h *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(errors.KindRateLimitExceeded, "embedding rate limit wait failed", err)
		}
	}

	body, err := json.Marshal(embeddingRequest{Input: text, Model: h.model})
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindEmbedding, "failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindEmbedding, "failed to call embedding API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.New(errors.KindEmbedding, fmt.Sprintf("embedding API error: %s - %s", resp.Status, string(respBody)))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, "failed to decode embedding response", err)
	}
	if len(embResp.Data) == 0 {
		return nil, errors.New(errors.KindEmbedding, "no embedding returned")
	}

	vec := embResp.Data[0].Embedding
	h.dimensions = len(vec)
	return vec, nil
}

// Dimensions returns the last observed embedding width, defaulting to
// 1536 before the first successful call.
func (h *HTTPProvider) Dimensions() int {
	return h.dimensions
}

var _ Provider = (*HTTPProvider)(nil)
