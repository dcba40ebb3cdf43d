// Package encode wraps the external sequence encoder service that turns
// residues into fixed-width embedding vectors.
package encode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Encoder is an explicitly constructed collaborator. When no service URL
// is configured it stays in an unavailable state instead of being a nil
// global; callers check Available and degrade.
type Encoder struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

func New(baseURL string, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		logger.Warn("sequence encoder not configured; embedding features disabled")
	}
	return &Encoder{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
}

func (e *Encoder) Available() bool {
	return e != nil && e.baseURL != ""
}

type embedRequest struct {
	Sequences []string `json:"sequences"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Encode returns one embedding vector per input sequence, index-aligned.
func (e *Encoder) Encode(ctx context.Context, sequences []string) ([][]float32, error) {
	if !e.Available() {
		return nil, fmt.Errorf("sequence encoder unavailable")
	}
	payload, err := json.Marshal(embedRequest{Sequences: sequences})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("encoder returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("malformed encoder response: %w", err)
	}
	if len(parsed.Embeddings) != len(sequences) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d sequences", len(parsed.Embeddings), len(sequences))
	}
	return parsed.Embeddings, nil
}
