// Package vecmem persists sequence embeddings in a qdrant-style vector
// store so classified material can be recalled by similarity later.
package vecmem

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

	"github.com/google/uuid"
)

// Memory talks to the vector store over its REST surface. Construction
// never fails: an unreachable or unconfigured store yields a Memory that
// reports unavailable and turns writes into no-ops.
type Memory struct {
	baseURL    string
	collection string
	vectorSize int
	hc         *http.Client
	logger     *slog.Logger
	available  bool
}

func New(baseURL, collection string, vectorSize int, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		collection: collection,
		vectorSize: vectorSize,
		hc:         &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	if m.baseURL == "" {
		logger.Warn("vector store not configured; knowledge base disabled")
		return m
	}
	if err := m.ensureCollection(context.Background()); err != nil {
		logger.Warn("vector store unreachable; knowledge base disabled", "error", err)
		return m
	}
	m.available = true
	return m
}

func (m *Memory) Available() bool {
	return m != nil && m.available
}

// ensureCollection creates the collection when it does not exist yet.
func (m *Memory) ensureCollection(ctx context.Context) error {
	status, _, err := m.do(ctx, http.MethodGet, "/collections/"+m.collection, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": m.vectorSize, "distance": "Cosine"},
	}
	status, detail, err := m.do(ctx, http.MethodPut, "/collections/"+m.collection, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("create collection returned %d: %s", status, detail)
	}
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// AddKnowledge upserts one point per sequence, index-aligned with vectors
// and labels. Returns whether the write landed.
func (m *Memory) AddKnowledge(ctx context.Context, sequences []string, vectors [][]float32, labels []string) bool {
	if !m.Available() || len(sequences) == 0 {
		return false
	}
	if len(vectors) != len(sequences) || len(labels) != len(sequences) {
		m.logger.Warn("knowledge batch rejected: misaligned inputs",
			"sequences", len(sequences), "vectors", len(vectors), "labels", len(labels))
		return false
	}
	points := make([]point, 0, len(sequences))
	for i, seq := range sequences {
		points = append(points, point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: map[string]any{
				"sequence": seq,
				"label":    labels[i],
				"added_at": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
	status, detail, err := m.do(ctx, http.MethodPut,
		"/collections/"+m.collection+"/points?wait=true",
		map[string]any{"points": points})
	if err != nil {
		m.logger.Warn("knowledge upsert failed", "error", err)
		return false
	}
	if status != http.StatusOK {
		m.logger.Warn("knowledge upsert rejected", "status", status, "detail", detail)
		return false
	}
	return true
}

// Match is a similarity hit from Search.
type Match struct {
	Sequence string
	Label    string
	Score    float64
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search returns the limit nearest stored sequences for the query vector.
func (m *Memory) Search(ctx context.Context, vector []float32, limit int) ([]Match, error) {
	if !m.Available() {
		return nil, fmt.Errorf("vector store unavailable")
	}
	if limit <= 0 {
		limit = 5
	}
	status, detail, err := m.doRaw(ctx, http.MethodPost,
		"/collections/"+m.collection+"/points/search",
		map[string]any{"vector": vector, "limit": limit, "with_payload": true})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search returned %d: %s", status, strings.TrimSpace(string(detail)))
	}
	var parsed searchResponse
	if err := json.Unmarshal(detail, &parsed); err != nil {
		return nil, fmt.Errorf("malformed search response: %w", err)
	}
	matches := make([]Match, 0, len(parsed.Result))
	for _, hit := range parsed.Result {
		match := Match{Score: hit.Score}
		if v, ok := hit.Payload["sequence"].(string); ok {
			match.Sequence = v
		}
		if v, ok := hit.Payload["label"].(string); ok {
			match.Label = v
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (m *Memory) do(ctx context.Context, method, path string, body any) (int, string, error) {
	status, raw, err := m.doRaw(ctx, method, path, body)
	return status, strings.TrimSpace(string(raw)), err
}

func (m *Memory) doRaw(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := m.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, raw, nil
}
