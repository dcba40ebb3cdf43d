package encode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUnconfiguredEncoderIsUnavailable(t *testing.T) {
	e := New("", nil)
	if e.Available() {
		t.Fatal("encoder without a base URL must report unavailable")
	}
	if _, err := e.Encode(context.Background(), []string{"ACGT"}); err == nil {
		t.Fatal("Encode on an unavailable encoder must fail")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Sequences []string `json:"sequences"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		vectors := make([][]float32, len(req.Sequences))
		for i := range vectors {
			vectors[i] = []float32{float32(i), 0.5}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	defer srv.Close()

	e := New(srv.URL, nil)
	got, err := e.Encode(context.Background(), []string{"ACGT", "TTAA"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(got) != 2 || got[1][0] != 1 {
		t.Fatalf("unexpected embeddings: %v", got)
	}
}

func TestEncodeRejectsMisalignedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1}}})
	}))
	defer srv.Close()

	e := New(srv.URL, nil)
	if _, err := e.Encode(context.Background(), []string{"A", "C"}); err == nil {
		t.Fatal("vector count mismatch must be an error")
	}
}

func TestEncodeSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := New(srv.URL, nil)
	if _, err := e.Encode(context.Background(), []string{"ACGT"}); err == nil {
		t.Fatal("non-200 must be an error")
	}
}
