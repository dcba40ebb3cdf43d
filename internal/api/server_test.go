package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"seqscope/go-backend/internal/classify"
	"seqscope/go-backend/internal/config"
	"seqscope/go-backend/internal/encode"
	"seqscope/go-backend/internal/session"
	"seqscope/go-backend/internal/storage"
	"seqscope/go-backend/internal/train"
	"seqscope/go-backend/internal/uploads"
	"seqscope/go-backend/internal/vecmem"
	"seqscope/go-backend/pkg/models"
)

// classifierStub serves both prediction endpoints of the external service.
func classifierStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/predict/fasta":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count": 2,
				"results": []map[string]any{
					{"prediction": map[string]any{"genus": "Genus-X", "genus_prob": 0.97, "class": "Mammalia"}},
					{"prediction": map[string]any{"genus": "Genus-X", "genus_prob": 0.93, "class": "Mammalia"}},
				},
			})
		case "/predict/sequence":
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse sequence form: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sequence": r.PostFormValue("sequence"),
				"genus":    "Genus-X",
			})
		default:
			t.Errorf("unexpected classifier path %q", r.URL.Path)
		}
	}))
}

type testEnv struct {
	server  *Server
	ts      *httptest.Server
	history *storage.HistoryStore
}

func newTestEnv(t *testing.T, mutate func(*config.Config), trainer *train.Service) testEnv {
	t.Helper()
	stub := classifierStub(t)
	t.Cleanup(stub.Close)

	cfg := config.Default()
	disabled := false
	cfg.RateLimit.Enabled = &disabled
	cfg.Classifier.BaseURL = stub.URL
	cfg.Classifier.BackoffBase = config.Duration(5 * time.Millisecond)
	if mutate != nil {
		mutate(&cfg)
	}

	store, err := uploads.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}
	history, err := storage.NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	classifier := classify.New(classify.Config{
		BaseURL:     cfg.Classifier.BaseURL,
		MaxAttempts: cfg.Classifier.MaxAttempts,
		BackoffBase: cfg.Classifier.BackoffBase.Std(),
	}, nil)
	orch := session.NewOrchestrator(store, classifier, history, nil, nil, session.Options{
		TopN:       cfg.Verification.TopN,
		DrainDelay: time.Millisecond,
	})
	if trainer == nil {
		trainer = train.NewService(encode.New("", nil), vecmem.New("", "kb", 2, nil), history, nil)
	}

	srv := NewServer(cfg, Deps{
		Uploads:      store,
		History:      history,
		Classifier:   classifier,
		Trainer:      trainer,
		Orchestrator: orch,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{server: srv, ts: ts, history: history}
}

func multipartUpload(t *testing.T, fieldValues map[string]string, filename, body string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(body)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fieldValues {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("status field = %q", payload.Status)
	}
}

func TestUploadThenAnalyzeOverWebSocket(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	body, contentType := multipartUpload(t, map[string]string{"type": "fasta"}, "reads.fasta", ">a\nACGT\n>b\nACGA\n")
	resp, err := http.Post(env.ts.URL+"/upload", contentType, body)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var uploadResp struct {
		FileID  string `json:"file_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if uploadResp.FileID == "" || uploadResp.Message != "File received. Connect to WebSocket." {
		t.Fatalf("unexpected upload response: %+v", uploadResp)
	}

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/" + uploadResp.FileID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer func() { _ = conn.Close() }()

	var types []string
	sawClustering := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var event map[string]any
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read event (got %v so far): %v", types, err)
		}
		kind, _ := event["type"].(string)
		types = append(types, kind)
		if kind == "clustering_result" {
			sawClustering = true
		}
		if kind == "complete" || kind == "error" {
			break
		}
	}
	if types[len(types)-1] != "complete" {
		t.Fatalf("session did not complete: %v", types)
	}
	if !sawClustering {
		t.Fatalf("no clustering_result seen: %v", types)
	}

	records, err := env.history.CombinedHistory()
	if err != nil {
		t.Fatalf("CombinedHistory: %v", err)
	}
	if len(records) != 1 || records[0].Status != models.StatusCompleted {
		t.Fatalf("expected one completed row, got %+v", records)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("type", "fasta")
	_ = mw.Close()

	resp, err := http.Post(env.ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	if _, err := env.history.RecordAnalysis(storage.AnalysisRecord{
		FileID: "abc", Filename: "abc.fasta", FileType: "fasta", Status: models.StatusCompleted,
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	resp, err := http.Get(env.ts.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	var listing struct {
		History []models.HistoryRecord `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	_ = resp.Body.Close()
	if len(listing.History) != 1 || listing.History[0].FileID != "abc" {
		t.Fatalf("unexpected history: %+v", listing.History)
	}

	del := func(path string) int {
		req, err := http.NewRequest(http.MethodDelete, env.ts.URL+path, nil)
		if err != nil {
			t.Fatalf("build DELETE %s: %v", path, err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE %s: %v", path, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	if code := del("/history/bogus/abc"); code != http.StatusBadRequest {
		t.Fatalf("invalid kind status = %d, want 400", code)
	}
	if code := del("/history/analysis/missing"); code != http.StatusNotFound {
		t.Fatalf("missing record status = %d, want 404", code)
	}
	if code := del("/history/analysis/abc"); code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", code)
	}
	if code := del("/history"); code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", code)
	}
}

func TestTextAnalysisProxy(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := http.Post(env.ts.URL+"/api/text-analysis", "application/json",
		strings.NewReader(`{"sequence":" ACGT "}`))
	if err != nil {
		t.Fatalf("POST /api/text-analysis: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Sequence string `json:"sequence"`
		Genus    string `json:"genus"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Sequence != "ACGT" || payload.Genus != "Genus-X" {
		t.Fatalf("unexpected proxy payload: %+v", payload)
	}
}

func TestTextAnalysisRejectsEmptySequence(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := http.Post(env.ts.URL+"/api/text-analysis", "application/json",
		strings.NewReader(`{"sequence":"  "}`))
	if err != nil {
		t.Fatalf("POST /api/text-analysis: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTrainUnavailableWithoutCollaborators(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	body, contentType := multipartUpload(t, nil, "ref.fasta", ">a\nACGT\n")
	resp, err := http.Post(env.ts.URL+"/train", contentType, body)
	if err != nil {
		t.Fatalf("POST /train: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestTrainEndpoint(t *testing.T) {
	encSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sequences []string `json:"sequences"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		vectors := make([][]float32, len(req.Sequences))
		for i := range vectors {
			vectors[i] = []float32{0.1, 0.2}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	defer encSrv.Close()
	vecSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer vecSrv.Close()

	history, err := storage.NewHistoryStore(filepath.Join(t.TempDir(), "train.db"))
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	defer func() { _ = history.Close() }()
	trainer := train.NewService(encode.New(encSrv.URL, nil), vecmem.New(vecSrv.URL, "kb", 2, nil), history, nil)

	env := newTestEnv(t, nil, trainer)

	body, contentType := multipartUpload(t, map[string]string{"voyage": "V-7"}, "ref.csv", "species,sequence\nGenus-X,ACGT\n")
	resp, err := http.Post(env.ts.URL+"/train", contentType, body)
	if err != nil {
		t.Fatalf("POST /train: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, detail)
	}
	var payload struct {
		Message string `json:"message"`
		NumRows int    `json:"num_rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.NumRows != 1 || payload.Message != "Successfully processed 1 records" {
		t.Fatalf("unexpected train response: %+v", payload)
	}
}

func TestUploadRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		enabled := true
		cfg.RateLimit.Enabled = &enabled
		cfg.RateLimit.RPS = 0.001
		cfg.RateLimit.Burst = 1
	}, nil)

	post := func() int {
		body, contentType := multipartUpload(t, map[string]string{"type": "fasta"}, "reads.fasta", ">a\nACGT\n")
		resp, err := http.Post(env.ts.URL+"/upload", contentType, body)
		if err != nil {
			t.Fatalf("POST /upload: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(); code != http.StatusOK {
		t.Fatalf("first upload status = %d, want 200", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("second upload status = %d, want 429", code)
	}
}

func TestCORSRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/history", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "http://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
