package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"seqscope/go-backend/internal/train"
)

const maxUploadMemory = 64 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Backend is running"})
}

// handleUpload stores the artifact and hands back the token the client
// uses to open its analysis channel.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowClient(r) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "malformed multipart body", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	token, err := s.uploads.Save(r.FormValue("type"), file)
	if err != nil {
		s.logger.Error("upload failed", "error", err)
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	s.logger.Info("artifact stored", "file_id", token)
	writeJSON(w, http.StatusOK, map[string]string{
		"file_id": token,
		"message": "File received. Connect to WebSocket.",
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		records, err := s.history.CombinedHistory()
		if err != nil {
			s.logger.Error("history read failed", "error", err)
			http.Error(w, "failed to fetch history", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": records})
	case http.MethodDelete:
		if err := s.history.ClearAll(); err != nil {
			s.logger.Error("history clear failed", "error", err)
			http.Error(w, "failed to clear history", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "All history cleared successfully"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHistoryRecord(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deleted, err := s.history.DeleteRecord(r.PathValue("record_type"), r.PathValue("file_id"))
	if err != nil {
		http.Error(w, "invalid record type", http.StatusBadRequest)
		return
	}
	if !deleted {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Record deleted successfully"})
}

// handleTextAnalysis proxies one raw sequence to the classification
// service; upstream failures map to 502 rather than being retried.
func (s *Server) handleTextAnalysis(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Sequence string `json:"sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Sequence) == "" {
		http.Error(w, "sequence is required", http.StatusBadRequest)
		return
	}

	result, err := s.classifier.ClassifySequence(r.Context(), req.Sequence)
	if err != nil {
		s.logger.Warn("text analysis proxy failed", "error", err)
		http.Error(w, fmt.Sprintf("external service request failed: %v", err), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(result)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowClient(r) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "malformed multipart body", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	meta := train.Metadata{
		Depth:          r.FormValue("depth"),
		Latitude:       r.FormValue("latitude"),
		Longitude:      r.FormValue("longitude"),
		CollectionDate: r.FormValue("collectionDate"),
		Voyage:         r.FormValue("voyage"),
	}
	result, err := s.trainer.Ingest(r.Context(), file, header.Filename, meta)
	switch {
	case errors.Is(err, train.ErrUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		s.logger.Error("training run failed", "filename", header.Filename, "error", err)
		http.Error(w, fmt.Sprintf("training failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Successfully processed %d records", result.NumRows),
		"file_id":       result.FileID,
		"num_rows":      result.NumRows,
		"training_time": result.TrainingTime,
		"metadata": map[string]string{
			"depth":          meta.Depth,
			"latitude":       meta.Latitude,
			"longitude":      meta.Longitude,
			"collectionDate": meta.CollectionDate,
			"voyage":         meta.Voyage,
			"filename":       header.Filename,
		},
	})
}

func (s *Server) allowClient(r *http.Request) bool {
	return s.limiter.Allow(clientKey(r), time.Now())
}

func clientKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
