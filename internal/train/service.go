// Package train ingests labelled reference material into the vector
// knowledge base and records the run in training history.
package train

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"seqscope/go-backend/internal/encode"
	"seqscope/go-backend/internal/seqio"
	"seqscope/go-backend/internal/storage"
	"seqscope/go-backend/internal/vecmem"
	"seqscope/go-backend/pkg/models"
)

// ErrUnavailable is returned when either the encoder or the vector store
// collaborator is not configured, so training cannot run at all.
var ErrUnavailable = errors.New("training unavailable: encoder or vector store not configured")

// Metadata is the operator-supplied sampling context attached to a
// training run. All fields are optional free text.
type Metadata struct {
	Depth          string
	Latitude       string
	Longitude      string
	CollectionDate string
	Voyage         string
}

// Result summarises one finished intake run.
type Result struct {
	FileID       string  `json:"file_id"`
	Filename     string  `json:"filename"`
	NumRows      int     `json:"num_rows"`
	TrainingTime float64 `json:"training_time"`
	Status       string  `json:"status"`
}

// Service wires the intake pipeline: parse, embed, upsert, record.
type Service struct {
	encoder *encode.Encoder
	memory  *vecmem.Memory
	history *storage.HistoryStore
	logger  *slog.Logger
}

func NewService(encoder *encode.Encoder, memory *vecmem.Memory, history *storage.HistoryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{encoder: encoder, memory: memory, history: history, logger: logger}
}

// Available reports whether a training run could succeed right now.
func (s *Service) Available() bool {
	return s.encoder.Available() && s.memory.Available()
}

// Ingest parses r (format chosen from the filename extension), embeds
// every labelled sequence and upserts the batch into the knowledge base.
// A failed run still leaves a failed row in training history.
func (s *Service) Ingest(ctx context.Context, r io.Reader, filename string, meta Metadata) (Result, error) {
	if !s.Available() {
		return Result{}, ErrUnavailable
	}

	fileID := uuid.NewString()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	started := time.Now()

	sequences, labels, err := parse(ctx, r, ext)
	if err != nil {
		return Result{}, err
	}
	if len(sequences) == 0 {
		return Result{}, fmt.Errorf("no usable rows in %q", filename)
	}

	result := Result{FileID: fileID, Filename: filename, NumRows: len(sequences)}

	vectors, err := s.encoder.Encode(ctx, sequences)
	if err != nil {
		s.recordRun(fileID, filename, ext, len(sequences), time.Since(started), meta, models.StatusFailed)
		return Result{}, fmt.Errorf("embed sequences: %w", err)
	}
	if !s.memory.AddKnowledge(ctx, sequences, vectors, labels) {
		s.recordRun(fileID, filename, ext, len(sequences), time.Since(started), meta, models.StatusFailed)
		return Result{}, errors.New("vector store rejected the knowledge batch")
	}

	elapsed := time.Since(started)
	s.recordRun(fileID, filename, ext, len(sequences), elapsed, meta, models.StatusCompleted)

	result.TrainingTime = elapsed.Seconds()
	result.Status = models.StatusCompleted
	s.logger.Info("training run completed",
		"file_id", fileID, "filename", filename, "rows", len(sequences),
		"elapsed", elapsed)
	return result, nil
}

// recordRun is best effort: history failures are logged, never fatal.
func (s *Service) recordRun(fileID, filename, ext string, rows int, elapsed time.Duration, meta Metadata, status string) {
	if s.history == nil {
		return
	}
	_, err := s.history.RecordTraining(storage.TrainingRecord{
		FileID:         fileID,
		Filename:       filename,
		FileType:       ext,
		NumRows:        rows,
		TrainingTime:   elapsed.Seconds(),
		Depth:          meta.Depth,
		Latitude:       meta.Latitude,
		Longitude:      meta.Longitude,
		CollectionDate: meta.CollectionDate,
		Voyage:         meta.Voyage,
		Status:         status,
	})
	if err != nil {
		s.logger.Warn("training history write failed", "file_id", fileID, "error", err)
	}
}

func parse(ctx context.Context, r io.Reader, ext string) (sequences, labels []string, err error) {
	switch ext {
	case "csv":
		return parseCSV(r)
	default:
		format, ok := seqio.FormatForExtension(ext)
		if !ok {
			return nil, nil, fmt.Errorf("unsupported training file type %q", ext)
		}
		records, err := seqio.ReadAll(ctx, r, format)
		if err != nil {
			return nil, nil, err
		}
		for _, rec := range records {
			sequences = append(sequences, rec.Residues)
			labels = append(labels, rec.ID)
		}
		return sequences, labels, nil
	}
}

// parseCSV accepts a header row with a sequence column and a label column
// (species, taxon, genus or label), matched case-insensitively. Rows with
// an empty sequence are skipped.
func parseCSV(r io.Reader) (sequences, labels []string, err error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	seqCol, labelCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "sequence":
			seqCol = i
		case "species", "taxon", "genus", "label":
			if labelCol < 0 {
				labelCol = i
			}
		}
	}
	if seqCol < 0 || labelCol < 0 {
		return nil, nil, errors.New("csv must contain a sequence column and a species/taxon/genus/label column")
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		if seqCol >= len(row) || labelCol >= len(row) {
			continue
		}
		seq := strings.TrimSpace(row[seqCol])
		if seq == "" {
			continue
		}
		sequences = append(sequences, strings.ToUpper(seq))
		labels = append(labels, strings.TrimSpace(row[labelCol]))
	}
	return sequences, labels, nil
}
