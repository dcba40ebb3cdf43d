// Package storage persists analysis and training history in SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mattn/go-sqlite3"

	"seqscope/go-backend/pkg/models"
)

// HistoryStore provides SQLite-backed persistence for run history. Writes
// are keyed by unique file ids; a duplicate id is rejected by the store,
// not by the caller.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens the database at dbPath and creates tables if they
// don't exist.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id TEXT UNIQUE NOT NULL,
		filename TEXT NOT NULL,
		file_type TEXT,
		sequence_count INTEGER,
		total_clusters INTEGER,
		total_reads INTEGER,
		status TEXT DEFAULT 'completed',
		result_data TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS training_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id TEXT UNIQUE NOT NULL,
		filename TEXT NOT NULL,
		file_type TEXT,
		num_rows INTEGER,
		training_time REAL,
		depth TEXT,
		latitude TEXT,
		longitude TEXT,
		collection_date TEXT,
		voyage TEXT,
		status TEXT DEFAULT 'completed',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	_, err := db.Exec(schema)
	return err
}

// AnalysisRecord is the write contract for one finished (or failed)
// analysis session.
type AnalysisRecord struct {
	FileID        string
	Filename      string
	FileType      string
	SequenceCount int
	TotalClusters int
	TotalReads    int
	Status        string
	ResultData    any
}

// RecordAnalysis inserts one analysis row. It reports false, with no
// error, when the file id already exists.
func (s *HistoryStore) RecordAnalysis(rec AnalysisRecord) (bool, error) {
	resultJSON := "{}"
	if rec.ResultData != nil {
		data, err := json.Marshal(rec.ResultData)
		if err != nil {
			return false, fmt.Errorf("encode result data: %w", err)
		}
		resultJSON = string(data)
	}

	_, err := s.db.Exec(`
		INSERT INTO analysis_history
		(file_id, filename, file_type, sequence_count, total_clusters, total_reads, status, result_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileID, rec.Filename, rec.FileType, rec.SequenceCount,
		rec.TotalClusters, rec.TotalReads, rec.Status, resultJSON)
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert analysis record: %w", err)
	}
	return true, nil
}

// SetAnalysisStatus updates the status of an existing analysis row; the
// only mutation history rows ever see.
func (s *HistoryStore) SetAnalysisStatus(fileID, status string) error {
	_, err := s.db.Exec(`UPDATE analysis_history SET status = ? WHERE file_id = ?`, status, fileID)
	if err != nil {
		return fmt.Errorf("update analysis status: %w", err)
	}
	return nil
}

// TrainingRecord is the write contract for one knowledge intake run.
type TrainingRecord struct {
	FileID         string
	Filename       string
	FileType       string
	NumRows        int
	TrainingTime   float64
	Depth          string
	Latitude       string
	Longitude      string
	CollectionDate string
	Voyage         string
	Status         string
}

// RecordTraining inserts one training row; false on duplicate file id.
func (s *HistoryStore) RecordTraining(rec TrainingRecord) (bool, error) {
	_, err := s.db.Exec(`
		INSERT INTO training_history
		(file_id, filename, file_type, num_rows, training_time, depth, latitude, longitude, collection_date, voyage, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileID, rec.Filename, rec.FileType, rec.NumRows, rec.TrainingTime,
		rec.Depth, rec.Latitude, rec.Longitude, rec.CollectionDate, rec.Voyage, rec.Status)
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert training record: %w", err)
	}
	return true, nil
}

// CombinedHistory returns analysis and training rows interleaved, newest
// first.
func (s *HistoryStore) CombinedHistory() ([]models.HistoryRecord, error) {
	records := make([]models.HistoryRecord, 0)

	analysisRows, err := s.db.Query(`
		SELECT file_id, filename, file_type, sequence_count, total_clusters, total_reads, status, result_data, created_at
		FROM analysis_history`)
	if err != nil {
		return nil, fmt.Errorf("query analysis history: %w", err)
	}
	defer func() { _ = analysisRows.Close() }()
	for analysisRows.Next() {
		var rec models.HistoryRecord
		var resultJSON string
		rec.Kind = models.HistoryKindAnalysis
		if err := analysisRows.Scan(&rec.FileID, &rec.Filename, &rec.FileType,
			&rec.SequenceCount, &rec.TotalClusters, &rec.TotalReads,
			&rec.Status, &resultJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis row: %w", err)
		}
		if json.Valid([]byte(resultJSON)) {
			rec.ResultData = json.RawMessage(resultJSON)
		}
		records = append(records, rec)
	}
	if err := analysisRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis history: %w", err)
	}

	trainingRows, err := s.db.Query(`
		SELECT file_id, filename, file_type, num_rows, training_time, depth, latitude, longitude, collection_date, voyage, status, created_at
		FROM training_history`)
	if err != nil {
		return nil, fmt.Errorf("query training history: %w", err)
	}
	defer func() { _ = trainingRows.Close() }()
	for trainingRows.Next() {
		var rec models.HistoryRecord
		rec.Kind = models.HistoryKindTraining
		if err := trainingRows.Scan(&rec.FileID, &rec.Filename, &rec.FileType,
			&rec.NumRows, &rec.TrainingTime, &rec.Depth, &rec.Latitude,
			&rec.Longitude, &rec.CollectionDate, &rec.Voyage,
			&rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan training row: %w", err)
		}
		records = append(records, rec)
	}
	if err := trainingRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training history: %w", err)
	}

	sortNewestFirst(records)
	return records, nil
}

// DeleteRecord removes one row by kind and file id; false when no such
// row exists.
func (s *HistoryStore) DeleteRecord(kind, fileID string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(`DELETE FROM `+table+` WHERE file_id = ?`, fileID)
	if err != nil {
		return false, fmt.Errorf("delete %s record: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearAll wipes both history tables.
func (s *HistoryStore) ClearAll() error {
	if _, err := s.db.Exec(`DELETE FROM analysis_history`); err != nil {
		return fmt.Errorf("clear analysis history: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM training_history`); err != nil {
		return fmt.Errorf("clear training history: %w", err)
	}
	return nil
}

func tableFor(kind string) (string, error) {
	switch kind {
	case models.HistoryKindAnalysis:
		return "analysis_history", nil
	case models.HistoryKindTraining:
		return "training_history", nil
	default:
		return "", fmt.Errorf("invalid history kind %q", kind)
	}
}

func isDuplicate(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func sortNewestFirst(records []models.HistoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
