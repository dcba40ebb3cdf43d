package models

import (
	"encoding/json"
	"time"
)

// SequenceRecord is one parsed read from an uploaded FASTA/FASTQ artifact.
// Records are immutable once produced by the reader.
type SequenceRecord struct {
	ID       string `json:"id"`
	Residues string `json:"residues"`
	Length   int    `json:"length"`
}

// Prediction is the per-sequence result returned by the classification
// service, index-aligned with the reader's record order. Absent source
// fields default to "Unknown"/0 rather than failing the pipeline.
type Prediction struct {
	Genus       string  `json:"genus"`
	ClassName   string  `json:"class"`
	Probability float64 `json:"probability"`
}

// GroupStat is one genus group folded out of a prediction batch.
type GroupStat struct {
	GroupID          int     `json:"group_id"`
	Genus            string  `json:"genus"`
	ClassName        string  `json:"class"`
	Count            int     `json:"count"`
	Percentage       float64 `json:"percentage"`
	AvgProbability   float64 `json:"avg_probability"`
	TotalProbability float64 `json:"-"`
}

// ClusterSummary is the client-facing aggregation of a prediction batch.
// TotalClusters counts every distinct genus while TopGroups is capped at
// the display limit; the asymmetry is intentional.
type ClusterSummary struct {
	TotalReads      int         `json:"total_reads"`
	TotalClusters   int         `json:"total_clusters"`
	NoiseCount      int         `json:"noise_count"`
	NoisePercentage float64     `json:"noise_percentage"`
	TopGroups       []GroupStat `json:"top_groups"`
}

// VerificationEvent is one streamed verification row for a top group.
type VerificationEvent struct {
	Step            string  `json:"step"`
	ClusterID       int     `json:"cluster_id"`
	Status          string  `json:"status"`
	MatchPercentage float64 `json:"match_percentage"`
	Description     string  `json:"description"`
	FinalUpdate     bool    `json:"final_update"`
}

// History record kinds.
const (
	HistoryKindAnalysis = "analysis"
	HistoryKindTraining = "training"
)

// Analysis/training outcome states persisted to history.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// HistoryRecord is one row of the combined history feed. Analysis and
// training rows share the envelope; kind-specific fields are omitted when
// empty.
type HistoryRecord struct {
	Kind           string          `json:"type"`
	FileID         string          `json:"file_id"`
	Filename       string          `json:"filename"`
	FileType       string          `json:"file_type"`
	SequenceCount  int             `json:"sequence_count,omitempty"`
	TotalClusters  int             `json:"total_clusters,omitempty"`
	TotalReads     int             `json:"total_reads,omitempty"`
	NumRows        int             `json:"num_rows,omitempty"`
	TrainingTime   float64         `json:"training_time,omitempty"`
	Depth          string          `json:"depth,omitempty"`
	Latitude       string          `json:"latitude,omitempty"`
	Longitude      string          `json:"longitude,omitempty"`
	CollectionDate string          `json:"collection_date,omitempty"`
	Voyage         string          `json:"voyage,omitempty"`
	Status         string          `json:"status"`
	ResultData     json.RawMessage `json:"result_data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
