// Package stream defines the channel protocol: the closed set of event
// variants a session may emit, plus send and pacing primitives.
package stream

import (
	"encoding/json"

	"seqscope/go-backend/pkg/models"
)

// Event is the closed set of channel payloads. Every variant marshals to a
// JSON object whose "type" field discriminates the shape, so malformed
// events are a compile-time category rather than a map-typo one.
type Event interface {
	EventType() string
}

// Log is informational progress narration.
type Log struct {
	Message string
}

func (Log) EventType() string { return "log" }

func (e Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{e.EventType(), e.Message})
}

// Progress marks a pipeline stage as complete.
type Progress struct {
	Step string
}

func (Progress) EventType() string { return "progress" }

func (e Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Step   string `json:"step"`
		Status string `json:"status"`
	}{e.EventType(), e.Step, "complete"})
}

// ClusteringResult carries the aggregated summary, sent once per session.
type ClusteringResult struct {
	Data models.ClusterSummary
}

func (ClusteringResult) EventType() string { return "clustering_result" }

func (e ClusteringResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string                `json:"type"`
		Data models.ClusterSummary `json:"data"`
	}{e.EventType(), e.Data})
}

// VerificationUpdate carries one verification row for a top group.
type VerificationUpdate struct {
	Data models.VerificationEvent
}

func (VerificationUpdate) EventType() string { return "verification_update" }

func (e VerificationUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string                   `json:"type"`
		Data models.VerificationEvent `json:"data"`
	}{e.EventType(), e.Data})
}

// Error is a terminal failure marker; only cleanup follows it.
type Error struct {
	Message string
}

func (Error) EventType() string { return "error" }

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{e.EventType(), e.Message})
}

// Complete is the terminal success marker.
type Complete struct {
	Message string
}

func (Complete) EventType() string { return "complete" }

func (e Complete) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{e.EventType(), e.Message})
}
