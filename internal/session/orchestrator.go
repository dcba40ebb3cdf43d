// Package session drives one analysis run end to end: locate the uploaded
// artifact, read it, classify the batch, aggregate, stream verification
// rows and persist the outcome, releasing the artifact exactly once no
// matter how the run ends.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"seqscope/go-backend/internal/classify"
	"seqscope/go-backend/internal/cluster"
	"seqscope/go-backend/internal/metrics"
	"seqscope/go-backend/internal/seqio"
	"seqscope/go-backend/internal/storage"
	"seqscope/go-backend/internal/stream"
	"seqscope/go-backend/internal/uploads"
	"seqscope/go-backend/internal/verify"
	"seqscope/go-backend/pkg/models"
)

// State is the session's position in the pipeline. FAILED is reachable
// from every non-terminal state.
type State string

const (
	StateConnected   State = "connected"
	StateValidating  State = "validating"
	StateReading     State = "reading"
	StateClassifying State = "classifying"
	StateAggregating State = "aggregating"
	StateVerifying   State = "verifying"
	StatePersisting  State = "persisting"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

// Options bound a session's tunables.
type Options struct {
	// TopN caps how many groups receive verification updates.
	TopN int
	// EventsPerSecond paces clustering and verification sends.
	EventsPerSecond float64
	// DrainDelay holds the channel open after the terminal event.
	DrainDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.TopN <= 0 {
		o.TopN = verify.DefaultTopN
	}
	if o.DrainDelay <= 0 {
		o.DrainDelay = time.Second
	}
	return o
}

// Orchestrator runs sessions. Safe for concurrent use: each Run call
// builds its own session state and sessions share nothing mutable beyond
// the history store, which serializes writes itself.
type Orchestrator struct {
	uploads    *uploads.Store
	classifier *classify.Client
	history    *storage.HistoryStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opts       Options
}

func NewOrchestrator(store *uploads.Store, classifier *classify.Client, history *storage.HistoryStore, m *metrics.Metrics, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		uploads:    store,
		classifier: classifier,
		history:    history,
		metrics:    m,
		logger:     logger,
		opts:       opts.withDefaults(),
	}
}

// Run executes one session over sender and blocks until the session is
// done. It never returns an error: every failure is surfaced to the
// client as an error event and absorbed at this boundary. Closing the
// transport is the caller's job; Run guarantees everything before that.
func (o *Orchestrator) Run(ctx context.Context, token string, sender stream.Sender) {
	s := &session{
		Orchestrator: o,
		token:        token,
		out:          stream.NewBestEffort(sender),
		pacer:        stream.NewPacer(o.opts.EventsPerSecond),
		logger:       o.logger.With("file_id", token),
		state:        StateConnected,
	}
	o.metrics.SessionStarted()
	s.run(ctx)
}

type session struct {
	*Orchestrator
	token  string
	out    *stream.BestEffort
	pacer  *stream.Pacer
	logger *slog.Logger
	state  State

	artifact uploads.Artifact
	// sequenceCount is kept for the failure record once reading succeeded.
	sequenceCount int
}

func (s *session) run(ctx context.Context) {
	s.to(StateValidating)
	artifact, ok := s.uploads.Lookup(s.token)
	if !ok {
		s.send(stream.Error{Message: "File not found"})
		s.fail()
		return
	}
	s.artifact = artifact

	// Registered before the recover handler so the artifact is released
	// last, after any panic has been absorbed. Remove is idempotent.
	defer s.uploads.Remove(s.token)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panicked", "state", s.state, "panic", r)
			s.send(stream.Error{Message: fmt.Sprintf("internal error: %v", r)})
			s.recordFailure()
			s.fail()
		}
	}()

	s.to(StateReading)
	s.send(stream.Log{Message: fmt.Sprintf("Reading Sequences from %s file...", strings.ToUpper(string(artifact.Format)))})

	records, err := s.readArtifact(ctx)
	if err != nil {
		s.send(stream.Error{Message: err.Error()})
		s.fail()
		return
	}
	if len(records) == 0 {
		s.send(stream.Error{Message: "No sequences found in file. Please check the file format."})
		s.fail()
		return
	}
	s.sequenceCount = len(records)
	s.metrics.SequencesParsed(len(records))
	s.send(stream.Log{Message: fmt.Sprintf("Found %d sequences", len(records))})
	s.send(stream.Progress{Step: "Reading"})

	s.to(StateClassifying)
	s.send(stream.Log{Message: "Generating AI Embeddings..."})
	s.send(stream.Log{Message: "Running UMAP & HDBSCAN..."})
	predictions, err := s.classifier.Classify(ctx, records, func(attempt, total int) {
		s.metrics.ClassifyAttempt()
		s.send(stream.Log{Message: fmt.Sprintf("Connecting to analysis service (attempt %d/%d)...", attempt, total)})
	})
	if err != nil {
		s.send(stream.Error{Message: err.Error()})
		s.recordFailure()
		s.fail()
		return
	}
	s.send(stream.Log{Message: "Clustering Complete"})
	s.send(stream.Progress{Step: "Classification"})

	s.to(StateAggregating)
	summary := cluster.Aggregate(predictions)
	s.pace(ctx)
	s.send(stream.ClusteringResult{Data: summary})

	s.to(StateVerifying)
	s.send(stream.Log{Message: "Starting NCBI Verification (Slow)..."})
	_ = verify.Stream(summary, s.opts.TopN, func(ev models.VerificationEvent) error {
		s.pace(ctx)
		s.send(stream.VerificationUpdate{Data: ev})
		return nil
	})
	s.send(stream.Progress{Step: "Verification"})

	s.send(stream.Complete{Message: "Analysis Finished."})

	s.to(StatePersisting)
	s.recordSuccess(summary)
	s.metrics.SessionCompleted()

	s.drain(ctx)
	s.to(StateClosed)
	s.logger.Info("session completed",
		"sequences", s.sequenceCount,
		"clusters", summary.TotalClusters,
		"channel_down", s.out.Down())
}

func (s *session) readArtifact(ctx context.Context) ([]models.SequenceRecord, error) {
	fh, err := seqio.Open(s.artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = fh.Close() }()
	return seqio.ReadAll(ctx, fh, s.artifact.Format)
}

// recordSuccess persists the completed row with a snapshot of the top
// groups. History failures are logged, never sent to the client.
func (s *session) recordSuccess(summary models.ClusterSummary) {
	if s.history == nil {
		return
	}
	snapshot := summary.TopGroups
	if len(snapshot) > verify.DefaultTopN {
		snapshot = snapshot[:verify.DefaultTopN]
	}
	inserted, err := s.history.RecordAnalysis(storage.AnalysisRecord{
		FileID:        s.token,
		Filename:      s.artifact.Filename,
		FileType:      string(s.artifact.Format),
		SequenceCount: s.sequenceCount,
		TotalClusters: summary.TotalClusters,
		TotalReads:    summary.TotalReads,
		Status:        models.StatusCompleted,
		ResultData: map[string]any{
			"total_reads":    summary.TotalReads,
			"total_clusters": summary.TotalClusters,
			"top_groups":     snapshot,
		},
	})
	if err != nil {
		s.logger.Warn("history write failed", "error", err)
		return
	}
	if !inserted {
		s.logger.Warn("history row already exists for this file id")
	}
}

// recordFailure leaves a failed row behind. The token was allocated at
// upload time, so a row can always be written; if one already exists its
// status is flipped instead.
func (s *session) recordFailure() {
	if s.history == nil {
		return
	}
	inserted, err := s.history.RecordAnalysis(storage.AnalysisRecord{
		FileID:        s.token,
		Filename:      s.artifact.Filename,
		FileType:      string(s.artifact.Format),
		SequenceCount: s.sequenceCount,
		Status:        models.StatusFailed,
	})
	if err != nil {
		s.logger.Warn("history write failed", "error", err)
		return
	}
	if !inserted {
		if err := s.history.SetAnalysisStatus(s.token, models.StatusFailed); err != nil {
			s.logger.Warn("history status update failed", "error", err)
		}
	}
}

func (s *session) send(event stream.Event) {
	if s.out.Send(event) {
		s.metrics.EventSent(event.EventType())
	}
}

func (s *session) pace(ctx context.Context) {
	s.pacer.Wait(ctx)
}

// drain holds the channel open briefly so the client can consume buffered
// events before the transport goes away.
func (s *session) drain(ctx context.Context) {
	if s.out.Down() {
		return
	}
	select {
	case <-time.After(s.opts.DrainDelay):
	case <-ctx.Done():
	}
}

func (s *session) to(next State) {
	s.logger.Debug("session state", "from", s.state, "to", next)
	s.state = next
}

func (s *session) fail() {
	s.to(StateFailed)
	s.metrics.SessionFailed()
}
