// Package classify wraps the external classification service behind
// bounded retries with exponential backoff.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"seqscope/go-backend/pkg/models"
)

const (
	// UnknownLabel substitutes for absent genus/class fields; missing data
	// never fails the pipeline.
	UnknownLabel = "Unknown"

	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = 2 * time.Second
	DefaultAttemptTimeout = 300 * time.Second
)

// Config locates the service and bounds the retry loop.
type Config struct {
	BaseURL        string
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	return c
}

// TerminalFailure reports an exhausted retry budget. The session treats it
// as a terminal error; no partial predictions are returned.
type TerminalFailure struct {
	Attempts int
	Message  string
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("classification failed after %d attempts: %s", e.Attempts, e.Message)
}

// AttemptObserver is notified before every attempt (the first included)
// with the 1-based attempt index and the attempt bound, so the observer
// always knows the current count.
type AttemptObserver func(attempt, total int)

type Client struct {
	cfg    Config
	hc     *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg.withDefaults(), hc: &http.Client{}, logger: logger}
}

// newBackoffPolicy builds the delay schedule: base delay doubling per
// attempt, no jitter, so successive delays strictly increase.
func newBackoffPolicy(cfg Config) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.BackoffBase),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(10*time.Minute),
		backoff.WithMaxElapsedTime(0),
	)
}

// Classify sends the entire batch as one multipart payload and returns
// predictions index-aligned with records. Network failures, non-2xx
// statuses and malformed bodies all consume one attempt from the bound;
// the payload is rebuilt fresh for every attempt.
func (c *Client) Classify(ctx context.Context, records []models.SequenceRecord, observe AttemptObserver) ([]models.Prediction, error) {
	policy := newBackoffPolicy(c.cfg)
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if observe != nil {
			observe(attempt, c.cfg.MaxAttempts)
		}

		preds, err := c.classifyOnce(ctx, records)
		if err == nil {
			return preds, nil
		}
		lastErr = err
		c.logger.Warn("classification attempt failed",
			"attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "error", err)

		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, policy.NextBackOff()); err != nil {
			lastErr = err
			break
		}
	}

	return nil, &TerminalFailure{Attempts: c.cfg.MaxAttempts, Message: lastErr.Error()}
}

func (c *Client) classifyOnce(ctx context.Context, records []models.SequenceRecord) ([]models.Prediction, error) {
	body, contentType, err := batchPayload(records)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/predict/fasta", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("classification service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("malformed classification response: %w", err)
	}
	return parsed.predictions(), nil
}

// ClassifySequence proxies one raw sequence to the service's text endpoint
// and passes the response body through untouched. No retry loop: the proxy
// route reports upstream failures directly to its caller.
func (c *Client) ClassifySequence(ctx context.Context, sequence string) (json.RawMessage, error) {
	form := strings.NewReader("sequence=" + strings.TrimSpace(sequence))
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/predict/sequence", form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classification service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.RawMessage(data), nil
}

// batchPayload renders the batch as one FASTA document inside a multipart
// form. Built per call so each retry gets an unconsumed body.
func batchPayload(records []models.SequenceRecord) (io.Reader, string, error) {
	var fasta bytes.Buffer
	for _, rec := range records {
		fasta.WriteString(">")
		fasta.WriteString(rec.ID)
		fasta.WriteString("\n")
		fasta.WriteString(rec.Residues)
		fasta.WriteString("\n")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "sequences.fasta")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(fasta.Bytes()); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type batchResponse struct {
	Count   int `json:"count"`
	Results []struct {
		Prediction predictionPayload `json:"prediction"`
	} `json:"results"`
}

type predictionPayload struct {
	Genus       string   `json:"genus"`
	GenusProb   *float64 `json:"genus_prob"`
	Probability *float64 `json:"probability"`
	Class       string   `json:"class"`
}

// predictions normalizes the wire shape, defaulting absent fields instead
// of failing. Order is preserved so index i matches input record i.
func (r batchResponse) predictions() []models.Prediction {
	preds := make([]models.Prediction, 0, len(r.Results))
	for _, item := range r.Results {
		p := models.Prediction{Genus: UnknownLabel, ClassName: UnknownLabel}
		if item.Prediction.Genus != "" {
			p.Genus = item.Prediction.Genus
		}
		if item.Prediction.Class != "" {
			p.ClassName = item.Prediction.Class
		}
		switch {
		case item.Prediction.GenusProb != nil:
			p.Probability = *item.Prediction.GenusProb
		case item.Prediction.Probability != nil:
			p.Probability = *item.Prediction.Probability
		}
		preds = append(preds, p)
	}
	return preds
}
