// Package verify derives per-group verification updates from a cluster
// summary and streams them in descending abundance order.
package verify

import (
	"fmt"
	"math"

	"seqscope/go-backend/pkg/models"
)

// DefaultTopN bounds how many groups receive a verification update.
const DefaultTopN = 5

// Status labels keyed by average group probability.
const (
	StatusKnown   = "KNOWN"
	StatusRelated = "RELATED"
	StatusNovel   = "NOVEL"
	StatusGhost   = "GHOST"
)

// StatusLabel maps an average probability onto its verification label.
func StatusLabel(avgProbability float64) string {
	switch {
	case avgProbability >= 0.95:
		return StatusKnown
	case avgProbability >= 0.80:
		return StatusRelated
	case avgProbability >= 0.50:
		return StatusNovel
	default:
		return StatusGhost
	}
}

// Stream emits one verification event per top group, capped at topN, last
// event tagged final. A summary with zero groups emits exactly one
// placeholder event so the channel never goes silent at this stage.
// The emitted sequence is not restartable.
func Stream(summary models.ClusterSummary, topN int, emit func(models.VerificationEvent) error) error {
	if topN <= 0 {
		topN = DefaultTopN
	}
	groups := summary.TopGroups
	if len(groups) > topN {
		groups = groups[:topN]
	}

	if len(groups) == 0 {
		return emit(models.VerificationEvent{
			Step:        "Verification 1/1",
			ClusterID:   0,
			Status:      "No predictions available",
			Description: "The file may be empty or in an unsupported format",
			FinalUpdate: true,
		})
	}

	total := len(groups)
	for idx, group := range groups {
		pct := round1(group.Percentage)
		event := models.VerificationEvent{
			Step:            fmt.Sprintf("Verification %d/%d", idx+1, total),
			ClusterID:       idx,
			Status:          StatusLabel(group.AvgProbability),
			MatchPercentage: round1(group.AvgProbability * 100),
			Description: fmt.Sprintf("%s (Class: %s, %d sequences, %.1f%%)",
				group.Genus, group.ClassName, group.Count, pct),
			FinalUpdate: idx == total-1,
		}
		if err := emit(event); err != nil {
			return err
		}
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
