package verify

import (
	"errors"
	"testing"

	"seqscope/go-backend/pkg/models"
)

func summaryOf(groups ...models.GroupStat) models.ClusterSummary {
	total := 0
	for _, g := range groups {
		total += g.Count
	}
	return models.ClusterSummary{TotalReads: total, TotalClusters: len(groups), TopGroups: groups}
}

func collect(t *testing.T, summary models.ClusterSummary, topN int) []models.VerificationEvent {
	t.Helper()
	var events []models.VerificationEvent
	if err := Stream(summary, topN, func(ev models.VerificationEvent) error {
		events = append(events, ev)
		return nil
	}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	return events
}

func TestStatusLabelThresholds(t *testing.T) {
	cases := map[float64]string{
		0.97: StatusKnown,
		0.95: StatusKnown,
		0.82: StatusRelated,
		0.80: StatusRelated,
		0.60: StatusNovel,
		0.50: StatusNovel,
		0.20: StatusGhost,
		0.00: StatusGhost,
	}
	for prob, want := range cases {
		if got := StatusLabel(prob); got != want {
			t.Fatalf("probability %v: expected %s, got %s", prob, want, got)
		}
	}
}

func TestStreamOrderAndFinalTag(t *testing.T) {
	summary := summaryOf(
		models.GroupStat{Genus: "Vibrio", ClassName: "Gamma", Count: 70, Percentage: 70, AvgProbability: 0.97},
		models.GroupStat{Genus: "Bacillus", ClassName: "Bacilli", Count: 20, Percentage: 20, AvgProbability: 0.82},
		models.GroupStat{Genus: "Thermus", ClassName: "Deinococci", Count: 10, Percentage: 10, AvgProbability: 0.31},
	)
	events := collect(t, summary, DefaultTopN)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Step != "Verification 1/3" || events[0].Status != StatusKnown {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[0].MatchPercentage != 97.0 {
		t.Fatalf("unexpected match percentage: %v", events[0].MatchPercentage)
	}
	if events[0].Description != "Vibrio (Class: Gamma, 70 sequences, 70.0%)" {
		t.Fatalf("unexpected description: %q", events[0].Description)
	}
	for i, ev := range events {
		if ev.ClusterID != i {
			t.Fatalf("unexpected cluster id at %d: %d", i, ev.ClusterID)
		}
		if ev.FinalUpdate != (i == len(events)-1) {
			t.Fatalf("final tag wrong at %d: %+v", i, ev)
		}
	}
	if events[2].Status != StatusGhost {
		t.Fatalf("unexpected last status: %+v", events[2])
	}
}

func TestStreamCapsAtTopN(t *testing.T) {
	groups := make([]models.GroupStat, 0, 8)
	for i := 0; i < 8; i++ {
		groups = append(groups, models.GroupStat{Genus: "g", Count: 8 - i, AvgProbability: 0.9})
	}
	events := collect(t, summaryOf(groups...), DefaultTopN)
	if len(events) != DefaultTopN {
		t.Fatalf("expected %d events, got %d", DefaultTopN, len(events))
	}
	if events[4].Step != "Verification 5/5" || !events[4].FinalUpdate {
		t.Fatalf("unexpected last event: %+v", events[4])
	}
}

func TestStreamPlaceholderOnZeroGroups(t *testing.T) {
	events := collect(t, summaryOf(), DefaultTopN)
	if len(events) != 1 {
		t.Fatalf("expected exactly one placeholder event, got %d", len(events))
	}
	ev := events[0]
	if ev.Status != "No predictions available" || !ev.FinalUpdate || ev.Step != "Verification 1/1" {
		t.Fatalf("unexpected placeholder: %+v", ev)
	}
}

func TestStreamEmitErrorPropagates(t *testing.T) {
	wantErr := errors.New("channel down")
	err := Stream(summaryOf(models.GroupStat{Genus: "g", Count: 1}), 5, func(models.VerificationEvent) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected emit error, got %v", err)
	}
}
