// Package cluster folds raw per-sequence predictions into grouped
// statistics for the streaming channel.
package cluster

import (
	"math"
	"sort"

	"seqscope/go-backend/pkg/models"
)

// TopGroupLimit caps how many groups the summary displays. The cluster
// count itself covers every distinct genus; only the display is capped.
const TopGroupLimit = 20

// Aggregate groups a prediction batch by genus and ranks the groups by
// abundance. Ties keep first-seen genus order. A zero-length batch yields
// an empty summary instead of dividing by zero.
func Aggregate(predictions []models.Prediction) models.ClusterSummary {
	totalReads := len(predictions)
	if totalReads == 0 {
		return models.ClusterSummary{TopGroups: []models.GroupStat{}}
	}

	byGenus := make(map[string]*models.GroupStat, 16)
	order := make([]*models.GroupStat, 0, 16)
	for _, pred := range predictions {
		group, ok := byGenus[pred.Genus]
		if !ok {
			group = &models.GroupStat{Genus: pred.Genus, ClassName: pred.ClassName}
			byGenus[pred.Genus] = group
			order = append(order, group)
		}
		group.Count++
		group.TotalProbability += pred.Probability
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Count > order[j].Count
	})

	top := order
	if len(top) > TopGroupLimit {
		top = top[:TopGroupLimit]
	}
	groups := make([]models.GroupStat, 0, len(top))
	for rank, group := range top {
		g := *group
		g.GroupID = rank
		g.Percentage = round2(float64(g.Count) / float64(totalReads) * 100)
		g.AvgProbability = g.TotalProbability / float64(g.Count)
		groups = append(groups, g)
	}

	return models.ClusterSummary{
		TotalReads:    totalReads,
		TotalClusters: len(order),
		TopGroups:     groups,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
