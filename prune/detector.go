package prune

import (
	"context"
	"log/slog"
)

// DefaultMaxDeletionRatio is the share of eligible documents at or above
// which a pass is aborted.
const DefaultMaxDeletionRatio = 0.7

// LiveLister returns the entity ids that should exist in one partition.
type LiveLister func(ctx context.Context, partition string) ([]string, error)

// PartitionFunc maps an indexed entity id back to its partition.
type PartitionFunc func(entityID string) (string, bool)

// Detector decides which indexed documents are confirmed stale. It is
// shared by every category so the safety thresholds cannot drift apart.
type Detector struct {
	maxRatio float64
	logger   *slog.Logger
}

// NewDetector creates a detector. A ratio of 0 selects the default.
func NewDetector(maxRatio float64, logger *slog.Logger) (*Detector, error) {
	if maxRatio == 0 {
		maxRatio = DefaultMaxDeletionRatio
	}
	if maxRatio < 0 || maxRatio > 1 {
		return nil, ErrInvalidRatio
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{maxRatio: maxRatio, logger: logger.With("component", "stale-detector")}, nil
}

// MaxDeletionRatio returns the abort threshold.
func (d *Detector) MaxDeletionRatio() float64 {
	return d.maxRatio
}

// FindStale returns the indexed ids absent from the live set.
//
// Documents of a partition whose listing failed are excluded. When every
// partition failed, or when the stale share of the eligible documents
// reaches the maximum ratio, nothing is returned. Ids that map to no
// partition are eligible.
func (d *Detector) FindStale(ctx context.Context, indexed, partitions []string, list LiveLister, partitionOf PartitionFunc) []string {
	if len(indexed) == 0 {
		return nil
	}

	live := make(map[string]struct{})
	failed := make(map[string]bool)
	for _, partition := range partitions {
		ids, err := list(ctx, partition)
		if err != nil {
			d.logger.Warn("error listing live records, excluding partition", "partition", partition, "err", err)
			failed[partition] = true
			continue
		}
		for _, id := range ids {
			live[id] = struct{}{}
		}
	}
	if len(partitions) == 0 || len(failed) == len(partitions) {
		d.logger.Warn("no partition could be verified, skipping pass", "partitions", len(partitions), "indexed", len(indexed))
		return nil
	}

	var stale []string
	eligible := 0
	for _, id := range indexed {
		if p, ok := partitionOf(id); ok && failed[p] {
			continue
		}
		eligible++
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if eligible == 0 || len(stale) == 0 {
		return nil
	}

	ratio := float64(len(stale)) / float64(eligible)
	if ratio >= d.maxRatio {
		d.logger.Warn("stale ratio too high, skipping pass",
			"stale", len(stale), "eligible", eligible, "ratio", ratio, "max_ratio", d.maxRatio)
		return nil
	}
	return stale
}
