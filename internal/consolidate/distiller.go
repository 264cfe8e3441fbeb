// Package consolidate merges clusters of similar traces.
//
// The distiller finds groups of active traces whose embeddings sit above a
// similarity threshold, synthesizes each group into a single reflection
// trace, and archives the sources with a back-link. Synthesis is
// deterministic: the same cluster always produces the same merged trace
// apart from its generated ID. A scheduler runs the distiller on an
// interval.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/memory"
	"github.com/durilabs/duri/internal/semantic"
)

var tracer = otel.Tracer("duri.consolidate")

// Distiller errors.
var (
	ErrInvalidThreshold = errors.New("similarity threshold must be in (0,1]")
)

// Options tunes a consolidation run.
type Options struct {
	// SimilarityThreshold is the minimum cosine similarity for two traces
	// to share a cluster.
	SimilarityThreshold float64

	// MaxClusters caps merged clusters per run. 0 means no cap.
	MaxClusters int

	// DryRun computes clusters without writing anything.
	DryRun bool
}

// Result summarizes a consolidation run.
type Result struct {
	// Created lists IDs of synthesized traces.
	Created []string `json:"created,omitempty"`

	// Archived lists IDs of source traces that were archived.
	Archived []string `json:"archived,omitempty"`

	// Clusters is how many clusters were found (merged or attempted; on a
	// dry run, how many would merge).
	Clusters int `json:"clusters"`

	// Failed is how many clusters could not be merged this run. Their
	// sources stay active and are retried on the next pass.
	Failed int `json:"failed,omitempty"`

	// Processed is how many active traces were examined.
	Processed int `json:"processed"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}

// cluster is a group of similar traces with its pairwise statistics.
type cluster struct {
	members []*memory.Trace
	minSim  float64
	avgSim  float64
}

// Distiller merges similar active traces.
type Distiller struct {
	store    memory.Store
	index    *semantic.Index
	embedder *semantic.TFIDFEmbedder
	logger   *zap.Logger
}

// NewDistiller creates a distiller over the given store and index.
func NewDistiller(store memory.Store, index *semantic.Index, embedder *semantic.TFIDFEmbedder, logger *zap.Logger) (*Distiller, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distiller{store: store, index: index, embedder: embedder, logger: logger}, nil
}

// Run executes one consolidation pass.
func (d *Distiller) Run(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Distiller.Run")
	defer span.End()

	if t := opts.SimilarityThreshold; t <= 0 || t > 1 {
		return nil, fmt.Errorf("%w: got %f", ErrInvalidThreshold, t)
	}

	start := time.Now()
	result := &Result{}

	traces, err := d.store.List(ctx, memory.ListOptions{State: memory.StateActive})
	if err != nil {
		return nil, fmt.Errorf("list active traces: %w", err)
	}
	result.Processed = len(traces)
	if len(traces) < 2 {
		result.Duration = time.Since(start)
		return result, nil
	}

	clusters, err := d.clusterTraces(ctx, traces, opts)
	if err != nil {
		return nil, err
	}
	result.Clusters = len(clusters)

	for _, c := range clusters {
		d.logger.Debug("similarity cluster",
			zap.Int("size", len(c.members)),
			zap.Float64("min_similarity", c.minSim),
			zap.Float64("avg_similarity", c.avgSim),
		)
		if opts.DryRun {
			continue
		}

		merged, err := d.mergeCluster(ctx, c)
		if err != nil {
			// A failed cluster does not abort the pass; its sources stay
			// active for the next run.
			d.logger.Error("cluster merge failed",
				zap.Int("size", len(c.members)),
				zap.Error(err),
			)
			result.Failed++
			continue
		}
		result.Created = append(result.Created, merged.ID)
		for _, m := range c.members {
			result.Archived = append(result.Archived, m.ID)
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("clusters", result.Clusters),
		attribute.Int("processed", result.Processed),
	)
	d.logger.Info("consolidation run finished",
		zap.Int("processed", result.Processed),
		zap.Int("clusters", result.Clusters),
		zap.Int("created", len(result.Created)),
		zap.Int("archived", len(result.Archived)),
		zap.Int("failed", result.Failed),
		zap.Bool("dry_run", opts.DryRun),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// clusterTraces greedily groups traces whose embeddings are at least the
// threshold similar to the cluster seed. Singleton groups are discarded.
func (d *Distiller) clusterTraces(ctx context.Context, traces []*memory.Trace, opts Options) ([]*cluster, error) {
	vectors := make([][]float32, len(traces))
	for i, t := range traces {
		v, err := d.embedder.Embed(ctx, Text(t))
		if err != nil {
			return nil, fmt.Errorf("embed trace %s: %w", t.ID, err)
		}
		vectors[i] = v
	}

	var clusters []*cluster
	used := make([]bool, len(traces))
	for i := range traces {
		if used[i] {
			continue
		}
		if opts.MaxClusters > 0 && len(clusters) >= opts.MaxClusters {
			break
		}

		indices := []int{i}
		for j := i + 1; j < len(traces); j++ {
			if used[j] {
				continue
			}
			if cosine(vectors[i], vectors[j]) >= opts.SimilarityThreshold {
				indices = append(indices, j)
			}
		}
		if len(indices) < 2 {
			continue
		}

		c := &cluster{}
		for _, idx := range indices {
			used[idx] = true
			c.members = append(c.members, traces[idx])
		}
		c.minSim, c.avgSim = pairwiseStats(indices, vectors)
		clusters = append(clusters, c)
	}
	return clusters, nil
}

// mergeCluster synthesizes the merged trace, persists it, archives the
// sources, and swaps the index entries.
func (d *Distiller) mergeCluster(ctx context.Context, c *cluster) (*memory.Trace, error) {
	merged, err := synthesize(c.members)
	if err != nil {
		return nil, fmt.Errorf("synthesize cluster: %w", err)
	}

	if err := d.store.Put(ctx, merged); err != nil {
		return nil, fmt.Errorf("store merged trace: %w", err)
	}

	ids := make([]string, len(c.members))
	for i, m := range c.members {
		ids[i] = m.ID
	}
	if err := d.store.Archive(ctx, ids, merged.ID); err != nil {
		return nil, fmt.Errorf("archive sources: %w", err)
	}

	if err := d.index.Delete(ctx, ids); err != nil {
		return nil, fmt.Errorf("remove source embeddings: %w", err)
	}
	if err := d.index.Add(ctx, []semantic.Document{{
		ID:      merged.ID,
		Content: Text(merged),
		Metadata: map[string]string{
			"kind":    string(merged.Kind),
			"outcome": string(merged.Outcome),
		},
	}}); err != nil {
		return nil, fmt.Errorf("index merged trace: %w", err)
	}
	return merged, nil
}

// Text is the canonical embedding text of a trace.
func Text(t *memory.Trace) string {
	return t.Title + "\n" + t.Content
}

// synthesize builds the merged trace deterministically: a shared title
// prefix when one exists, member content concatenated with attribution,
// and evidence pooled by summing alpha and beta.
func synthesize(members []*memory.Trace) (*memory.Trace, error) {
	titles := make([]string, len(members))
	for i, m := range members {
		titles[i] = m.Title
	}

	title := commonWordPrefix(titles)
	if title == "" {
		title = "Consolidated: " + titles[0]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Consolidated from %d traces.\n", len(members))
	for _, m := range members {
		fmt.Fprintf(&b, "\n[%s] %s (%s, confidence %.2f)\n%s\n",
			m.ID, m.Title, m.Outcome, m.Confidence(), m.Content)
	}

	outcome := majorityOutcome(members)
	merged, err := memory.NewTrace(memory.KindReflection, title, b.String(), outcome, unionTags(members))
	if err != nil {
		return nil, err
	}

	// Pool evidence: the merged trace inherits every member's counts
	// minus the redundant uniform priors beyond the first.
	merged.Alpha, merged.Beta = 0, 0
	for _, m := range members {
		merged.Alpha += m.Alpha
		merged.Beta += m.Beta
	}
	extra := float64(len(members) - 1)
	merged.Alpha -= extra
	merged.Beta -= extra
	return merged, nil
}

// commonWordPrefix returns the longest word-aligned prefix shared by all
// titles, or "" when they share none.
func commonWordPrefix(titles []string) string {
	words := strings.Fields(titles[0])
	for _, t := range titles[1:] {
		other := strings.Fields(t)
		n := 0
		for n < len(words) && n < len(other) && strings.EqualFold(words[n], other[n]) {
			n++
		}
		words = words[:n]
		if len(words) == 0 {
			return ""
		}
	}
	return strings.Join(words, " ")
}

func majorityOutcome(members []*memory.Trace) memory.Outcome {
	successes := 0
	for _, m := range members {
		if m.Outcome == memory.OutcomeSuccess {
			successes++
		}
	}
	if successes*2 >= len(members) {
		return memory.OutcomeSuccess
	}
	return memory.OutcomeFailure
}

func unionTags(members []*memory.Trace) []string {
	seen := map[string]bool{}
	for _, m := range members {
		for _, tag := range m.Tags {
			seen[tag] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// cosine of two unit vectors is their dot product.
func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func pairwiseStats(indices []int, vectors [][]float32) (min, avg float64) {
	min = 1
	var sum float64
	pairs := 0
	for i := 0; i < len(indices); i++ {
		for j := i + 1; j < len(indices); j++ {
			sim := cosine(vectors[indices[i]], vectors[indices[j]])
			if sim < min {
				min = sim
			}
			sum += sim
			pairs++
		}
	}
	if pairs == 0 {
		return 0, 0
	}
	return min, sum / float64(pairs)
}
