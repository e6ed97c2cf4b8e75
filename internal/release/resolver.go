package release

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Priya8975/error-ingest/internal/domain"
)

// SnapshotSource loads release snapshots from the release-management
// collaborator. It returns (nil, nil) when no snapshot exists for the key.
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context, key domain.ReleaseKey) (*domain.ReleaseSnapshot, error)
}

// Resolution is the outcome of component resolution.
type Resolution struct {
	Component *domain.Component
	Method    string
}

// Resolver attributes stack traces to release components. A Resolver is
// scoped to one ingestion batch: it caches snapshots and compiled globs for
// the batch's lifetime and is then discarded. It is not safe for concurrent use.
type Resolver struct {
	source    SnapshotSource
	snapshots map[domain.ReleaseKey]*domain.ReleaseSnapshot
	globs     map[string]*regexp.Regexp
}

// NewResolver creates a batch-scoped resolver.
func NewResolver(source SnapshotSource) *Resolver {
	return &Resolver{
		source:    source,
		snapshots: make(map[domain.ReleaseKey]*domain.ReleaseSnapshot),
		globs:     make(map[string]*regexp.Regexp),
	}
}

// Snapshot returns the snapshot for key, loading it at most once per batch.
// Missing snapshots are cached as nil.
func (r *Resolver) Snapshot(ctx context.Context, key domain.ReleaseKey) (*domain.ReleaseSnapshot, error) {
	if snap, ok := r.snapshots[key]; ok {
		return snap, nil
	}
	if r.source == nil {
		return nil, nil
	}
	snap, err := r.source.LoadSnapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading release snapshot: %w", err)
	}
	r.snapshots[key] = snap
	return snap, nil
}

// Resolve picks the component responsible for the frames. An explicit
// component key wins; otherwise the most specific matching glob does, with
// ties going to the first match in component order.
func (r *Resolver) Resolve(frames []domain.StackFrame, snap *domain.ReleaseSnapshot, explicitKey string) Resolution {
	unresolved := Resolution{Method: domain.ResolutionUnresolved}
	if snap == nil || len(snap.Components) == 0 {
		return unresolved
	}

	if key := strings.TrimSpace(explicitKey); key != "" {
		for i := range snap.Components {
			if strings.EqualFold(snap.Components[i].Key, key) {
				return Resolution{Component: &snap.Components[i], Method: domain.ResolutionExplicitContext}
			}
		}
	}

	files := normalizedFiles(frames)
	if len(files) == 0 {
		return unresolved
	}

	var best *domain.Component
	bestScore := -1
	for i := range snap.Components {
		c := &snap.Components[i]
		for _, glob := range c.PathGlobs {
			re := r.compile(glob)
			if re == nil {
				continue
			}
			score := Specificity(glob)
			if score <= bestScore {
				continue
			}
			if matchesAny(re, files) {
				best = c
				bestScore = score
			}
		}
	}

	if best == nil {
		return unresolved
	}
	return Resolution{Component: best, Method: domain.ResolutionStackPathGlob}
}

func (r *Resolver) compile(glob string) *regexp.Regexp {
	if re, ok := r.globs[glob]; ok {
		return re
	}
	re, err := CompileGlob(glob)
	if err != nil {
		re = nil
	}
	r.globs[glob] = re
	return re
}

func normalizedFiles(frames []domain.StackFrame) []string {
	seen := make(map[string]struct{}, len(frames))
	files := make([]string, 0, len(frames))
	for _, f := range frames {
		p := NormalizePath(f.File)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	return files
}

func matchesAny(re *regexp.Regexp, files []string) bool {
	for _, f := range files {
		if re.MatchString(f) {
			return true
		}
	}
	return false
}
