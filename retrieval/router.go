// Package retrieval coordinates the external similarity-search and rerank
// backends across the short/temp/long retention tiers. Retrieval is
// best-effort: any backend failure degrades to an empty hit set and is
// logged, never surfaced to the user.
package retrieval

import (
	"context"
	"sort"

	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/logging"
)

// Options configures a Router.
type Options struct {
	// TopK is how many candidates each tier query requests.
	TopK int

	// MinShortResults is the short-tier sufficiency threshold: fewer hits
	// than this widens the search to the temp and long tiers.
	MinShortResults int

	// RerankTopK caps how many candidates survive the rerank. 0 keeps all.
	RerankTopK int

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Router routes retrieval queries across tiers and reranks the merged
// candidates.
type Router struct {
	embedder core.Embedder
	searcher core.Searcher
	reranker core.Reranker
	opts     Options
}

// New creates a Router. The reranker may be nil, in which case candidates
// keep their similarity ordering.
func New(embedder core.Embedder, searcher core.Searcher, reranker core.Reranker, optFns ...func(o *Options)) *Router {
	opts := Options{
		TopK:            6,
		MinShortResults: 2,
		RerankTopK:      4,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Router{embedder: embedder, searcher: searcher, reranker: reranker, opts: opts}
}

// Search embeds the query, searches the short tier first, widens to temp and
// long when the short tier is insufficient, deduplicates by id keeping the
// highest score, then reranks. Errors degrade to an empty hit set.
func (r *Router) Search(ctx context.Context, query string) []core.RetrievalHit {
	if query == "" {
		return nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		rerr := &core.RetrievalError{Backend: "embed", Err: err}
		r.opts.Logger.Warn("retrieval degraded to empty", "error", rerr.Error())
		return nil
	}

	candidates, err := r.searcher.Search(ctx, core.TierShort, vector, r.opts.TopK)
	if err != nil {
		rerr := &core.RetrievalError{Backend: "search", Err: err}
		r.opts.Logger.Warn("retrieval degraded to empty", "tier", core.TierShort, "error", rerr.Error())
		return nil
	}
	tagTier(candidates, core.TierShort)

	if len(candidates) < r.opts.MinShortResults {
		for _, tier := range []core.Tier{core.TierTemp, core.TierLong} {
			extra, err := r.searcher.Search(ctx, tier, vector, r.opts.TopK)
			if err != nil {
				// A widened tier failing leaves the short-tier hits usable.
				rerr := &core.RetrievalError{Backend: "search", Err: err}
				r.opts.Logger.Warn("tier search failed", "tier", tier, "error", rerr.Error())
				continue
			}
			tagTier(extra, tier)
			candidates = append(candidates, extra...)
		}
		candidates = dedupeByID(candidates)
	}

	if len(candidates) == 0 {
		return nil
	}

	ordered := r.rerank(ctx, query, candidates)
	if r.opts.RerankTopK > 0 && len(ordered) > r.opts.RerankTopK {
		ordered = ordered[:r.opts.RerankTopK]
	}
	return ordered
}

func (r *Router) rerank(ctx context.Context, query string, candidates []core.RetrievalHit) []core.RetrievalHit {
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if r.reranker == nil {
		return candidates
	}
	reranked, err := r.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		// Similarity order is still useful; rerank failure is not fatal.
		rerr := &core.RetrievalError{Backend: "rerank", Err: err}
		r.opts.Logger.Warn("rerank failed, keeping similarity order", "error", rerr.Error())
		return candidates
	}
	return reranked
}

// tagTier stamps hits missing a tier with the tier they came from.
func tagTier(hits []core.RetrievalHit, tier core.Tier) {
	for i := range hits {
		if hits[i].Tier == "" {
			hits[i].Tier = tier
		}
	}
}

// dedupeByID keeps the highest-scoring hit per id, preserving first-seen
// order of the survivors.
func dedupeByID(hits []core.RetrievalHit) []core.RetrievalHit {
	best := make(map[string]int, len(hits))
	out := make([]core.RetrievalHit, 0, len(hits))
	for _, h := range hits {
		if idx, seen := best[h.ID]; seen {
			if h.Score > out[idx].Score {
				out[idx] = h
			}
			continue
		}
		best[h.ID] = len(out)
		out = append(out, h)
	}
	return out
}
