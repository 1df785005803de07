package images

import (
	"context"
	"fmt"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
)

// Searcher produces raw candidates for a query. *Fetcher implements it.
type Searcher interface {
	Search(ctx context.Context, query, language string) ([]Candidate, error)
}

// search, rank and resolve in one call
type Pipeline struct {
	searcher Searcher
	ranker   *Ranker
	resolver *Resolver
}

func NewPipeline(searcher Searcher, ranker *Ranker, resolver *Resolver) *Pipeline {
	if ranker == nil {
		ranker = NewRanker(DefaultWeights())
	}

	return &Pipeline{
		searcher: searcher,
		ranker:   ranker,
		resolver: resolver,
	}
}

func (p *Pipeline) Resolver() *Resolver {
	return p.resolver
}

// returns ranked candidates for query
func (p *Pipeline) Candidates(ctx context.Context, query, language string) ([]RankedCandidate, error) {
	candidates, err := p.searcher.Search(ctx, query, language)
	if err != nil {
		return nil, err
	}

	return p.ranker.Rank(candidates, Tokenize(query)), nil
}

// returns a displayable image for prompt, or an error wrapping
// errors.ErrAssetResolution when none could be produced
func (p *Pipeline) Find(ctx context.Context, prompt, language string, exclude func(sourceURL string) bool) (*ResolvedImage, error) {
	ranked, err := p.Candidates(ctx, prompt, language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrAssetResolution, err)
	}

	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no candidates for %q", apperrors.ErrAssetResolution, prompt)
	}

	return p.resolver.Resolve(ctx, ranked, exclude)
}
