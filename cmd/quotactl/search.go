package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"codeberg.org/lessonforge/server/internal/config"
	"codeberg.org/lessonforge/server/internal/images"
)

// shows at most this many candidates in table output
const searchRows = 15

type candidateSource interface {
	Candidates(ctx context.Context, query, language string) ([]images.RankedCandidate, error)
}

func newSearcher(cfg *config.Config) candidateSource {
	fetcher := images.NewFetcher(images.FetcherConfig{
		Timeout:        cfg.ImageSearchTimeout,
		OpenverseToken: cfg.OpenverseToken,
	})

	return images.NewPipeline(fetcher, images.NewRanker(images.DefaultWeights()), images.NewResolver(images.ResolverConfig{}))
}

// runs the fetcher and ranker for a query and prints the scores
func Search(ctx context.Context, out io.Writer, source candidateSource, flags config.Flags) error {
	if flags.Query == "" {
		return fmt.Errorf("--q is required")
	}

	ranked, err := source.Candidates(ctx, flags.Query, flags.Language)
	if err != nil {
		return err
	}

	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ranked)
	}

	if len(ranked) == 0 {
		fmt.Fprintf(out, "no candidates for %q\n", flags.Query)
		return nil
	}

	st := newStyles(out)
	t := st.table("SCORE", "PROVIDER", "TITLE", "URL")

	for i, c := range ranked {
		if i == searchRows {
			break
		}
		t.Row(strconv.FormatFloat(c.Confidence, 'f', 2, 64), string(c.Provider), truncate(c.Title, 40), c.URL)
	}

	fmt.Fprintln(out, t.Render())

	if len(ranked) > searchRows {
		fmt.Fprintln(out, st.muted.Render(fmt.Sprintf("... %d more", len(ranked)-searchRows)))
	}

	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
