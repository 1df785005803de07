package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/lessonforge/server/internal/logger"
	"golang.org/x/sync/errgroup"
)

const (
	maxRawQueryLength = 80
	maxAttempts       = 2
	maxConcurrent     = 8
)

// appended to the compact query for non-English lessons
var localizedQualifiers = map[string]string{
	"es": "educativo",
	"fr": "éducatif",
	"de": "Bildung",
	"pt": "educacional",
	"it": "educativo",
	"nl": "educatief",
	"pl": "edukacyjny",
}

type FetcherConfig struct {
	HTTPClient     *http.Client
	Timeout        time.Duration // per request, default 8s
	OpenverseURL   string
	OpenverseToken string
	WikimediaURL   string
	NASAURL        string
}

// queries every backend concurrently and merges the results
type Fetcher struct {
	backends []backend
	timeout  time.Duration
	log      *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &Fetcher{
		backends: []backend{
			&openverseBackend{client: client, endpoint: orDefault(cfg.OpenverseURL, defaultOpenverseURL), token: cfg.OpenverseToken},
			&wikimediaBackend{client: client, endpoint: orDefault(cfg.WikimediaURL, defaultWikimediaURL)},
			&nasaBackend{client: client, endpoint: orDefault(cfg.NASAURL, defaultNASAURL)},
		},
		timeout: timeout,
		log:     logger.Component("images"),
	}
}

// the query forms derived from one prompt
type Variants struct {
	Compact     string // stop words stripped
	Educational string // compact + "educational"
	Raw         string // prompt truncated
	Localized   string // compact + qualifier in the lesson language, if any
}

// builds the query forms for prompt in language
func BuildVariants(prompt, language string) Variants {
	raw := truncateWords(strings.Join(strings.Fields(prompt), " "), maxRawQueryLength)
	compact := strings.Join(Tokenize(prompt), " ")
	if compact == "" {
		compact = raw
	}

	v := Variants{
		Compact: compact,
		Raw:     raw,
	}

	if compact != "" {
		v.Educational = compact + " educational"
	}

	lang := strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}

	if q, ok := localizedQualifiers[lang]; ok && compact != "" {
		v.Localized = compact + " " + q
	}

	return v
}

// the variants each backend is asked with
func (v Variants) forProvider(p Provider) []string {
	var picked []string
	switch p {
	case ProviderOpenverse:
		picked = []string{v.Compact, v.Educational, v.Localized}
	case ProviderWikimedia:
		picked = []string{v.Compact, v.Raw, v.Localized}
	default:
		picked = []string{v.Compact, v.Raw}
	}

	return uniqueNonEmpty(picked)
}

// returns deduplicated image candidates for query. a failing backend never
// fails the others; an error is returned only when every request failed.
func (f *Fetcher) Search(ctx context.Context, query, language string) ([]Candidate, error) {
	variants := BuildVariants(query, language)
	if variants.Compact == "" {
		return nil, fmt.Errorf("empty image query")
	}

	type request struct {
		backend backend
		query   string
	}

	var requests []request
	for _, b := range f.backends {
		for _, q := range variants.forProvider(b.provider()) {
			requests = append(requests, request{backend: b, query: q})
		}
	}

	// slots keep the merge order independent of completion order
	results := make([][]Candidate, len(requests))
	errs := make([]error, len(requests))

	var g errgroup.Group
	g.SetLimit(maxConcurrent)

	for i, req := range requests {
		g.Go(func() error {
			results[i], errs[i] = f.searchWithRetry(ctx, req.backend, req.query)
			if errs[i] != nil {
				f.log.Warn("image search request failed",
					"provider", req.backend.provider(),
					"query", req.query,
					"error", errs[i],
				)
			}
			return nil
		})
	}

	_ = g.Wait()

	var merged []Candidate
	failed := 0
	for i := range requests {
		if errs[i] != nil {
			failed++
			continue
		}

		for _, c := range results[i] {
			if acceptable(c) {
				merged = append(merged, c)
			}
		}
	}

	if failed == len(requests) {
		return nil, fmt.Errorf("all image searches failed: %w", errors.Join(errs...))
	}

	return Dedupe(merged), nil
}

// retries 429 and 5xx once, immediately
func (f *Fetcher) searchWithRetry(ctx context.Context, b backend, query string) ([]Candidate, error) {
	var lastErr error

	for range maxAttempts {
		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		candidates, err := b.search(reqCtx, query)
		cancel()

		if err == nil {
			return candidates, nil
		}

		lastErr = err

		var se *statusError
		if !errors.As(err, &se) || !se.retryable() {
			break
		}
	}

	return nil, lastErr
}

// drops later candidates whose normalized URL was already seen
func Dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))

	for _, c := range candidates {
		key := NormalizeURL(c.URL)
		if key == "" {
			continue
		}

		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, c)
	}

	return out
}

// strips query string, fragment and trailing slash; lowercases scheme and host
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	return strings.TrimRight(u.String(), "/")
}

// image media only, nothing flagged unsafe
func acceptable(c Candidate) bool {
	if c.Mature {
		return false
	}

	if c.MIMEType != "" && !strings.HasPrefix(strings.ToLower(c.MIMEType), "image/") {
		return false
	}

	return true
}

func truncateWords(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := s[:limit]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}

	return strings.TrimSpace(strings.ToValidUTF8(cut, ""))
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))

	for _, v := range values {
		key := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}

	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
