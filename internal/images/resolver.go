package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/logger"
	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultMinConfidence = 0.35
	DefaultFallbackCount = 3
	DefaultMaxBytes      = 5 << 20
	DefaultProxyPath     = "/image-proxy"

	maxRedirects = 5
)

var (
	errUnsafeScheme = errors.New("only http and https urls can be fetched")
	errPrivateHost  = errors.New("url targets a private or loopback address")
	errNotImage     = errors.New("upstream content is not an image")
	errTooLarge     = errors.New("upstream image exceeds size limit")
)

// media hosts trusted to be streamed through the proxy endpoint
func DefaultProxyHosts() []string {
	return []string{
		"upload.wikimedia.org",
		"images-assets.nasa.gov",
		"live.staticflickr.com",
	}
}

// hosts allowed through the proxy; entries match the host and its subdomains
type AllowList []string

func (a AllowList) Allows(u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, entry := range a {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}

	return false
}

type ResolverConfig struct {
	MinConfidence float64
	FallbackCount int
	MaxBytes      int64
	ProxyHosts    []string
	ProxyPath     string
	HTTPClient    *http.Client

	// permits loopback and private targets; only for tests against local servers
	AllowPrivateNetworks bool
}

// turns ranked candidates into one displayable image
type Resolver struct {
	minConfidence float64
	fallbackCount int
	maxBytes      int64
	allow         AllowList
	proxyPath     string
	client        *http.Client
	allowPrivate  bool
	log           *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		minConfidence: cfg.MinConfidence,
		fallbackCount: cfg.FallbackCount,
		maxBytes:      cfg.MaxBytes,
		allow:         AllowList(cfg.ProxyHosts),
		proxyPath:     cfg.ProxyPath,
		allowPrivate:  cfg.AllowPrivateNetworks,
		log:           logger.Component("images"),
	}

	if r.minConfidence <= 0 {
		r.minConfidence = DefaultMinConfidence
	}
	if r.fallbackCount <= 0 {
		r.fallbackCount = DefaultFallbackCount
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultMaxBytes
	}
	if r.proxyPath == "" {
		r.proxyPath = DefaultProxyPath
	}
	r.client = r.guardClient(cfg.HTTPClient)

	return r
}

// copies base so the caller's client keeps its own redirect policy. every
// redirect hop goes through checkTarget, and a client without its own
// transport also refuses private addresses at dial time.
func (r *Resolver) guardClient(base *http.Client) *http.Client {
	client := http.Client{Timeout: 15 * time.Second}
	if base != nil {
		client = *base
	}

	if client.Transport == nil {
		client.Transport = guardedTransport(r.allowPrivate)
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		if err := r.checkTarget(req.Context(), req.URL.String()); err != nil {
			return fmt.Errorf("redirect blocked: %w", err)
		}
		return nil
	}

	return &client
}

// transport whose dialer checks the address actually connected to, so a
// hostname that re-resolves to a private range after checkTarget still fails
func guardedTransport(allowPrivate bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	if !allowPrivate {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}

			addr, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}

			if isPrivateAddr(addr) {
				return errPrivateHost
			}
			return nil
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return transport
}

// returns the allow-list used for proxy references
func (r *Resolver) AllowList() AllowList {
	return r.allow
}

// Resolve walks candidates at or above the confidence threshold in rank order,
// then the top few regardless of score, and returns the first one that can be
// proxied or embedded. Each URL is attempted at most once. exclude may skip
// URLs the caller has already used.
func (r *Resolver) Resolve(ctx context.Context, ranked []RankedCandidate, exclude func(sourceURL string) bool) (*ResolvedImage, error) {
	tried := make(map[string]struct{}, len(ranked))
	attempts := 0

	try := func(c RankedCandidate) *ResolvedImage {
		key := NormalizeURL(c.URL)
		if key == "" {
			return nil
		}
		if _, done := tried[key]; done {
			return nil
		}
		tried[key] = struct{}{}

		if exclude != nil && exclude(c.URL) {
			return nil
		}

		attempts++
		img, err := r.resolveOne(ctx, c.URL)
		if err != nil {
			r.log.Debug("image candidate unusable",
				"provider", c.Provider,
				"url", c.URL,
				"confidence", c.Confidence,
				"error", err,
			)
			return nil
		}

		return img
	}

	for _, c := range ranked {
		if c.Confidence < r.minConfidence {
			continue
		}
		if img := try(c); img != nil {
			return img, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrAssetResolution, ctx.Err())
		}
	}

	for i := 0; i < len(ranked) && i < r.fallbackCount; i++ {
		if img := try(ranked[i]); img != nil {
			return img, nil
		}
	}

	return nil, fmt.Errorf("%w: %d candidates, %d attempted", apperrors.ErrAssetResolution, len(ranked), attempts)
}

func (r *Resolver) resolveOne(ctx context.Context, rawURL string) (*ResolvedImage, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	if r.allow.Allows(u) {
		return &ResolvedImage{
			SourceURL: u.String(),
			ProxyURL:  r.proxyPath + "?u=" + url.QueryEscape(u.String()),
		}, nil
	}

	data, contentType, err := r.Fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}

	return &ResolvedImage{
		SourceURL:    u.String(),
		EmbeddedData: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Fetch downloads an image with the size ceiling and content checks applied.
// the returned content type always starts with image/.
func (r *Resolver) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := r.checkTarget(ctx, rawURL); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "image/*")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch failed with status %d", resp.StatusCode)
	}

	if resp.ContentLength > r.maxBytes {
		return nil, "", errTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}

	if int64(len(data)) > r.maxBytes {
		return nil, "", errTooLarge
	}

	contentType, ok := ImageContentType(resp.Header.Get("Content-Type"), data)
	if !ok {
		return nil, "", errNotImage
	}

	return data, contentType, nil
}

// ImageContentType returns the image MIME type for a payload: the declared
// header when it names an image, otherwise whatever the bytes sniff as.
func ImageContentType(declared string, data []byte) (string, bool) {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mt, "image/") {
		return mt, true
	}

	if len(data) == 0 {
		return "", false
	}

	sniffed := mimetype.Detect(data)
	for m := sniffed; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			mt, _, _ := mime.ParseMediaType(m.String())
			return mt, true
		}
	}

	return "", false
}

// rejects non-http(s) schemes and hosts resolving to private ranges
func (r *Resolver) checkTarget(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errUnsafeScheme
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host")
	}

	if r.allowPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivateAddr(addr) {
			return errPrivateHost
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, addr := range addrs {
		if isPrivateAddr(addr) {
			return errPrivateHost
		}
	}

	return nil
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		addr.IsMulticast()
}
