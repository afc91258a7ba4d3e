package imageutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
	"github.com/patrickmn/go-cache"
	"github.com/valyala/fasthttp"
)

// DefaultPlaceholderURL is shown for tokens whose image cannot be resolved.
const DefaultPlaceholderURL = "https://static.vecteezy.com/system/resources/thumbnails/004/141/669/small/no-photo-or-blank-image-icon-loading-images-or-missing-image-mark-image-not-available-or-image-coming-soon-sign-simple-nature-silhouette-in-frame-isolated-illustration-vector.jpg"

const defaultFetchTimeout = 10 * time.Second

const maxRedirects = 5

// Outcome classifies how an image lookup ended.
type Outcome string

const (
	OutcomeResolved    Outcome = "resolved"
	OutcomeNoURI       Outcome = "no_uri"
	OutcomeForbidden   Outcome = "forbidden"
	OutcomeUnavailable Outcome = "unavailable"
)

// Image is the result of a lookup. URL is the placeholder unless Outcome is resolved.
type Image struct {
	URL     string  `json:"url"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Resolved reports whether URL points at the token's own image.
func (i Image) Resolved() bool { return i.Outcome == OutcomeResolved }

var errNoImageField = errors.New("metadata document has no image field")

// offChainMetadata is the part of the off-chain JSON document we read.
type offChainMetadata struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Config configures a Resolver.
type Config struct {
	// RelayURL is prepended to the metadata URI. Empty fetches the URI directly.
	RelayURL       string
	PlaceholderURL string
	CacheTTL       time.Duration
	Timeout        time.Duration
}

// Resolver fetches a token's off-chain metadata document and extracts its image link.
type Resolver struct {
	client      *fasthttp.Client
	relay       string
	placeholder string
	timeout     time.Duration
	cache       *cache.Cache
}

// NewResolver creates a resolver. Resolved image URLs are cached per metadata URI.
func NewResolver(cfg Config) *Resolver {
	if cfg.PlaceholderURL == "" {
		cfg.PlaceholderURL = DefaultPlaceholderURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	return &Resolver{
		client: &fasthttp.Client{
			Name:                     "solportal",
			NoDefaultUserAgentHeader: true,
			MaxResponseBodySize:      1 << 20,
		},
		relay:       cfg.RelayURL,
		placeholder: cfg.PlaceholderURL,
		timeout:     cfg.Timeout,
		cache:       cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// Placeholder returns the configured placeholder image URL.
func (r *Resolver) Placeholder() string { return r.placeholder }

// Resolve never fails: every failure path ends in the placeholder with a
// diagnostic outcome.
func (r *Resolver) Resolve(ctx context.Context, token core.TokenRecord) (img Image) {
	uri := strings.TrimSpace(token.URI)
	if uri == "" {
		return Image{URL: r.placeholder, Outcome: OutcomeNoURI}
	}
	if cached, ok := r.cache.Get(uri); ok {
		return Image{URL: cached.(string), Outcome: OutcomeResolved}
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.TokenError("Image resolution for %s panicked: %v", token.MintAddress, rec)
			img = Image{URL: r.placeholder, Outcome: OutcomeUnavailable, Detail: fmt.Sprint(rec)}
		}
	}()

	status, body, err := r.fetch(ctx, r.relay+uri)
	if err != nil {
		logger.TokenWarn("Failed to fetch metadata for mint %s (URI: %s): %v", token.MintAddress, uri, err)
		return Image{URL: r.placeholder, Outcome: OutcomeUnavailable, Detail: err.Error()}
	}

	switch {
	case status == fasthttp.StatusForbidden:
		logger.TokenWarn("Metadata URI %s for mint %s exists but access is forbidden", uri, token.MintAddress)
		return Image{URL: r.placeholder, Outcome: OutcomeForbidden, Detail: "HTTP 403 Forbidden"}
	case status < 200 || status > 299:
		logger.TokenWarn("HTTP error fetching metadata for mint %s (URI: %s): status %d", token.MintAddress, uri, status)
		return Image{URL: r.placeholder, Outcome: OutcomeUnavailable, Detail: fmt.Sprintf("HTTP %d", status)}
	}

	image, err := extractImage(body)
	if err != nil {
		logger.TokenWarn("Bad metadata document for mint %s (URI: %s): %v", token.MintAddress, uri, err)
		return Image{URL: r.placeholder, Outcome: OutcomeUnavailable, Detail: err.Error()}
	}

	r.cache.SetDefault(uri, image)
	logger.TokenDebug("Resolved image for mint %s: %s", token.MintAddress, image)
	return Image{URL: image, Outcome: OutcomeResolved}
}

func (r *Resolver) fetch(ctx context.Context, url string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return 0, nil, context.DeadlineExceeded
	}
	// Gateways (Arweave, IPFS) commonly redirect; the timeout covers the whole chain.
	req.SetTimeout(timeout)
	if err := r.client.DoRedirects(req, resp, maxRedirects); err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}

	// resp is released on return.
	body := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), body, nil
}

func extractImage(body []byte) (string, error) {
	var doc offChainMetadata
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to unmarshal metadata JSON: %w", err)
	}
	image := strings.TrimSpace(doc.Image)
	if image == "" {
		return "", errNoImageField
	}
	return image, nil
}
