// Package polymarket is the client for the Polymarket Gamma REST API, the
// upstream source of market listings.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

const (
	defaultFetchLimit = 200
	defaultUserAgent  = "polytrend/1.0"
	defaultTimeout    = 30 * time.Second
)

// GammaConfig configures a GammaClient. Zero values fall back to defaults.
type GammaConfig struct {
	// BaseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
	BaseURL   string
	UserAgent string
	// Limit caps the number of listings requested per fetch.
	Limit int
	// Timeout bounds a whole fetch including reading the body.
	Timeout time.Duration
	// EndDateBefore, when set, restricts listings to markets ending before
	// this date (YYYY-MM-DD).
	EndDateBefore string
}

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	cfg        GammaConfig
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
func NewGammaClient(cfg GammaConfig) *GammaClient {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultFetchLimit
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &GammaClient{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// FetchActiveListings returns the raw active, unclosed market listings. It
// does not retry: any transport failure, timeout, non-2xx status or
// unrecognised body fails with domain.ErrUpstreamUnavailable.
//
// Elements of the listing array that cannot be decoded are returned with
// DecodeErr set rather than failing the whole fetch.
func (g *GammaClient) FetchActiveListings(ctx context.Context) ([]RawMarketRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(g.cfg.Limit))
	if g.cfg.EndDateBefore != "" {
		params.Set("end_date_before", g.cfg.EndDateBefore)
	}

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: fetch listings: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	elems, err := decodeListing(body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode listings: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	records := make([]RawMarketRecord, 0, len(elems))
	for i, raw := range elems {
		var rec RawMarketRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			rec = RawMarketRecord{DecodeErr: fmt.Errorf("element %d: %w", i, err)}
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeListing accepts either a bare JSON array or an object wrapping the
// array under "markets" or "data".
func decodeListing(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	switch trimmed[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, err
		}
		return elems, nil
	case '{':
		var env marketsEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		if env.Markets != nil {
			return env.Markets, nil
		}
		if env.Data != nil {
			return env.Data, nil
		}
		return nil, errors.New("object response without a markets array")
	default:
		return nil, fmt.Errorf("unexpected response starting with %q", trimmed[0])
	}
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.cfg.UserAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain sentinels where one fits.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 512 {
		bodyStr = bodyStr[:512]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
