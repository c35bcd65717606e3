package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/logging"
)

// maxResponseBytes caps how much of an oracle reply is read.
const maxResponseBytes = 64 << 10

// HTTPOracle queries a usage service over HTTP:
//
//	GET {base}/usage?owner=&group=  -> {"value": n}
//	GET {base}/budget?owner=        -> {"value": n}
type HTTPOracle struct {
	base    *url.URL
	client  *http.Client
	headers map[string]string
}

type usageResponse struct {
	Value *int64 `json:"value"`
}

// NewHTTPOracle creates an oracle client for cfg.BaseURL.
func NewHTTPOracle(cfg config.OracleConfig) (*HTTPOracle, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Invalid("oracle.base_url", "must be an absolute URL, got %q", cfg.BaseURL)
	}
	transport, err := newTransport(cfg.UTLSFingerprint)
	if err != nil {
		return nil, errors.Invalid("oracle.utls_fingerprint", "%v", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPOracle{
		base:    base,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		headers: cfg.Headers,
	}, nil
}

func (o *HTTPOracle) CurrentUsage(ctx context.Context, owner, group string) (int64, error) {
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("group", group)
	v, err := o.get(ctx, "/usage", q)
	if err != nil {
		return 0, &errors.ErrOracle{Owner: owner, Group: group, Err: err}
	}
	return v, nil
}

func (o *HTTPOracle) CurrentBudgetConsumption(ctx context.Context, owner string) (int64, error) {
	q := url.Values{}
	q.Set("owner", owner)
	v, err := o.get(ctx, "/budget", q)
	if err != nil {
		return 0, &errors.ErrOracle{Owner: owner, Err: err}
	}
	return v, nil
}

func (o *HTTPOracle) get(ctx context.Context, path string, query url.Values) (int64, error) {
	u := *o.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	if id := logging.GetCorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationIDHeader, id)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out usageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Value == nil {
		return 0, fmt.Errorf("response has no value")
	}
	if *out.Value < 0 {
		return 0, fmt.Errorf("negative usage %d", *out.Value)
	}
	return *out.Value, nil
}

var _ Oracle = (*HTTPOracle)(nil)
