// Package pricing turns a gas estimate and the current network conditions
// into a stablecoin-denominated quote across the three priority tiers.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fallbackNativeUsdPrice seeds the oracle before the first successful fetch
// and is what a fully offline deployment settles on permanently.
const fallbackNativeUsdPrice = 0.15

// Fetcher retrieves a single native-token/USD spot price from an external
// source. httpFetcher is the production implementation; tests supply a fake.
type Fetcher interface {
	Fetch(ctx context.Context) (float64, error)
}

// httpFetcher calls a configured price API that returns {"price": <number>}
// or {"usd": <number>}.
type httpFetcher struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPFetcher builds a Fetcher against an external price oracle endpoint.
// It does not check url; cmd/relay only calls it when a price-oracle URL is
// configured, and otherwise passes a nil Fetcher so the Oracle never
// refreshes and serves the fallback constant for the life of the process.
func NewHTTPFetcher(url, apiKey string) Fetcher {
	return &httpFetcher{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (f *httpFetcher) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, err
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pricing: fetch spot: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, fmt.Errorf("pricing: read spot body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pricing: spot request status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Price float64 `json:"price"`
		USD   float64 `json:"usd"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("pricing: decode spot body: %w", err)
	}
	if payload.Price > 0 {
		return payload.Price, nil
	}
	if payload.USD > 0 {
		return payload.USD, nil
	}
	return 0, fmt.Errorf("pricing: spot response had no usable price field")
}

// Oracle holds the cached native-token/USD spot price. The value is a single
// scalar behind a mutex: the refresh loop is writer-exclusive, readers take
// a snapshot. On a failed refresh the previous value is retained.
type Oracle struct {
	mu      sync.RWMutex
	spot    float64
	fetcher Fetcher
	log     *logrus.Entry
}

// NewOracle seeds the oracle at the hard fallback constant. Call Start to
// begin the background refresh loop; a nil or no-op Fetcher leaves the
// fallback in place indefinitely.
func NewOracle(fetcher Fetcher, log *logrus.Entry) *Oracle {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Oracle{
		spot:    fallbackNativeUsdPrice,
		fetcher: fetcher,
		log:     log.WithField("component", "pricing.oracle"),
	}
}

// Snapshot returns the current cached spot price.
func (o *Oracle) Snapshot() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.spot
}

// Start launches the refresh loop at the given interval; it returns
// immediately and stops when ctx is cancelled. Callers join it via wg.
func (o *Oracle) Start(ctx context.Context, interval time.Duration, wg *sync.WaitGroup) {
	if o.fetcher == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.refresh(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.refresh(ctx)
			}
		}
	}()
}

func (o *Oracle) refresh(ctx context.Context) {
	price, err := o.fetcher.Fetch(ctx)
	if err != nil {
		o.log.WithError(err).Warn("spot price refresh failed, retaining previous value")
		return
	}
	if price <= 0 {
		o.log.Warn("spot price refresh returned a non-positive value, ignoring")
		return
	}
	o.mu.Lock()
	o.spot = price
	o.mu.Unlock()
}
