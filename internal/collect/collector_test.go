package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/config"
	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/ratelimit"
	"github.com/chainwatch/chainwatch/pkg/resilience"
)

type memMetricWriter struct {
	mu       sync.Mutex
	inserted []*alerting.Metric
}

func (w *memMetricWriter) Insert(ctx context.Context, metric *alerting.Metric) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inserted = append(w.inserted, metric)
	return nil
}

func (w *memMetricWriter) value(name string) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.inserted {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

func newTestFetcher(t *testing.T, service string) *resilience.Fetcher {
	t.Helper()
	limiter, err := ratelimit.New(service, ratelimit.Config{RequestsPerSecond: 100})
	require.NoError(t, err)
	return resilience.NewFetcher(limiter, nil, resilience.RetryConfig{
		MaxRetries:   0,
		InitialDelay: time.Millisecond,
	})
}

func newTestCollector(t *testing.T, cfg config.CollectorConfig, rpcURL string) (*Collector, *memMetricWriter) {
	t.Helper()
	writer := &memMetricWriter{}
	c := New(
		newTestFetcher(t, "coingecko"),
		newTestFetcher(t, "etherscan"),
		newTestFetcher(t, "chain_rpc"),
		writer, cfg, rpcURL,
	)
	return c, writer
}

func TestRunCollectsAllSources(t *testing.T) {
	prices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		w.Write([]byte(`{"ethereum":{"usd":1234.5}}`))
	}))
	defer prices.Close()

	gas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gasoracle", r.URL.Query().Get("action"))
		w.Write([]byte(`{"status":"1","result":{"ProposeGasPrice":"30"}}`))
	}))
	defer gas.Close()

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer rpc.Close()

	c, writer := newTestCollector(t, config.CollectorConfig{
		CoinGeckoURL: prices.URL,
		EtherscanURL: gas.URL,
		Assets:       []string{"ethereum"},
	}, rpc.URL)

	require.NoError(t, c.Run(context.Background()))

	price, ok := writer.value("ethereum_price_usd")
	require.True(t, ok)
	assert.Equal(t, 1234.5, price)

	gwei, ok := writer.value("gas_price_gwei")
	require.True(t, ok)
	assert.Equal(t, 30.0, gwei)

	height, ok := writer.value("chain_block_height")
	require.True(t, ok)
	assert.Equal(t, 16.0, height)
}

func TestRunIsolatesFailingSource(t *testing.T) {
	prices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer prices.Close()

	gas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"1","result":{"ProposeGasPrice":"25"}}`))
	}))
	defer gas.Close()

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0xff"}`))
	}))
	defer rpc.Close()

	c, writer := newTestCollector(t, config.CollectorConfig{
		CoinGeckoURL: prices.URL,
		EtherscanURL: gas.URL,
		Assets:       []string{"ethereum"},
	}, rpc.URL)

	// The broken price source never aborts the pass
	require.NoError(t, c.Run(context.Background()))

	_, ok := writer.value("ethereum_price_usd")
	assert.False(t, ok)
	_, ok = writer.value("gas_price_gwei")
	assert.True(t, ok)
	_, ok = writer.value("chain_block_height")
	assert.True(t, ok)
}

func TestRateLimitedUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, writer := newTestCollector(t, config.CollectorConfig{
		EtherscanURL: server.URL,
	}, "http://unused")

	err := c.collectGas(context.Background())
	require.Error(t, err)

	rlErr, ok := errors.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, rlErr.RetryAfter)

	_, ok = writer.value("gas_price_gwei")
	assert.False(t, ok)
}

func TestRateLimitWithoutHint(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}

	err := checkStatus("coingecko", resp)
	rlErr, ok := errors.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), rlErr.RetryAfter)
}
