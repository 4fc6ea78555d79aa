package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/config"
	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/resilience"
)

// MetricWriter is the write side of the metric time series
type MetricWriter interface {
	Insert(ctx context.Context, metric *alerting.Metric) error
}

// Collector polls the configured upstreams through their fetchers and feeds
// the samples the alert engine evaluates. Each source is fault-isolated so a
// broken upstream cannot starve the others.
type Collector struct {
	coingecko *resilience.Fetcher
	etherscan *resilience.Fetcher
	chainRPC  *resilience.Fetcher
	metrics   MetricWriter
	cfg       config.CollectorConfig
	rpcURL    string
	client    *http.Client
	logger    *logging.Logger
}

// New creates a collector over the per-upstream fetchers
func New(coingecko, etherscan, chainRPC *resilience.Fetcher, metrics MetricWriter, cfg config.CollectorConfig, rpcURL string) *Collector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Collector{
		coingecko: coingecko,
		etherscan: etherscan,
		chainRPC:  chainRPC,
		metrics:   metrics,
		cfg:       cfg,
		rpcURL:    rpcURL,
		client:    &http.Client{Timeout: timeout},
		logger:    logging.GetLogger(),
	}
}

// Run performs one collection pass over all sources
func (c *Collector) Run(ctx context.Context) error {
	for name, collect := range map[string]func(context.Context) error{
		"prices":       c.collectPrices,
		"gas":          c.collectGas,
		"block_height": c.collectBlockHeight,
	} {
		if err := collect(ctx); err != nil {
			c.logger.WithError(err).WithFields(logging.Fields{
				"source": name,
			}).Error("Metric collection failed")
		}
	}
	return nil
}

type priceResponse map[string]struct {
	USD float64 `json:"usd"`
}

func (c *Collector) collectPrices(ctx context.Context) error {
	for _, asset := range c.cfg.Assets {
		value, err := resilience.Fetch(ctx, c.coingecko, asset, func(ctx context.Context) (float64, error) {
			url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.cfg.CoinGeckoURL, asset)

			var resp priceResponse
			if err := c.getJSON(ctx, "coingecko", url, &resp); err != nil {
				return 0, err
			}

			quote, ok := resp[asset]
			if !ok {
				return 0, errors.NewNotFoundError("asset quote")
			}
			return quote.USD, nil
		})
		if err != nil {
			return err
		}

		if err := c.metrics.Insert(ctx, &alerting.Metric{
			Name:      asset + "_price_usd",
			Value:     value,
			Timestamp: time.Now(),
		}); err != nil {
			return err
		}
	}

	return nil
}

type gasOracleResponse struct {
	Status string `json:"status"`
	Result struct {
		ProposeGasPrice string `json:"ProposeGasPrice"`
	} `json:"result"`
}

func (c *Collector) collectGas(ctx context.Context) error {
	value, err := resilience.Fetch(ctx, c.etherscan, "gasoracle", func(ctx context.Context) (float64, error) {
		url := fmt.Sprintf("%s?module=gastracker&action=gasoracle&apikey=%s", c.cfg.EtherscanURL, c.cfg.EtherscanKey)

		var resp gasOracleResponse
		if err := c.getJSON(ctx, "etherscan", url, &resp); err != nil {
			return 0, err
		}

		gwei, err := strconv.ParseFloat(resp.Result.ProposeGasPrice, 64)
		if err != nil {
			return 0, errors.NewExternalError("etherscan", "gas oracle returned a non-numeric price").WithCause(err)
		}
		return gwei, nil
	})
	if err != nil {
		return err
	}

	return c.metrics.Insert(ctx, &alerting.Metric{
		Name:      "gas_price_gwei",
		Value:     value,
		Timestamp: time.Now(),
	})
}

func (c *Collector) collectBlockHeight(ctx context.Context) error {
	value, err := resilience.Fetch(ctx, c.chainRPC, "eth_blockNumber", func(ctx context.Context) (float64, error) {
		body := strings.NewReader(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, body)
		if err != nil {
			return 0, errors.NewInternalError("failed to build rpc request").WithCause(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, errors.NewExternalError("chain_rpc", "rpc endpoint unreachable").WithCause(err)
		}
		defer resp.Body.Close()

		if err := checkStatus("chain_rpc", resp); err != nil {
			return 0, err
		}

		var rpcResp struct {
			Result string `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return 0, errors.NewExternalError("chain_rpc", "failed to decode rpc response").WithCause(err)
		}

		height, err := strconv.ParseUint(strings.TrimPrefix(rpcResp.Result, "0x"), 16, 64)
		if err != nil {
			return 0, errors.NewExternalError("chain_rpc", "rpc returned a malformed block number").WithCause(err)
		}
		return float64(height), nil
	})
	if err != nil {
		return err
	}

	return c.metrics.Insert(ctx, &alerting.Metric{
		Name:      "chain_block_height",
		Value:     value,
		Timestamp: time.Now(),
	})
}

// getJSON performs a GET and decodes the JSON body. An upstream 429 comes
// back as a rate limit error carrying the Retry-After hint so the fetcher
// can block the bucket.
func (c *Collector) getJSON(ctx context.Context, service, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.NewInternalError("failed to build upstream request").WithCause(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewExternalError(service, "upstream unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(service, resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewExternalError(service, "failed to decode upstream response").WithCause(err)
	}

	return nil
}

func checkStatus(service string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return errors.NewRateLimitError(service, retryAfter)
	case resp.StatusCode >= 400:
		return errors.NewExternalError(service, fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}
	return nil
}
