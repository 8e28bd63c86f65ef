// Package venue is the REST/WebSocket boundary to the surveilled prediction
// market venue. It treats the venue purely as a data source: no order
// construction, no signing, no authenticated write endpoints — every
// request here is a public GET.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"surveil/internal/config"
	"surveil/pkg/types"
)

// Client is the venue's REST API client: paged event listing, single-market
// fetch, orderbook snapshot, and recent trades. Every call is rate-limited
// and makes a single attempt; failures come back as RateLimited, Upstream
// or Timeout errors, and the client itself does not retry them.
type Client struct {
	gamma   *resty.Client
	clob    *resty.Client
	limiter *rate.Limiter
	sf      singleflight.Group // collapses concurrent same-market refetches
	maxBackoff time.Duration
	logger  *slog.Logger
}

// NewClient builds a venue REST client from VenueConfig.
func NewClient(cfg config.VenueConfig, logger *slog.Logger) *Client {
	gamma := resty.New().
		SetBaseURL(cfg.GammaBaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0) // no automatic retries: each call makes a single attempt

	clob := resty.New().
		SetBaseURL(cfg.CLOBBaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0)

	return &Client{
		gamma:      gamma,
		clob:       clob,
		limiter:    newHostLimiter(cfg.RateLimitPerMin),
		maxBackoff: cfg.MaxBackoff,
		logger:     logger.With("component", "venue"),
	}
}

// FetchEvents pages the venue's events endpoint (active=true, closed=false,
// ordered by descending volume) in batches of pageSize up to maxEvents.
func (c *Client) FetchEvents(ctx context.Context, pageSize, maxEvents int) ([]GammaEvent, error) {
	var all []GammaEvent
	offset := 0

	for len(all) < maxEvents {
		if err := waitLimiter(ctx, c.limiter); err != nil {
			return nil, err
		}

		var page []GammaEvent
		resp, err := c.gamma.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":   strconv.Itoa(pageSize),
				"offset":  strconv.Itoa(offset),
				"active":  "true",
				"closed":  "false",
				"order":   "volume",
				"ascending": "false",
			}).
			SetResult(&page).
			Get("/events")
		if err != nil {
			if isTimeoutErr(err) {
				return nil, &Timeout{Op: "fetch events"}
			}
			return nil, fmt.Errorf("fetch events page offset=%d: %w", offset, err)
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return nil, &RateLimited{ResetAt: time.Now().Add(c.maxBackoff)}
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, &Upstream{Status: resp.StatusCode(), Body: resp.String()}
		}

		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	if len(all) > maxEvents {
		all = all[:maxEvents]
	}
	return all, nil
}

// FetchMarket fetches a single market by condition ID, collapsing concurrent
// requests for the same ID into one upstream call.
func (c *Client) FetchMarket(ctx context.Context, marketID string) (*GammaMarket, error) {
	v, err, _ := c.sf.Do(marketID, func() (interface{}, error) {
		if err := waitLimiter(ctx, c.limiter); err != nil {
			return nil, err
		}
		var m GammaMarket
		resp, err := c.gamma.R().
			SetContext(ctx).
			SetResult(&m).
			Get("/markets/" + marketID)
		if err != nil {
			if isTimeoutErr(err) {
				return nil, &Timeout{Op: "fetch market"}
			}
			return nil, fmt.Errorf("fetch market %s: %w", marketID, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, &Upstream{Status: resp.StatusCode(), Body: resp.String()}
		}
		return &m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*GammaMarket), nil
}

// GetOrderBook fetches the current L2 order book for an asset and converts
// it to the internal OrderbookSnapshot representation.
func (c *Client) GetOrderBook(ctx context.Context, assetID string) (*types.OrderbookSnapshot, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return nil, err
	}

	var dto OrderbookDTO
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", assetID).
		SetResult(&dto).
		Get("/book")
	if err != nil {
		if isTimeoutErr(err) {
			return nil, &Timeout{Op: "get orderbook"}
		}
		return nil, fmt.Errorf("get orderbook %s: %w", assetID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &Upstream{Status: resp.StatusCode(), Body: resp.String()}
	}

	return &types.OrderbookSnapshot{
		AssetID:   dto.AssetID,
		MarketID:  dto.Market,
		Bids:      convertLevels(dto.Bids),
		Asks:      convertLevels(dto.Asks),
		Hash:      dto.Hash,
		Timestamp: time.Now(),
	}, nil
}

// GetRecentTrades fetches the most recent trades for an asset.
func (c *Client) GetRecentTrades(ctx context.Context, assetID string) ([]types.TradeTick, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return nil, err
	}

	var dtos []TradeDTO
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", assetID).
		SetResult(&dtos).
		Get("/trades")
	if err != nil {
		if isTimeoutErr(err) {
			return nil, &Timeout{Op: "get trades"}
		}
		return nil, fmt.Errorf("get trades %s: %w", assetID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &Upstream{Status: resp.StatusCode(), Body: resp.String()}
	}

	ticks := make([]types.TradeTick, 0, len(dtos))
	for _, d := range dtos {
		price, err := decimal.NewFromString(d.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(d.Size)
		if err != nil {
			continue
		}
		unixSec, _ := strconv.ParseInt(d.Timestamp, 10, 64)
		side := types.SideBuy
		if d.Side == "sell" {
			side = types.SideSell
		}
		ticks = append(ticks, types.TradeTick{
			MarketID:  d.Market,
			AssetID:   d.AssetID,
			Timestamp: time.Unix(unixSec, 0),
			Price:     price.InexactFloat64(),
			Size:      size.InexactFloat64(),
			Side:      side,
		})
	}
	return ticks, nil
}

func convertLevels(dtos []PriceLevelDTO) []types.PriceLevel {
	out := make([]types.PriceLevel, len(dtos))
	for i, d := range dtos {
		out[i] = types.PriceLevel{Price: d.Price, Size: d.Size}
	}
	return out
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
