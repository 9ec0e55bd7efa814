// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpetuals

import (
	"fmt"
	"math/big"
)

// OracleVariant tags which feed backs a Custody's price reads. None is
// only valid while a custody is mid-initialization.
type OracleVariant uint8

const (
	OracleNone OracleVariant = iota
	OraclePyth
	OracleCustom
)

func (v OracleVariant) String() string {
	switch v {
	case OraclePyth:
		return "pyth"
	case OracleCustom:
		return "custom"
	default:
		return "none"
	}
}

// OracleConfig is the per-custody oracle binding: which feed, how
// stale a read may be, and whether to read the EMA instead of spot.
// The confidence-band limit lives in PricingParams.
type OracleConfig struct {
	Variant        OracleVariant
	FeedID         [32]byte
	MaxPriceAgeSec int64
	UseEMA         bool
}

// OraclePrice is the normalized read model every oracle backend
// produces, at PriceDecimals.
type OraclePrice struct {
	PriceScaled      *big.Int
	ConfidenceScaled *big.Int
	PublishTime      int64
	// EMAFallback is set when the caller asked for a cached EMA and
	// the oracle variant doesn't keep one, so OracleView fell back to
	// spot. The caller decides whether that's acceptable.
	EMAFallback bool
}

// OracleFeed is the interface a concrete oracle backend (Pyth, custom)
// implements; OracleView reads through it. Feed implementations are
// out of scope for this core (spec section 1) — this is the boundary
// the core consumes.
type OracleFeed interface {
	Variant() OracleVariant
	Spot(feedID [32]byte) (price, confidence *big.Int, publishTime int64, err error)
	EMA(feedID [32]byte) (price, confidence *big.Int, publishTime int64, ok bool, err error)
}

// OracleView reads a feed and normalizes the result, applying the
// staleness gate every caller needs before pricing a trade.
type OracleView struct {
	feeds map[OracleVariant]OracleFeed
}

// NewOracleView builds a view over the supplied feed backends, keyed
// by the variant they serve.
func NewOracleView(feeds ...OracleFeed) *OracleView {
	v := &OracleView{feeds: make(map[OracleVariant]OracleFeed, len(feeds))}
	for _, f := range feeds {
		v.feeds[f.Variant()] = f
	}
	return v
}

// Read fetches a normalized OraclePrice for cfg, enforcing the
// staleness gate against now. If cfg.UseEMA is set and the backing
// feed has no EMA, Read falls back to spot and flags EMAFallback.
func (v *OracleView) Read(cfg OracleConfig, now int64) (OraclePrice, error) {
	if cfg.Variant == OracleNone {
		return OraclePrice{}, fmt.Errorf("%w: oracle variant is None", ErrUnsupportedOracle)
	}
	feed, ok := v.feeds[cfg.Variant]
	if !ok {
		return OraclePrice{}, fmt.Errorf("%w: no feed registered for %s", ErrUnsupportedOracle, cfg.Variant)
	}
	if feed.Variant() != cfg.Variant {
		return OraclePrice{}, fmt.Errorf("%w: feed serves %s, config wants %s", ErrUnsupportedOracle, feed.Variant(), cfg.Variant)
	}

	var (
		price, confidence *big.Int
		publishTime       int64
		fellBack          bool
	)

	if cfg.UseEMA {
		p, c, t, hasEMA, err := feed.EMA(cfg.FeedID)
		if err != nil {
			return OraclePrice{}, err
		}
		if hasEMA {
			price, confidence, publishTime = p, c, t
		} else {
			p, c, t, err := feed.Spot(cfg.FeedID)
			if err != nil {
				return OraclePrice{}, err
			}
			price, confidence, publishTime = p, c, t
			fellBack = true
		}
	} else {
		p, c, t, err := feed.Spot(cfg.FeedID)
		if err != nil {
			return OraclePrice{}, err
		}
		price, confidence, publishTime = p, c, t
	}

	if now-publishTime > cfg.MaxPriceAgeSec {
		return OraclePrice{}, fmt.Errorf("%w: age %ds exceeds max %ds", ErrStaleOraclePrice, now-publishTime, cfg.MaxPriceAgeSec)
	}

	return OraclePrice{
		PriceScaled:      price,
		ConfidenceScaled: confidence,
		PublishTime:      publishTime,
		EMAFallback:      fellBack,
	}, nil
}
