package lending

import (
	"math/big"
	"sync"
)

// PriceFeed supplies USD valuations for listed assets. Prices are wad
// (1e18) USD per whole token. The boolean reports whether the feed could
// produce a trustworthy price; callers must abort the action when it is
// false.
type PriceFeed interface {
	AssetPrice(asset string) (*big.Int, bool)
}

// StaticPriceFeed is a mutable in-memory feed used by the daemon's
// configuration-driven pricing and by tests.
type StaticPriceFeed struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

// NewStaticPriceFeed builds an empty feed.
func NewStaticPriceFeed() *StaticPriceFeed {
	return &StaticPriceFeed{prices: make(map[string]*big.Int)}
}

// SetPrice installs or updates the price for an asset. A nil price delists
// the asset, making subsequent lookups fail.
func (f *StaticPriceFeed) SetPrice(asset string, price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if price == nil {
		delete(f.prices, asset)
		return
	}
	f.prices[asset] = new(big.Int).Set(price)
}

// AssetPrice implements PriceFeed.
func (f *StaticPriceFeed) AssetPrice(asset string) (*big.Int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[asset]
	if !ok || price.Sign() <= 0 {
		return nil, false
	}
	return new(big.Int).Set(price), true
}
