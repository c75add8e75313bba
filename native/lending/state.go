package lending

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the persistence boundary for the engine. Lookups return nil (not
// an error) when a record does not exist; the engine initialises defaults on
// first touch.
type State interface {
	Reserve(asset string) (*Reserve, error)
	PutReserve(asset string, reserve *Reserve) error
	UserReserve(asset string, addr common.Address) (*UserReserve, error)
	PutUserReserve(asset string, user *UserReserve) error
	// UserReserves lists every position held by the address keyed by asset,
	// used when aggregating account-wide collateral and debt.
	UserReserves(addr common.Address) (map[string]*UserReserve, error)
	// Balance is the address's underlying (wallet) balance for the asset.
	Balance(asset string, addr common.Address) (*big.Int, error)
	PutBalance(asset string, addr common.Address, amount *big.Int) error
}

// TimeSource supplies the monotonic timestamps driving interest accrual.
type TimeSource interface {
	Now() uint64
}

type systemClock struct{}

func (systemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// SystemClock returns a TimeSource backed by the wall clock.
func SystemClock() TimeSource { return systemClock{} }
