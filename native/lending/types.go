package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RateMode selects which debt book a borrow or repay acts on.
type RateMode uint8

const (
	// RateModeStable locks the borrower's rate at origination time.
	RateModeStable RateMode = iota + 1
	// RateModeVariable accrues at the reserve's pooled, utilisation-driven rate.
	RateModeVariable
)

// Reserve captures the global accounting state for one listed asset. Amounts
// are wad (1e18) big integers, indexes and rates are ray (1e27) to match
// on-chain precision.
type Reserve struct {
	// LiquidityIndex is the cumulative growth factor applied to scaled
	// deposit balances. Never decreases.
	LiquidityIndex *big.Int
	// VariableBorrowIndex is the cumulative growth factor applied to scaled
	// variable debt. Never decreases.
	VariableBorrowIndex *big.Int
	// CurrentLiquidityRate, CurrentVariableBorrowRate and
	// CurrentStableBorrowRate are refreshed after every state change.
	CurrentLiquidityRate      *big.Int
	CurrentVariableBorrowRate *big.Int
	CurrentStableBorrowRate   *big.Int
	// PrincipalStableDebt is the outstanding stable debt with interest folded
	// in up to StableDebtLastUpdated.
	PrincipalStableDebt *big.Int
	// AverageStableRate is the amount-weighted blend of all outstanding
	// stable borrowers' individual rates.
	AverageStableRate *big.Int
	// ScaledVariableDebt is the index-independent sum of variable debt;
	// actual debt is scaled times VariableBorrowIndex.
	ScaledVariableDebt *big.Int
	// AvailableLiquidity is the underlying balance held by the pool.
	AvailableLiquidity    *big.Int
	StableDebtLastUpdated uint64
	LastUpdateTimestamp   uint64
}

// NewReserve returns a freshly initialised reserve with unit indexes.
func NewReserve(timestamp uint64) *Reserve {
	return &Reserve{
		LiquidityIndex:            new(big.Int).Set(ray),
		VariableBorrowIndex:       new(big.Int).Set(ray),
		CurrentLiquidityRate:      big.NewInt(0),
		CurrentVariableBorrowRate: big.NewInt(0),
		CurrentStableBorrowRate:   big.NewInt(0),
		PrincipalStableDebt:       big.NewInt(0),
		AverageStableRate:         big.NewInt(0),
		ScaledVariableDebt:        big.NewInt(0),
		AvailableLiquidity:        big.NewInt(0),
		StableDebtLastUpdated:     timestamp,
		LastUpdateTimestamp:       timestamp,
	}
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	return &Reserve{
		LiquidityIndex:            cloneBigInt(r.LiquidityIndex),
		VariableBorrowIndex:       cloneBigInt(r.VariableBorrowIndex),
		CurrentLiquidityRate:      cloneBigInt(r.CurrentLiquidityRate),
		CurrentVariableBorrowRate: cloneBigInt(r.CurrentVariableBorrowRate),
		CurrentStableBorrowRate:   cloneBigInt(r.CurrentStableBorrowRate),
		PrincipalStableDebt:       cloneBigInt(r.PrincipalStableDebt),
		AverageStableRate:         cloneBigInt(r.AverageStableRate),
		ScaledVariableDebt:        cloneBigInt(r.ScaledVariableDebt),
		AvailableLiquidity:        cloneBigInt(r.AvailableLiquidity),
		StableDebtLastUpdated:     r.StableDebtLastUpdated,
		LastUpdateTimestamp:       r.LastUpdateTimestamp,
	}
}

// TotalVariableDebt projects the variable debt at the stored index.
func (r *Reserve) TotalVariableDebt() *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	return rayMul(zeroIfNil(r.ScaledVariableDebt), zeroIfNil(r.VariableBorrowIndex))
}

// ensureDefaults populates nil big.Int fields so decoded records are safe to
// operate on.
func (r *Reserve) ensureDefaults() {
	if r.LiquidityIndex == nil || r.LiquidityIndex.Sign() == 0 {
		r.LiquidityIndex = new(big.Int).Set(ray)
	}
	if r.VariableBorrowIndex == nil || r.VariableBorrowIndex.Sign() == 0 {
		r.VariableBorrowIndex = new(big.Int).Set(ray)
	}
	if r.CurrentLiquidityRate == nil {
		r.CurrentLiquidityRate = big.NewInt(0)
	}
	if r.CurrentVariableBorrowRate == nil {
		r.CurrentVariableBorrowRate = big.NewInt(0)
	}
	if r.CurrentStableBorrowRate == nil {
		r.CurrentStableBorrowRate = big.NewInt(0)
	}
	if r.PrincipalStableDebt == nil {
		r.PrincipalStableDebt = big.NewInt(0)
	}
	if r.AverageStableRate == nil {
		r.AverageStableRate = big.NewInt(0)
	}
	if r.ScaledVariableDebt == nil {
		r.ScaledVariableDebt = big.NewInt(0)
	}
	if r.AvailableLiquidity == nil {
		r.AvailableLiquidity = big.NewInt(0)
	}
}

// UserReserve maintains one participant's position in one reserve.
type UserReserve struct {
	// Address is the position owner.
	Address common.Address
	// ScaledDeposit is the index-independent deposit balance; the current
	// balance is scaled times the reserve's liquidity index.
	ScaledDeposit *big.Int
	// ScaledVariableDebt mirrors the reserve-level scaling for variable debt.
	ScaledVariableDebt *big.Int
	// PrincipalStableDebt accrues at the personal StableBorrowRate from
	// StableRateLastUpdated.
	PrincipalStableDebt   *big.Int
	StableBorrowRate      *big.Int
	StableRateLastUpdated uint64
	// UseAsCollateral is auto-enabled on first deposit and auto-disabled
	// when the balance reaches zero.
	UseAsCollateral bool
}

// NewUserReserve returns a zero-valued position for the address.
func NewUserReserve(addr common.Address) *UserReserve {
	return &UserReserve{
		Address:             addr,
		ScaledDeposit:       big.NewInt(0),
		ScaledVariableDebt:  big.NewInt(0),
		PrincipalStableDebt: big.NewInt(0),
		StableBorrowRate:    big.NewInt(0),
	}
}

// Clone returns a deep copy of the position.
func (u *UserReserve) Clone() *UserReserve {
	if u == nil {
		return nil
	}
	return &UserReserve{
		Address:               u.Address,
		ScaledDeposit:         cloneBigInt(u.ScaledDeposit),
		ScaledVariableDebt:    cloneBigInt(u.ScaledVariableDebt),
		PrincipalStableDebt:   cloneBigInt(u.PrincipalStableDebt),
		StableBorrowRate:      cloneBigInt(u.StableBorrowRate),
		StableRateLastUpdated: u.StableRateLastUpdated,
		UseAsCollateral:       u.UseAsCollateral,
	}
}

func (u *UserReserve) ensureDefaults() {
	if u.ScaledDeposit == nil {
		u.ScaledDeposit = big.NewInt(0)
	}
	if u.ScaledVariableDebt == nil {
		u.ScaledVariableDebt = big.NewInt(0)
	}
	if u.PrincipalStableDebt == nil {
		u.PrincipalStableDebt = big.NewInt(0)
	}
	if u.StableBorrowRate == nil {
		u.StableBorrowRate = big.NewInt(0)
	}
}

// ReserveConfig is the immutable per-reserve configuration supplied at
// initialisation. Risk parameters are basis points.
type ReserveConfig struct {
	Active                  bool
	LTVBps                  uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
	CloseFactorBps          uint64
	ReserveFactorBps        uint64
	Strategy                *RateStrategy
}

// Clone returns a deep copy of the configuration.
func (c *ReserveConfig) Clone() *ReserveConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Strategy = c.Strategy.Clone()
	return &clone
}
