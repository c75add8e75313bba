package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// healthFactorThreshold is the wad ratio below which an account becomes
// eligible for liquidation.
var healthFactorThreshold = new(big.Int).Set(wad)

// userStableDebt projects the position's stable debt to the query timestamp
// by compounding the principal at the personal rate. A zero rate or zero
// elapsed time returns the principal unchanged.
func userStableDebt(u *UserReserve, now uint64) *big.Int {
	if u == nil || u.PrincipalStableDebt == nil || u.PrincipalStableDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	if u.StableBorrowRate == nil || u.StableBorrowRate.Sign() == 0 {
		return new(big.Int).Set(u.PrincipalStableDebt)
	}
	dt := saturatingDelta(now, u.StableRateLastUpdated)
	if dt == 0 {
		return new(big.Int).Set(u.PrincipalStableDebt)
	}
	return rayMul(compoundedInterest(u.StableBorrowRate, dt), u.PrincipalStableDebt)
}

// accountTotals aggregates an account's USD-valued collateral and debt across
// every reserve it touches. Collateral is reported three ways: raw, weighted
// by liquidation threshold (health factor input) and weighted by LTV (borrow
// capacity input).
type accountTotals struct {
	collateralUSD *big.Int
	thresholdUSD  *big.Int
	ltvUSD        *big.Int
	debtUSD       *big.Int
}

// aggregateAccount walks the address's positions valuing them at oracle
// prices. The override maps substitute not-yet-committed records for assets
// being mutated so guards evaluate the projected position instead of the
// stored one.
func (e *Engine) aggregateAccount(addr common.Address, now uint64, userOverrides map[string]*UserReserve, reserveOverrides map[string]*Reserve) (*accountTotals, error) {
	positions, err := e.state.UserReserves(addr)
	if err != nil {
		return nil, err
	}
	if len(userOverrides) > 0 {
		merged := make(map[string]*UserReserve, len(positions)+len(userOverrides))
		for asset, user := range positions {
			merged[asset] = user
		}
		for asset, user := range userOverrides {
			merged[asset] = user
		}
		positions = merged
	}

	totals := &accountTotals{
		collateralUSD: big.NewInt(0),
		thresholdUSD:  big.NewInt(0),
		ltvUSD:        big.NewInt(0),
		debtUSD:       big.NewInt(0),
	}

	for asset, user := range positions {
		if user == nil {
			continue
		}
		user.ensureDefaults()

		cfg, err := e.config(asset)
		if err != nil {
			return nil, err
		}
		reserve := reserveOverrides[asset]
		if reserve == nil {
			reserve, err = e.state.Reserve(asset)
			if err != nil {
				return nil, err
			}
			if reserve == nil {
				return nil, fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
			}
			reserve.ensureDefaults()
		}

		hasCollateral := user.UseAsCollateral && user.ScaledDeposit.Sign() > 0
		variableDebt := rayMul(user.ScaledVariableDebt, reserve.NormalizedVariableDebt(now))
		stableDebt := userStableDebt(user, now)
		hasDebt := variableDebt.Sign() > 0 || stableDebt.Sign() > 0
		if !hasCollateral && !hasDebt {
			continue
		}

		price, ok := e.oracle.AssetPrice(asset)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
		}

		if hasCollateral {
			balance := rayMul(user.ScaledDeposit, reserve.NormalizedIncome(now))
			valueUSD := wadMul(balance, price)
			totals.collateralUSD.Add(totals.collateralUSD, valueUSD)
			totals.thresholdUSD.Add(totals.thresholdUSD, percentMul(valueUSD, cfg.LiquidationThresholdBps))
			totals.ltvUSD.Add(totals.ltvUSD, percentMul(valueUSD, cfg.LTVBps))
		}
		if hasDebt {
			debt := new(big.Int).Add(variableDebt, stableDebt)
			totals.debtUSD.Add(totals.debtUSD, wadMul(debt, price))
		}
	}
	return totals, nil
}

// healthFactor is thresholdUSD / debtUSD as a wad ratio. Debt-free accounts
// report the maximum representable value.
func (t *accountTotals) healthFactor() (*big.Int, error) {
	if t.debtUSD.Sign() == 0 {
		return new(big.Int).Set(MaxAmount), nil
	}
	return wadDiv(t.thresholdUSD, t.debtUSD)
}

// borrowCovered reports whether the LTV-weighted collateral still covers the
// account's (projected) debt.
func (t *accountTotals) borrowCovered() bool {
	return t.ltvUSD.Cmp(t.debtUSD) >= 0
}

// DepositBalance returns the account's current deposit balance in the
// reserve, interest accrued to the engine clock.
func (e *Engine) DepositBalance(asset string, addr common.Address) (*big.Int, error) {
	reserve, user, now, err := e.snapshot(asset, addr)
	if err != nil {
		return nil, err
	}
	return rayMul(user.ScaledDeposit, reserve.NormalizedIncome(now)), nil
}

// VariableDebt returns the account's current variable debt in the reserve.
func (e *Engine) VariableDebt(asset string, addr common.Address) (*big.Int, error) {
	reserve, user, now, err := e.snapshot(asset, addr)
	if err != nil {
		return nil, err
	}
	return rayMul(user.ScaledVariableDebt, reserve.NormalizedVariableDebt(now)), nil
}

// StableDebt returns the account's current stable debt in the reserve.
func (e *Engine) StableDebt(asset string, addr common.Address) (*big.Int, error) {
	_, user, now, err := e.snapshot(asset, addr)
	if err != nil {
		return nil, err
	}
	return userStableDebt(user, now), nil
}

// HealthFactor aggregates the account across all reserves and returns the
// wad-scaled ratio of threshold-weighted collateral to debt.
func (e *Engine) HealthFactor(addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if isZeroAddress(addr) {
		return nil, ErrInvalidAddress
	}
	totals, err := e.aggregateAccount(addr, e.clock.Now(), nil, nil)
	if err != nil {
		return nil, err
	}
	return totals.healthFactor()
}
