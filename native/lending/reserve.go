package lending

import "math/big"

func saturatingDelta(now, last uint64) uint64 {
	if now <= last {
		return 0
	}
	return now - last
}

// accrued projects the reserve to the supplied timestamp and returns a fresh
// record; the input is never mutated. The liquidity index grows linearly at
// the current liquidity rate, the variable borrow index compounds while any
// variable debt is outstanding, and accrued stable interest is folded into
// the principal. A zero elapsed time returns an identical copy, so accruing
// twice at the same timestamp is a no-op.
func accrued(r *Reserve, now uint64) *Reserve {
	out := r.Clone()
	out.ensureDefaults()

	dt := saturatingDelta(now, out.LastUpdateTimestamp)
	out.LiquidityIndex = rayMul(linearInterest(out.CurrentLiquidityRate, dt), out.LiquidityIndex)
	if out.ScaledVariableDebt.Sign() > 0 {
		out.VariableBorrowIndex = rayMul(compoundedInterest(out.CurrentVariableBorrowRate, dt), out.VariableBorrowIndex)
	}

	if out.PrincipalStableDebt.Sign() > 0 {
		stableDelta := saturatingDelta(now, out.StableDebtLastUpdated)
		out.PrincipalStableDebt = rayMul(compoundedInterest(out.AverageStableRate, stableDelta), out.PrincipalStableDebt)
	}

	if now > out.LastUpdateTimestamp {
		out.LastUpdateTimestamp = now
	}
	if now > out.StableDebtLastUpdated {
		out.StableDebtLastUpdated = now
	}
	return out
}

// refreshRates recomputes the three current rates from the reserve's
// post-action figures.
func refreshRates(r *Reserve, cfg *ReserveConfig) error {
	rates, err := cfg.Strategy.CalculateRates(
		r.AvailableLiquidity,
		r.PrincipalStableDebt,
		r.TotalVariableDebt(),
		r.AverageStableRate,
		cfg.ReserveFactorBps,
	)
	if err != nil {
		return err
	}
	r.CurrentLiquidityRate = rates.LiquidityRate
	r.CurrentStableBorrowRate = rates.StableBorrowRate
	r.CurrentVariableBorrowRate = rates.VariableBorrowRate
	return nil
}

// NormalizedIncome projects the liquidity index to the query timestamp. Pure
// read; stored state is untouched.
func (r *Reserve) NormalizedIncome(now uint64) *big.Int {
	if r == nil {
		return Ray()
	}
	index := zeroIfNil(r.LiquidityIndex)
	if now == r.LastUpdateTimestamp {
		return new(big.Int).Set(index)
	}
	dt := saturatingDelta(now, r.LastUpdateTimestamp)
	return rayMul(linearInterest(r.CurrentLiquidityRate, dt), index)
}

// NormalizedVariableDebt projects the variable borrow index to the query
// timestamp. Pure read.
func (r *Reserve) NormalizedVariableDebt(now uint64) *big.Int {
	if r == nil {
		return Ray()
	}
	index := zeroIfNil(r.VariableBorrowIndex)
	if now == r.LastUpdateTimestamp {
		return new(big.Int).Set(index)
	}
	dt := saturatingDelta(now, r.LastUpdateTimestamp)
	return rayMul(compoundedInterest(r.CurrentVariableBorrowRate, dt), index)
}
