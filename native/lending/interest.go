package lending

import "math/big"

// SecondsPerYear anchors annualised rates to per-second accrual deltas.
const SecondsPerYear = 31_536_000

var (
	secondsPerYear = big.NewInt(SecondsPerYear)
	two            = big.NewInt(2)
	six            = big.NewInt(6)
)

// linearInterest returns the cumulative growth factor 1 + rate*dt/year in ray
// precision. Supply-side interest is linear because the liquidity rate is
// refreshed on every state transition.
func linearInterest(rate *big.Int, dt uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || dt == 0 {
		return new(big.Int).Set(ray)
	}
	growth := new(big.Int).Mul(rate, new(big.Int).SetUint64(dt))
	growth.Quo(growth, secondsPerYear)
	return growth.Add(growth, ray)
}

// compoundedInterest approximates (1 + rate/year)^dt with a third-order
// binomial expansion in ray precision. The truncation points mirror the
// on-chain reference so indexes stay reproducible bit for bit.
func compoundedInterest(rate *big.Int, dt uint64) *big.Int {
	if dt == 0 || rate == nil || rate.Sign() == 0 {
		return new(big.Int).Set(ray)
	}

	exp := new(big.Int).SetUint64(dt)
	expMinusOne := new(big.Int).SetUint64(dt - 1)
	expMinusTwo := big.NewInt(0)
	if dt > 2 {
		expMinusTwo.SetUint64(dt - 2)
	}

	ratePerSecond := new(big.Int).Quo(rate, secondsPerYear)
	basePowerTwo := rayMul(ratePerSecond, ratePerSecond)
	basePowerThree := rayMul(basePowerTwo, ratePerSecond)

	firstTerm := new(big.Int).Mul(exp, ratePerSecond)

	secondTerm := new(big.Int).Mul(exp, expMinusOne)
	secondTerm.Mul(secondTerm, basePowerTwo)
	secondTerm.Quo(secondTerm, two)

	thirdTerm := new(big.Int).Mul(exp, expMinusOne)
	thirdTerm.Mul(thirdTerm, expMinusTwo)
	thirdTerm.Mul(thirdTerm, basePowerThree)
	thirdTerm.Quo(thirdTerm, six)

	out := new(big.Int).Add(ray, firstTerm)
	out.Add(out, secondTerm)
	return out.Add(out, thirdTerm)
}
