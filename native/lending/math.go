package lending

import "math/big"

var (
	ray              = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay          = new(big.Int).Rsh(ray, 1)
	wad              = mustBigInt("1000000000000000000") // 1e18 precision
	halfWad          = new(big.Int).Rsh(wad, 1)
	wadRayRatio      = big.NewInt(1_000_000_000)
	halfWadRayRatio  = big.NewInt(500_000_000)
	percentageFactor = big.NewInt(10_000)
	halfPercent      = big.NewInt(5_000)

	// MaxAmount is the full-balance sentinel accepted by withdraw and repay.
	MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// BpsToRay converts a basis-point figure into ray precision.
func BpsToRay(bps uint64) *big.Int {
	out := new(big.Int).SetUint64(bps)
	out.Mul(out, ray)
	return out.Quo(out, percentageFactor)
}

// Ray returns the ray unit (1e27) as a fresh big integer.
func Ray() *big.Int {
	return new(big.Int).Set(ray)
}

// rayMul multiplies two ray values, rounding the discarded remainder half up.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	return product.Quo(product, ray)
}

// rayDiv divides a by b in ray precision with half-up rounding.
func rayDiv(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a == nil {
		return big.NewInt(0), nil
	}
	numerator := new(big.Int).Mul(a, ray)
	numerator.Add(numerator, new(big.Int).Rsh(b, 1))
	return numerator.Quo(numerator, b), nil
}

func wadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfWad)
	return product.Quo(product, wad)
}

func wadDiv(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a == nil {
		return big.NewInt(0), nil
	}
	numerator := new(big.Int).Mul(a, wad)
	numerator.Add(numerator, new(big.Int).Rsh(b, 1))
	return numerator.Quo(numerator, b), nil
}

func wadToRay(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(a, wadRayRatio)
}

func rayToWad(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Add(a, halfWadRayRatio)
	return out.Quo(out, wadRayRatio)
}

// percentMul applies a basis-point percentage to a value, rounding half up.
func percentMul(a *big.Int, bps uint64) *big.Int {
	if a == nil || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, new(big.Int).SetUint64(bps))
	product.Add(product, halfPercent)
	return product.Quo(product, percentageFactor)
}

func percentDiv(a *big.Int, bps uint64) (*big.Int, error) {
	if bps == 0 {
		return nil, ErrDivisionByZero
	}
	if a == nil {
		return big.NewInt(0), nil
	}
	divisor := new(big.Int).SetUint64(bps)
	numerator := new(big.Int).Mul(a, percentageFactor)
	numerator.Add(numerator, new(big.Int).Rsh(divisor, 1))
	return numerator.Quo(numerator, divisor), nil
}
