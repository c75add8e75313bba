package lending

import (
	"testing"
)

func TestAccruedGrowsBothIndexes(t *testing.T) {
	reserve := NewReserve(1_000)
	reserve.CurrentLiquidityRate = mustBigInt("100000000000000000000000000")
	reserve.CurrentVariableBorrowRate = mustBigInt("100000000000000000000000000")
	reserve.ScaledVariableDebt = wadAmount(50)
	reserve.AvailableLiquidity = wadAmount(50)

	out := accrued(reserve, 1_000+SecondsPerYear)
	if out.LiquidityIndex.Cmp(mustBigInt("1100000000000000000000000000")) != 0 {
		t.Fatalf("unexpected liquidity index: %s", out.LiquidityIndex)
	}
	if out.VariableBorrowIndex.Cmp(mustBigInt("1105167270015202188556648000")) != 0 {
		t.Fatalf("unexpected variable borrow index: %s", out.VariableBorrowIndex)
	}
	if out.LastUpdateTimestamp != 1_000+SecondsPerYear {
		t.Fatalf("timestamp not advanced: %d", out.LastUpdateTimestamp)
	}

	// The input record is projected, never mutated.
	if reserve.LiquidityIndex.Cmp(Ray()) != 0 || reserve.LastUpdateTimestamp != 1_000 {
		t.Fatalf("input reserve mutated: %+v", reserve)
	}
}

func TestAccruedIdempotentAtSameTimestamp(t *testing.T) {
	reserve := NewReserve(1_000)
	reserve.CurrentLiquidityRate = mustBigInt("50000000000000000000000000")
	reserve.CurrentVariableBorrowRate = mustBigInt("80000000000000000000000000")
	reserve.ScaledVariableDebt = wadAmount(10)
	reserve.PrincipalStableDebt = wadAmount(5)
	reserve.AverageStableRate = mustBigInt("40000000000000000000000000")

	now := uint64(1_000 + SecondsPerYear)
	once := accrued(reserve, now)
	twice := accrued(once, now)

	if once.LiquidityIndex.Cmp(twice.LiquidityIndex) != 0 {
		t.Fatalf("liquidity index drifted: %s vs %s", once.LiquidityIndex, twice.LiquidityIndex)
	}
	if once.VariableBorrowIndex.Cmp(twice.VariableBorrowIndex) != 0 {
		t.Fatalf("variable borrow index drifted: %s vs %s", once.VariableBorrowIndex, twice.VariableBorrowIndex)
	}
	if once.PrincipalStableDebt.Cmp(twice.PrincipalStableDebt) != 0 {
		t.Fatalf("stable principal drifted: %s vs %s", once.PrincipalStableDebt, twice.PrincipalStableDebt)
	}
}

func TestAccruedSkipsVariableIndexWithoutDebt(t *testing.T) {
	reserve := NewReserve(1_000)
	reserve.CurrentLiquidityRate = mustBigInt("100000000000000000000000000")
	reserve.CurrentVariableBorrowRate = mustBigInt("100000000000000000000000000")

	out := accrued(reserve, 1_000+SecondsPerYear)
	if out.VariableBorrowIndex.Cmp(Ray()) != 0 {
		t.Fatalf("variable index should not grow without debt: %s", out.VariableBorrowIndex)
	}
}

func TestNormalizedProjectionsArePureReads(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	mustCredit(t, engine, assetNUSD, alice, wadAmount(100))
	mustDeposit(t, engine, assetNUSD, alice, wadAmount(100))
	mustCredit(t, engine, assetGold, bob, wadAmount(100))
	mustDeposit(t, engine, assetGold, bob, wadAmount(100))
	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(10), RateModeVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	stored := state.reserves[assetNUSD].Clone()

	clock.now += SecondsPerYear
	first, err := engine.ReserveNormalizedIncome(assetNUSD)
	if err != nil {
		t.Fatalf("normalized income: %v", err)
	}
	second, err := engine.ReserveNormalizedIncome(assetNUSD)
	if err != nil {
		t.Fatalf("normalized income: %v", err)
	}
	if first.Cmp(second) != 0 {
		t.Fatalf("projection not stable: %s vs %s", first, second)
	}
	if first.Cmp(Ray()) <= 0 {
		t.Fatalf("projection should grow past one ray: %s", first)
	}

	debtIndex, err := engine.ReserveNormalizedVariableDebt(assetNUSD)
	if err != nil {
		t.Fatalf("normalized debt: %v", err)
	}
	if debtIndex.Cmp(first) < 0 {
		t.Fatalf("borrow index should outpace the liquidity index: %s vs %s", debtIndex, first)
	}

	// Stored state is untouched by projections.
	after := state.reserves[assetNUSD]
	if after.LiquidityIndex.Cmp(stored.LiquidityIndex) != 0 || after.LastUpdateTimestamp != stored.LastUpdateTimestamp {
		t.Fatalf("projection mutated stored reserve")
	}
}
