package lending

import (
	"errors"
	"testing"
)

func setupUnderwaterBorrower(t *testing.T) (*Engine, *mockState, *StaticPriceFeed) {
	t.Helper()
	engine, state, oracle, _ := newTestEngine(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	mustCredit(t, engine, assetNUSD, alice, wadAmount(100))
	mustDeposit(t, engine, assetNUSD, alice, wadAmount(100))
	mustCredit(t, engine, assetGold, bob, wadAmount(10))
	mustDeposit(t, engine, assetGold, bob, wadAmount(10))

	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(7), RateModeVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return engine, state, oracle
}

func TestLiquidateRequiresUnhealthyPosition(t *testing.T) {
	engine, _, _ := setupUnderwaterBorrower(t)
	liquidator := testAddr(0x03)
	mustCredit(t, engine, assetNUSD, liquidator, wadAmount(10))

	if _, _, err := engine.Liquidate(assetNUSD, assetGold, liquidator, testAddr(0x02), MaxAmount); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("healthy borrower should not be liquidatable, got %v", err)
	}
}

func TestLiquidateSeizesCollateralWithBonus(t *testing.T) {
	engine, state, oracle := setupUnderwaterBorrower(t)
	bob := testAddr(0x02)
	liquidator := testAddr(0x03)
	mustCredit(t, engine, assetNUSD, liquidator, wadAmount(10))

	// Collateral drops 20%: threshold cover 10 * 0.8 * 0.8 = 6.4 against 7 debt.
	oracle.SetPrice(assetGold, mustBigInt("800000000000000000"))
	hf, err := engine.HealthFactor(bob)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(wadAmount(1)) >= 0 {
		t.Fatalf("borrower should be underwater, hf=%s", hf)
	}

	repaid, seized, err := engine.Liquidate(assetNUSD, assetGold, liquidator, bob, MaxAmount)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// Close factor 50% of the 7 debt.
	if repaid.Cmp(mustBigInt("3500000000000000000")) != 0 {
		t.Fatalf("unexpected repaid amount: %s", repaid)
	}
	// 3.5 debt value plus the 5% bonus, priced in collateral at 0.8.
	if seized.Cmp(mustBigInt("4593750000000000000")) != 0 {
		t.Fatalf("unexpected seized amount: %s", seized)
	}

	remainingDebt, err := engine.VariableDebt(assetNUSD, bob)
	if err != nil {
		t.Fatalf("variable debt: %v", err)
	}
	if remainingDebt.Cmp(mustBigInt("3500000000000000000")) != 0 {
		t.Fatalf("unexpected remaining debt: %s", remainingDebt)
	}

	borrowerDeposit, err := engine.DepositBalance(assetGold, bob)
	if err != nil {
		t.Fatalf("borrower deposit: %v", err)
	}
	if borrowerDeposit.Cmp(mustBigInt("5406250000000000000")) != 0 {
		t.Fatalf("unexpected borrower collateral: %s", borrowerDeposit)
	}
	liquidatorDeposit, err := engine.DepositBalance(assetGold, liquidator)
	if err != nil {
		t.Fatalf("liquidator deposit: %v", err)
	}
	if liquidatorDeposit.Cmp(seized) != 0 {
		t.Fatalf("seized collateral should land with the liquidator: %s", liquidatorDeposit)
	}

	wallet, err := engine.Balance(assetNUSD, liquidator)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if wallet.Cmp(mustBigInt("6500000000000000000")) != 0 {
		t.Fatalf("liquidator wallet should fund the payback: %s", wallet)
	}

	// The repaid debt flows back into the reserve.
	reserve := state.reserves[assetNUSD]
	if reserve.AvailableLiquidity.Cmp(mustBigInt("96500000000000000000")) != 0 {
		t.Fatalf("unexpected available liquidity: %s", reserve.AvailableLiquidity)
	}
}

func TestLiquidateBurnsVariableBeforeStable(t *testing.T) {
	engine, state, oracle, _ := newTestEngine(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	liquidator := testAddr(0x03)

	mustCredit(t, engine, assetNUSD, alice, wadAmount(100))
	mustDeposit(t, engine, assetNUSD, alice, wadAmount(100))
	mustCredit(t, engine, assetGold, bob, wadAmount(10))
	mustDeposit(t, engine, assetGold, bob, wadAmount(10))

	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(2), RateModeVariable); err != nil {
		t.Fatalf("variable borrow: %v", err)
	}
	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(5), RateModeStable); err != nil {
		t.Fatalf("stable borrow: %v", err)
	}

	oracle.SetPrice(assetGold, mustBigInt("800000000000000000"))
	mustCredit(t, engine, assetNUSD, liquidator, wadAmount(10))

	repaid, _, err := engine.Liquidate(assetNUSD, assetGold, liquidator, bob, MaxAmount)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(mustBigInt("3500000000000000000")) != 0 {
		t.Fatalf("unexpected repaid amount: %s", repaid)
	}

	// The 2 variable debt burns first, the remaining 1.5 comes off the stable leg.
	position := state.users[assetNUSD][bob]
	if position.ScaledVariableDebt.Sign() != 0 {
		t.Fatalf("variable debt should burn first: %s", position.ScaledVariableDebt)
	}
	if position.PrincipalStableDebt.Cmp(mustBigInt("3500000000000000000")) != 0 {
		t.Fatalf("unexpected stable principal: %s", position.PrincipalStableDebt)
	}
}

func TestLiquidateRejectsSelfAndUnknownAccounts(t *testing.T) {
	engine, _, _ := setupUnderwaterBorrower(t)
	bob := testAddr(0x02)
	if _, _, err := engine.Liquidate(assetNUSD, assetGold, bob, bob, MaxAmount); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("self liquidation should be rejected, got %v", err)
	}
}
