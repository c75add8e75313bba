package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestInitReserveRejectsDuplicates(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if err := engine.InitReserve(assetNUSD, testConfig(0)); !errors.Is(err, ErrReserveExists) {
		t.Fatalf("expected duplicate listing error, got %v", err)
	}
}

func TestInitReserveValidatesConfig(t *testing.T) {
	state := newMockState()
	engine := NewEngine(state, NewStaticPriceFeed(), &manualClock{now: 1})

	if err := engine.InitReserve("x", nil); err == nil {
		t.Fatalf("nil config should be rejected")
	}
	cfg := testConfig(0)
	cfg.Strategy.OptimalUtilization = big.NewInt(0)
	if err := engine.InitReserve("x", cfg); err == nil {
		t.Fatalf("degenerate strategy should be rejected")
	}
	cfg = testConfig(0)
	cfg.LTVBps = 9000 // above the liquidation threshold
	if err := engine.InitReserve("x", cfg); err == nil {
		t.Fatalf("ltv above threshold should be rejected")
	}
}

func TestAmountAndAddressGuards(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	alice := testAddr(0x01)

	if _, err := engine.Deposit(assetNUSD, alice, alice, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil amount: got %v", err)
	}
	if _, err := engine.Deposit(assetNUSD, alice, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	// The full-balance sentinel only applies to withdraw and repay.
	mustCredit(t, engine, assetNUSD, alice, wadAmount(1))
	if _, err := engine.Deposit(assetNUSD, alice, alice, MaxAmount); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("sentinel deposit: got %v", err)
	}
	if _, err := engine.Deposit(assetNUSD, common.Address{}, alice, wadAmount(1)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("zero funder: got %v", err)
	}
	if _, err := engine.Deposit(assetNUSD, alice, common.Address{}, wadAmount(1)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("zero beneficiary: got %v", err)
	}
	if _, err := engine.Deposit(assetNUSD, alice, alice, wadAmount(2)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdrawn deposit: got %v", err)
	}
}

func TestUnknownAndInactiveReserves(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	alice := testAddr(0x01)

	if _, err := engine.Deposit("unlisted", alice, alice, wadAmount(1)); !errors.Is(err, ErrReserveNotFound) {
		t.Fatalf("unlisted asset: got %v", err)
	}
	if _, err := engine.ReserveSnapshot("unlisted"); !errors.Is(err, ErrReserveNotFound) {
		t.Fatalf("unlisted snapshot: got %v", err)
	}

	mustCredit(t, engine, assetNUSD, alice, wadAmount(10))
	mustDeposit(t, engine, assetNUSD, alice, wadAmount(10))
	if err := engine.SetReserveActive(assetNUSD, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := engine.Deposit(assetNUSD, alice, alice, wadAmount(1)); !errors.Is(err, ErrReserveInactive) {
		t.Fatalf("inactive deposit: got %v", err)
	}
	// Reads keep working while the reserve is frozen.
	if _, err := engine.ReserveNormalizedIncome(assetNUSD); err != nil {
		t.Fatalf("read on frozen reserve: %v", err)
	}
	if _, err := engine.DepositBalance(assetNUSD, alice); err != nil {
		t.Fatalf("balance on frozen reserve: %v", err)
	}
	if err := engine.SetReserveActive(assetNUSD, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	mustCredit(t, engine, assetNUSD, alice, wadAmount(1))
	mustDeposit(t, engine, assetNUSD, alice, wadAmount(1))
}

func TestBorrowGuards(t *testing.T) {
	engine, _, oracle, _ := newTestEngine(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	mustCredit(t, engine, assetNUSD, alice, wadAmount(20))
	mustDeposit(t, engine, assetNUSD, alice, wadAmount(20))
	mustCredit(t, engine, assetGold, bob, wadAmount(10))
	mustDeposit(t, engine, assetGold, bob, wadAmount(10))

	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(5), RateMode(3)); !errors.Is(err, ErrInvalidRateMode) {
		t.Fatalf("invalid rate mode: got %v", err)
	}
	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(30), RateModeVariable); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("borrow above liquidity: got %v", err)
	}
	// 10 collateral at 75% LTV caps borrowing at 7.5.
	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(8), RateModeVariable); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("undercollateralised borrow: got %v", err)
	}
	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(7), RateModeVariable); err != nil {
		t.Fatalf("covered borrow: %v", err)
	}

	// A delisted collateral price blocks further borrowing outright.
	oracle.SetPrice(assetGold, nil)
	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(1), RateModeVariable); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("missing price: got %v", err)
	}
}

func TestRepayWithoutDebt(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	alice := testAddr(0x01)
	mustCredit(t, engine, assetNUSD, alice, wadAmount(10))
	if _, err := engine.Repay(assetNUSD, alice, alice, wadAmount(1), RateModeVariable); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("repay without debt: got %v", err)
	}
}

func TestWithdrawGuards(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	mustCredit(t, engine, assetNUSD, alice, wadAmount(100))
	mustDeposit(t, engine, assetNUSD, alice, wadAmount(100))
	mustCredit(t, engine, assetGold, bob, wadAmount(10))
	mustDeposit(t, engine, assetGold, bob, wadAmount(10))

	if _, err := engine.Withdraw(assetNUSD, alice, alice, wadAmount(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("withdraw above balance: got %v", err)
	}

	if _, err := engine.Borrow(assetNUSD, bob, bob, wadAmount(7), RateModeVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// 8 gold at the 80% threshold covers only 6.4 of the 7 debt.
	if _, err := engine.Withdraw(assetGold, bob, bob, wadAmount(2)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("withdraw breaking health factor: got %v", err)
	}
	if _, err := engine.Withdraw(assetGold, bob, bob, wadAmount(1)); err != nil {
		t.Fatalf("safe withdrawal: %v", err)
	}
}

func TestNilEngineState(t *testing.T) {
	engine := NewEngine(nil, NewStaticPriceFeed(), nil)
	if _, err := engine.Deposit(assetNUSD, testAddr(0x01), testAddr(0x01), wadAmount(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("nil state: got %v", err)
	}
}
