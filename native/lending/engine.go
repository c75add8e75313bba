package lending

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Engine orchestrates the state transitions of the reserve accounting core.
// Every mutating operation accrues the reserve to the current timestamp,
// applies the action to cloned records, refreshes the rates from the
// post-action figures and only then persists — a failed step leaves stored
// state untouched. Operations against the same reserve are serialised by a
// per-reserve lock.
type Engine struct {
	mu      sync.RWMutex
	state   State
	oracle  PriceFeed
	clock   TimeSource
	configs map[string]*ReserveConfig
	locks   map[string]*sync.Mutex
}

// NewEngine wires the engine to its persistence layer, price feed and
// timestamp source. A nil clock defaults to the system wall clock.
func NewEngine(state State, oracle PriceFeed, clock TimeSource) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		state:   state,
		oracle:  oracle,
		clock:   clock,
		configs: make(map[string]*ReserveConfig),
		locks:   make(map[string]*sync.Mutex),
	}
}

// InitReserve lists an asset with its immutable configuration. The reserve
// record is created with unit indexes unless one is already persisted, in
// which case only the configuration is registered (daemon restart).
func (e *Engine) InitReserve(asset string, cfg *ReserveConfig) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if asset == "" {
		return fmt.Errorf("%w: empty asset", ErrReserveNotFound)
	}
	if cfg == nil || cfg.Strategy == nil {
		return fmt.Errorf("lending: reserve %s missing strategy", asset)
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return fmt.Errorf("lending: reserve %s strategy: %w", asset, err)
	}
	if cfg.LiquidationThresholdBps > 10_000 || cfg.LTVBps > cfg.LiquidationThresholdBps {
		return fmt.Errorf("lending: reserve %s risk parameters inconsistent", asset)
	}
	if cfg.ReserveFactorBps > 10_000 || cfg.CloseFactorBps > 10_000 {
		return fmt.Errorf("lending: reserve %s factor above 100%%", asset)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.configs[asset]; exists {
		return fmt.Errorf("%w: %s", ErrReserveExists, asset)
	}
	existing, err := e.state.Reserve(asset)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := e.state.PutReserve(asset, NewReserve(e.clock.Now())); err != nil {
			return err
		}
	}
	e.configs[asset] = cfg.Clone()
	return nil
}

// SetReserveActive toggles whether mutating operations are accepted for the
// asset. Reads keep serving while a reserve is inactive.
func (e *Engine) SetReserveActive(asset string, active bool) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.configs[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	cfg.Active = active
	return nil
}

// Assets returns the listed asset identifiers in lexical order.
func (e *Engine) Assets() []string {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.configs))
	for asset := range e.configs {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// Deposit moves amount of the underlying from the funding address into the
// reserve and credits onBehalfOf's scaled deposit balance. The first deposit
// into a reserve enables it as collateral for the position owner. Returns the
// applied amount.
func (e *Engine) Deposit(asset string, from, onBehalfOf common.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := validAmount(amount, false); err != nil {
		return nil, err
	}
	if isZeroAddress(from) || isZeroAddress(onBehalfOf) {
		return nil, ErrInvalidAddress
	}

	unlock := e.lockReserve(asset)
	defer unlock()

	reserve, cfg, err := e.loadReserveForUpdate(asset)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	acc := accrued(reserve, now)

	fromBalance, err := e.balance(asset, from)
	if err != nil {
		return nil, err
	}
	if fromBalance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	user, err := e.userReserve(asset, onBehalfOf)
	if err != nil {
		return nil, err
	}
	scaled, err := rayDiv(amount, acc.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	firstDeposit := user.ScaledDeposit.Sign() == 0
	user.ScaledDeposit = new(big.Int).Add(user.ScaledDeposit, scaled)
	if firstDeposit {
		user.UseAsCollateral = true
	}

	acc.AvailableLiquidity = new(big.Int).Add(acc.AvailableLiquidity, amount)
	if err := refreshRates(acc, cfg); err != nil {
		return nil, err
	}

	if err := e.state.PutBalance(asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return nil, err
	}
	if err := e.state.PutUserReserve(asset, user); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, acc); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// Withdraw redeems part or all of the caller's deposit and pays the
// underlying to the destination address. Passing MaxAmount withdraws the full
// current balance. Withdrawing to zero disables the reserve as collateral.
func (e *Engine) Withdraw(asset string, owner, to common.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := validAmount(amount, true); err != nil {
		return nil, err
	}
	if isZeroAddress(owner) || isZeroAddress(to) {
		return nil, ErrInvalidAddress
	}

	unlock := e.lockReserve(asset)
	defer unlock()

	reserve, cfg, err := e.loadReserveForUpdate(asset)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	acc := accrued(reserve, now)

	user, err := e.userReserve(asset, owner)
	if err != nil {
		return nil, err
	}
	currentBalance := rayMul(user.ScaledDeposit, acc.LiquidityIndex)
	withdrawAll := amount.Cmp(MaxAmount) == 0
	payout := new(big.Int).Set(amount)
	if withdrawAll {
		payout.Set(currentBalance)
	}
	if payout.Sign() == 0 || payout.Cmp(currentBalance) > 0 {
		return nil, ErrInsufficientBalance
	}
	if payout.Cmp(acc.AvailableLiquidity) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	wasCollateral := user.UseAsCollateral
	var scaledBurn *big.Int
	if withdrawAll {
		scaledBurn = new(big.Int).Set(user.ScaledDeposit)
	} else {
		scaledBurn, err = rayDiv(payout, acc.LiquidityIndex)
		if err != nil {
			return nil, err
		}
		if scaledBurn.Cmp(user.ScaledDeposit) > 0 {
			scaledBurn = new(big.Int).Set(user.ScaledDeposit)
		}
	}
	user.ScaledDeposit = new(big.Int).Sub(user.ScaledDeposit, scaledBurn)
	if user.ScaledDeposit.Sign() == 0 {
		user.UseAsCollateral = false
	}

	acc.AvailableLiquidity = new(big.Int).Sub(acc.AvailableLiquidity, payout)
	if acc.AvailableLiquidity.Sign() < 0 {
		return nil, ErrArithmeticFault
	}

	if wasCollateral {
		totals, err := e.aggregateAccount(owner, now,
			map[string]*UserReserve{asset: user},
			map[string]*Reserve{asset: acc})
		if err != nil {
			return nil, err
		}
		if totals.debtUSD.Sign() > 0 {
			hf, err := totals.healthFactor()
			if err != nil {
				return nil, err
			}
			if hf.Cmp(healthFactorThreshold) < 0 {
				return nil, ErrHealthFactorTooLow
			}
		}
	}

	if err := refreshRates(acc, cfg); err != nil {
		return nil, err
	}

	toBalance, err := e.balance(asset, to)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutBalance(asset, to, new(big.Int).Add(toBalance, payout)); err != nil {
		return nil, err
	}
	if err := e.state.PutUserReserve(asset, user); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, acc); err != nil {
		return nil, err
	}
	return payout, nil
}

// Borrow draws amount of the underlying against onBehalfOf's collateral and
// pays it out to the borrower address. Stable mode locks a personal rate
// blended on top-ups; variable mode tracks the reserve's pooled rate.
func (e *Engine) Borrow(asset string, borrower, onBehalfOf common.Address, amount *big.Int, mode RateMode) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := validAmount(amount, false); err != nil {
		return nil, err
	}
	if isZeroAddress(borrower) || isZeroAddress(onBehalfOf) {
		return nil, ErrInvalidAddress
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return nil, ErrInvalidRateMode
	}

	unlock := e.lockReserve(asset)
	defer unlock()

	reserve, cfg, err := e.loadReserveForUpdate(asset)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	acc := accrued(reserve, now)

	if amount.Cmp(acc.AvailableLiquidity) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	debtor, err := e.userReserve(asset, onBehalfOf)
	if err != nil {
		return nil, err
	}

	switch mode {
	case RateModeStable:
		if err := mintStableDebt(acc, debtor, amount, now); err != nil {
			return nil, err
		}
	case RateModeVariable:
		scaled, err := rayDiv(amount, acc.VariableBorrowIndex)
		if err != nil {
			return nil, err
		}
		if scaled.Sign() == 0 {
			scaled = big.NewInt(1)
		}
		debtor.ScaledVariableDebt = new(big.Int).Add(debtor.ScaledVariableDebt, scaled)
		acc.ScaledVariableDebt = new(big.Int).Add(acc.ScaledVariableDebt, scaled)
	}

	totals, err := e.aggregateAccount(onBehalfOf, now,
		map[string]*UserReserve{asset: debtor},
		map[string]*Reserve{asset: acc})
	if err != nil {
		return nil, err
	}
	if !totals.borrowCovered() {
		return nil, ErrHealthFactorTooLow
	}

	acc.AvailableLiquidity = new(big.Int).Sub(acc.AvailableLiquidity, amount)
	if err := refreshRates(acc, cfg); err != nil {
		return nil, err
	}

	borrowerBalance, err := e.balance(asset, borrower)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutBalance(asset, borrower, new(big.Int).Add(borrowerBalance, amount)); err != nil {
		return nil, err
	}
	if err := e.state.PutUserReserve(asset, debtor); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, acc); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// Repay settles debt in the selected mode on behalf of the debtor, funded by
// the payer's underlying balance. The payback is capped at the current debt;
// MaxAmount repays the full debt, further capped by the payer's balance.
// Returns the actually applied payback.
func (e *Engine) Repay(asset string, payer, onBehalfOf common.Address, amount *big.Int, mode RateMode) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := validAmount(amount, true); err != nil {
		return nil, err
	}
	if isZeroAddress(payer) || isZeroAddress(onBehalfOf) {
		return nil, ErrInvalidAddress
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return nil, ErrInvalidRateMode
	}

	unlock := e.lockReserve(asset)
	defer unlock()

	reserve, cfg, err := e.loadReserveForUpdate(asset)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	acc := accrued(reserve, now)

	debtor, err := e.userReserve(asset, onBehalfOf)
	if err != nil {
		return nil, err
	}

	var currentDebt *big.Int
	if mode == RateModeStable {
		currentDebt = userStableDebt(debtor, now)
	} else {
		currentDebt = rayMul(debtor.ScaledVariableDebt, acc.VariableBorrowIndex)
	}
	if currentDebt.Sign() == 0 {
		return nil, ErrInsufficientBalance
	}

	payerBalance, err := e.balance(asset, payer)
	if err != nil {
		return nil, err
	}
	repayAll := amount.Cmp(MaxAmount) == 0
	payback := new(big.Int).Set(amount)
	if repayAll || payback.Cmp(currentDebt) > 0 {
		payback.Set(currentDebt)
	}
	if repayAll && payerBalance.Cmp(payback) < 0 {
		payback.Set(payerBalance)
	}
	if payback.Sign() == 0 || payerBalance.Cmp(payback) < 0 {
		return nil, ErrInsufficientBalance
	}

	if mode == RateModeStable {
		burnStableDebt(acc, debtor, currentDebt, payback, now)
	} else {
		burnVariableDebt(acc, debtor, currentDebt, payback)
	}

	acc.AvailableLiquidity = new(big.Int).Add(acc.AvailableLiquidity, payback)
	if err := refreshRates(acc, cfg); err != nil {
		return nil, err
	}

	if err := e.state.PutBalance(asset, payer, new(big.Int).Sub(payerBalance, payback)); err != nil {
		return nil, err
	}
	if err := e.state.PutUserReserve(asset, debtor); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, acc); err != nil {
		return nil, err
	}
	return payback, nil
}

// SetUseAsCollateral toggles whether a deposit backs the account's
// borrowing. Enabling requires a non-zero balance; disabling is rejected if
// it would push the health factor below the liquidation threshold.
func (e *Engine) SetUseAsCollateral(asset string, addr common.Address, enabled bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if isZeroAddress(addr) {
		return ErrInvalidAddress
	}

	unlock := e.lockReserve(asset)
	defer unlock()

	reserve, _, err := e.loadReserveForUpdate(asset)
	if err != nil {
		return err
	}
	now := e.clock.Now()

	user, err := e.userReserve(asset, addr)
	if err != nil {
		return err
	}
	balance := rayMul(user.ScaledDeposit, reserve.NormalizedIncome(now))
	if enabled && balance.Sign() == 0 {
		return ErrInsufficientBalance
	}

	if !enabled && user.UseAsCollateral {
		projected := user.Clone()
		projected.UseAsCollateral = false
		totals, err := e.aggregateAccount(addr, now,
			map[string]*UserReserve{asset: projected}, nil)
		if err != nil {
			return err
		}
		if totals.debtUSD.Sign() > 0 {
			hf, err := totals.healthFactor()
			if err != nil {
				return err
			}
			if hf.Cmp(healthFactorThreshold) < 0 {
				return ErrHealthFactorTooLow
			}
		}
	}

	user.UseAsCollateral = enabled
	return e.state.PutUserReserve(asset, user)
}

// Liquidate lets a third party repay an unhealthy borrower's debt in
// exchange for a bonus-priced share of their deposited collateral. The
// payback is capped by the reserve's close factor; the seized deposit is
// transferred to the liquidator as a scaled balance. Returns the repaid debt
// and the seized collateral amount.
func (e *Engine) Liquidate(debtAsset, collateralAsset string, liquidator, borrower common.Address, debtToCover *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if err := validAmount(debtToCover, true); err != nil {
		return nil, nil, err
	}
	if isZeroAddress(liquidator) || isZeroAddress(borrower) || liquidator == borrower {
		return nil, nil, ErrInvalidAddress
	}

	unlock := e.lockReserves(debtAsset, collateralAsset)
	defer unlock()

	debtReserve, debtCfg, err := e.loadReserveForUpdate(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	collCfg := debtCfg
	now := e.clock.Now()
	accDebt := accrued(debtReserve, now)
	accColl := accDebt
	if collateralAsset != debtAsset {
		collReserve, cfg, err := e.loadReserveForUpdate(collateralAsset)
		if err != nil {
			return nil, nil, err
		}
		collCfg = cfg
		accColl = accrued(collReserve, now)
	}

	debtorDebt, err := e.userReserve(debtAsset, borrower)
	if err != nil {
		return nil, nil, err
	}
	debtorColl := debtorDebt
	if collateralAsset != debtAsset {
		debtorColl, err = e.userReserve(collateralAsset, borrower)
		if err != nil {
			return nil, nil, err
		}
	}

	userOverrides := map[string]*UserReserve{debtAsset: debtorDebt, collateralAsset: debtorColl}
	reserveOverrides := map[string]*Reserve{debtAsset: accDebt, collateralAsset: accColl}
	totals, err := e.aggregateAccount(borrower, now, userOverrides, reserveOverrides)
	if err != nil {
		return nil, nil, err
	}
	hf, err := totals.healthFactor()
	if err != nil {
		return nil, nil, err
	}
	if hf.Cmp(healthFactorThreshold) >= 0 {
		return nil, nil, ErrNotLiquidatable
	}

	variableDebt := rayMul(debtorDebt.ScaledVariableDebt, accDebt.VariableBorrowIndex)
	stableDebt := userStableDebt(debtorDebt, now)
	totalDebt := new(big.Int).Add(variableDebt, stableDebt)
	if totalDebt.Sign() == 0 {
		return nil, nil, ErrInsufficientBalance
	}

	maxClose := percentMul(totalDebt, debtCfg.CloseFactorBps)
	payback := new(big.Int).Set(debtToCover)
	if debtToCover.Cmp(MaxAmount) == 0 || payback.Cmp(maxClose) > 0 {
		payback.Set(maxClose)
	}
	if payback.Sign() == 0 {
		return nil, nil, ErrInvalidAmount
	}

	liquidatorBalance, err := e.balance(debtAsset, liquidator)
	if err != nil {
		return nil, nil, err
	}
	if liquidatorBalance.Cmp(payback) < 0 {
		return nil, nil, ErrInsufficientBalance
	}

	// Burn variable debt first, then stable for the remainder.
	remaining := new(big.Int).Set(payback)
	if variableDebt.Sign() > 0 {
		fromVariable := new(big.Int).Set(remaining)
		if fromVariable.Cmp(variableDebt) > 0 {
			fromVariable.Set(variableDebt)
		}
		burnVariableDebt(accDebt, debtorDebt, variableDebt, fromVariable)
		remaining.Sub(remaining, fromVariable)
	}
	if remaining.Sign() > 0 {
		burnStableDebt(accDebt, debtorDebt, stableDebt, remaining, now)
	}

	debtPrice, ok := e.oracle.AssetPrice(debtAsset)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, debtAsset)
	}
	collPrice, ok := e.oracle.AssetPrice(collateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, collateralAsset)
	}

	seizeUSD := percentMul(wadMul(payback, debtPrice), 10_000+collCfg.LiquidationBonusBps)
	seizeAmount, err := wadDiv(seizeUSD, collPrice)
	if err != nil {
		return nil, nil, err
	}
	collBalance := rayMul(debtorColl.ScaledDeposit, accColl.LiquidityIndex)
	seizeAll := seizeAmount.Cmp(collBalance) >= 0
	if seizeAll {
		seizeAmount = collBalance
	}

	var scaledSeize *big.Int
	if seizeAll {
		scaledSeize = new(big.Int).Set(debtorColl.ScaledDeposit)
	} else {
		scaledSeize, err = rayDiv(seizeAmount, accColl.LiquidityIndex)
		if err != nil {
			return nil, nil, err
		}
		if scaledSeize.Cmp(debtorColl.ScaledDeposit) > 0 {
			scaledSeize = new(big.Int).Set(debtorColl.ScaledDeposit)
		}
	}
	debtorColl.ScaledDeposit = new(big.Int).Sub(debtorColl.ScaledDeposit, scaledSeize)
	if debtorColl.ScaledDeposit.Sign() == 0 {
		debtorColl.UseAsCollateral = false
	}

	liquidatorColl, err := e.userReserve(collateralAsset, liquidator)
	if err != nil {
		return nil, nil, err
	}
	firstDeposit := liquidatorColl.ScaledDeposit.Sign() == 0
	liquidatorColl.ScaledDeposit = new(big.Int).Add(liquidatorColl.ScaledDeposit, scaledSeize)
	if firstDeposit {
		liquidatorColl.UseAsCollateral = true
	}

	accDebt.AvailableLiquidity = new(big.Int).Add(accDebt.AvailableLiquidity, payback)
	if err := refreshRates(accDebt, debtCfg); err != nil {
		return nil, nil, err
	}
	if collateralAsset != debtAsset {
		if err := refreshRates(accColl, collCfg); err != nil {
			return nil, nil, err
		}
	}

	if err := e.state.PutBalance(debtAsset, liquidator, new(big.Int).Sub(liquidatorBalance, payback)); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutUserReserve(debtAsset, debtorDebt); err != nil {
		return nil, nil, err
	}
	if collateralAsset != debtAsset {
		if err := e.state.PutUserReserve(collateralAsset, debtorColl); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.PutUserReserve(collateralAsset, liquidatorColl); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutReserve(debtAsset, accDebt); err != nil {
		return nil, nil, err
	}
	if collateralAsset != debtAsset {
		if err := e.state.PutReserve(collateralAsset, accColl); err != nil {
			return nil, nil, err
		}
	}
	return payback, seizeAmount, nil
}

// ReserveNormalizedIncome projects the liquidity index to now. Pure read.
func (e *Engine) ReserveNormalizedIncome(asset string) (*big.Int, error) {
	reserve, err := e.reserveSnapshot(asset)
	if err != nil {
		return nil, err
	}
	return reserve.NormalizedIncome(e.clock.Now()), nil
}

// ReserveNormalizedVariableDebt projects the variable borrow index to now.
// Pure read.
func (e *Engine) ReserveNormalizedVariableDebt(asset string) (*big.Int, error) {
	reserve, err := e.reserveSnapshot(asset)
	if err != nil {
		return nil, err
	}
	return reserve.NormalizedVariableDebt(e.clock.Now()), nil
}

// ReserveSnapshot returns a deep copy of the stored reserve record.
func (e *Engine) ReserveSnapshot(asset string) (*Reserve, error) {
	return e.reserveSnapshot(asset)
}

// UserSnapshot returns a deep copy of the stored position record, zero-valued
// when the account never touched the reserve.
func (e *Engine) UserSnapshot(asset string, addr common.Address) (*UserReserve, error) {
	_, user, _, err := e.snapshot(asset, addr)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Balance returns the address's underlying balance for the asset.
func (e *Engine) Balance(asset string, addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if isZeroAddress(addr) {
		return nil, ErrInvalidAddress
	}
	return e.balance(asset, addr)
}

// Credit adds amount to the address's underlying balance. It funds test and
// daemon bootstrap flows; transfers between accounts are an external concern.
func (e *Engine) Credit(asset string, addr common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := validAmount(amount, false); err != nil {
		return err
	}
	if isZeroAddress(addr) {
		return ErrInvalidAddress
	}
	unlock := e.lockReserve(asset)
	defer unlock()
	balance, err := e.balance(asset, addr)
	if err != nil {
		return err
	}
	return e.state.PutBalance(asset, addr, new(big.Int).Add(balance, amount))
}

func (e *Engine) config(asset string) (*ReserveConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.configs[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	return cfg, nil
}

func (e *Engine) loadReserveForUpdate(asset string) (*Reserve, *ReserveConfig, error) {
	cfg, err := e.config(asset)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Active {
		return nil, nil, fmt.Errorf("%w: %s", ErrReserveInactive, asset)
	}
	reserve, err := e.state.Reserve(asset)
	if err != nil {
		return nil, nil, err
	}
	if reserve == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	reserve.ensureDefaults()
	return reserve, cfg, nil
}

// userReserve fetches a deep copy of the position, initialising a zero-valued
// record on first touch. Nothing is persisted until commit.
func (e *Engine) userReserve(asset string, addr common.Address) (*UserReserve, error) {
	user, err := e.state.UserReserve(asset, addr)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return NewUserReserve(addr), nil
	}
	clone := user.Clone()
	clone.ensureDefaults()
	return clone, nil
}

func (e *Engine) balance(asset string, addr common.Address) (*big.Int, error) {
	balance, err := e.state.Balance(asset, addr)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (e *Engine) reserveSnapshot(asset string) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	unlock := e.lockReserve(asset)
	defer unlock()
	if _, err := e.config(asset); err != nil {
		return nil, err
	}
	reserve, err := e.state.Reserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	snapshot := reserve.Clone()
	snapshot.ensureDefaults()
	return snapshot, nil
}

func (e *Engine) snapshot(asset string, addr common.Address) (*Reserve, *UserReserve, uint64, error) {
	if e == nil || e.state == nil {
		return nil, nil, 0, ErrNilState
	}
	if isZeroAddress(addr) {
		return nil, nil, 0, ErrInvalidAddress
	}
	unlock := e.lockReserve(asset)
	defer unlock()
	if _, err := e.config(asset); err != nil {
		return nil, nil, 0, err
	}
	reserve, err := e.state.Reserve(asset)
	if err != nil {
		return nil, nil, 0, err
	}
	if reserve == nil {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	snapshot := reserve.Clone()
	snapshot.ensureDefaults()
	user, err := e.userReserve(asset, addr)
	if err != nil {
		return nil, nil, 0, err
	}
	return snapshot, user, e.clock.Now(), nil
}

func (e *Engine) lockReserve(asset string) func() {
	e.mu.Lock()
	lock, ok := e.locks[asset]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[asset] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// lockReserves acquires both reserve locks in lexical order so concurrent
// cross-asset liquidations cannot deadlock.
func (e *Engine) lockReserves(a, b string) func() {
	if a == b {
		return e.lockReserve(a)
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	unlockFirst := e.lockReserve(first)
	unlockSecond := e.lockReserve(second)
	return func() {
		unlockSecond()
		unlockFirst()
	}
}

// mintStableDebt adds a stable borrow to both the position and the reserve
// book, re-blending the personal and average rates as amount-weighted means.
func mintStableDebt(acc *Reserve, debtor *UserReserve, amount *big.Int, now uint64) error {
	currentUserDebt := userStableDebt(debtor, now)
	weightedOld := rayMul(wadToRay(currentUserDebt), debtor.StableBorrowRate)
	weightedNew := rayMul(wadToRay(amount), acc.CurrentStableBorrowRate)
	newPrincipal := new(big.Int).Add(currentUserDebt, amount)
	newRate, err := rayDiv(new(big.Int).Add(weightedOld, weightedNew), wadToRay(newPrincipal))
	if err != nil {
		return err
	}
	debtor.PrincipalStableDebt = newPrincipal
	debtor.StableBorrowRate = newRate
	debtor.StableRateLastUpdated = now

	total := zeroIfNil(acc.PrincipalStableDebt)
	reserveOld := rayMul(wadToRay(total), acc.AverageStableRate)
	reserveNew := rayMul(wadToRay(amount), acc.CurrentStableBorrowRate)
	nextTotal := new(big.Int).Add(total, amount)
	avg, err := rayDiv(new(big.Int).Add(reserveOld, reserveNew), wadToRay(nextTotal))
	if err != nil {
		return err
	}
	acc.PrincipalStableDebt = nextTotal
	acc.AverageStableRate = avg
	return nil
}

// burnStableDebt removes payback from the position and un-blends the
// reserve's average rate. Rounding dust that would drive the totals negative
// is written off to zero.
func burnStableDebt(acc *Reserve, debtor *UserReserve, currentUserDebt, payback *big.Int, now uint64) {
	total := zeroIfNil(acc.PrincipalStableDebt)
	nextTotal := new(big.Int).Sub(total, payback)
	if nextTotal.Sign() <= 0 {
		acc.PrincipalStableDebt = big.NewInt(0)
		acc.AverageStableRate = big.NewInt(0)
	} else {
		firstTerm := rayMul(wadToRay(total), acc.AverageStableRate)
		secondTerm := rayMul(wadToRay(payback), debtor.StableBorrowRate)
		if firstTerm.Cmp(secondTerm) <= 0 {
			acc.AverageStableRate = big.NewInt(0)
		} else {
			avg, err := rayDiv(new(big.Int).Sub(firstTerm, secondTerm), wadToRay(nextTotal))
			if err == nil {
				acc.AverageStableRate = avg
			}
		}
		acc.PrincipalStableDebt = nextTotal
	}

	newPrincipal := new(big.Int).Sub(currentUserDebt, payback)
	if newPrincipal.Sign() <= 0 {
		debtor.PrincipalStableDebt = big.NewInt(0)
		debtor.StableBorrowRate = big.NewInt(0)
		debtor.StableRateLastUpdated = 0
		return
	}
	debtor.PrincipalStableDebt = newPrincipal
	debtor.StableRateLastUpdated = now
}

// burnVariableDebt removes payback from the position and the reserve's
// scaled book. A full payback burns the exact scaled balance so no dust
// survives the round trip.
func burnVariableDebt(acc *Reserve, debtor *UserReserve, currentUserDebt, payback *big.Int) {
	var scaledRepay *big.Int
	if payback.Cmp(currentUserDebt) >= 0 {
		scaledRepay = new(big.Int).Set(debtor.ScaledVariableDebt)
	} else {
		scaled, err := rayDiv(payback, acc.VariableBorrowIndex)
		if err != nil {
			return
		}
		scaledRepay = scaled
		if scaledRepay.Cmp(debtor.ScaledVariableDebt) > 0 {
			scaledRepay = new(big.Int).Set(debtor.ScaledVariableDebt)
		}
	}
	debtor.ScaledVariableDebt = new(big.Int).Sub(debtor.ScaledVariableDebt, scaledRepay)
	acc.ScaledVariableDebt = new(big.Int).Sub(acc.ScaledVariableDebt, scaledRepay)
	if acc.ScaledVariableDebt.Sign() < 0 {
		acc.ScaledVariableDebt = big.NewInt(0)
	}
}

func validAmount(amount *big.Int, allowSentinel bool) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !allowSentinel && amount.Cmp(MaxAmount) == 0 {
		return ErrInvalidAmount
	}
	return nil
}

func isZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
