package server

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MELD-labs/evm-defi-public-sub006/native/lending"
)

// maxAmountKeyword is accepted in amount fields to mean "the full balance".
const maxAmountKeyword = "max"

type depositRequest struct {
	From       string `json:"from"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
	Amount     string `json:"amount"`
}

type withdrawRequest struct {
	Owner  string `json:"owner"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

type borrowRequest struct {
	Borrower   string `json:"borrower"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
	Amount     string `json:"amount"`
	RateMode   string `json:"rateMode"`
}

type repayRequest struct {
	Payer      string `json:"payer"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
	Amount     string `json:"amount"`
	RateMode   string `json:"rateMode"`
}

type liquidateRequest struct {
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtToCover     string `json:"debtToCover"`
}

type collateralRequest struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

type creditRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

type amountResponse struct {
	Asset     string `json:"asset"`
	Applied   string `json:"applied"`
	RequestID string `json:"requestId,omitempty"`
}

type liquidateResponse struct {
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Repaid          string `json:"repaid"`
	Seized          string `json:"seized"`
	RequestID       string `json:"requestId,omitempty"`
}

type reserveResponse struct {
	Asset                     string `json:"asset"`
	AvailableLiquidity        string `json:"availableLiquidity"`
	TotalStableDebt           string `json:"totalStableDebt"`
	TotalVariableDebt         string `json:"totalVariableDebt"`
	LiquidityIndex            string `json:"liquidityIndex"`
	VariableBorrowIndex       string `json:"variableBorrowIndex"`
	CurrentLiquidityRate      string `json:"currentLiquidityRate"`
	CurrentVariableBorrowRate string `json:"currentVariableBorrowRate"`
	CurrentStableBorrowRate   string `json:"currentStableBorrowRate"`
	AverageStableRate         string `json:"averageStableRate"`
	NormalizedIncome          string `json:"normalizedIncome"`
	NormalizedVariableDebt    string `json:"normalizedVariableDebt"`
	LastUpdateTimestamp       uint64 `json:"lastUpdateTimestamp"`
}

type positionResponse struct {
	Asset           string `json:"asset"`
	DepositBalance  string `json:"depositBalance"`
	VariableDebt    string `json:"variableDebt"`
	StableDebt      string `json:"stableDebt"`
	StableRate      string `json:"stableRate"`
	UseAsCollateral bool   `json:"useAsCollateral"`
	WalletBalance   string `json:"walletBalance"`
}

type accountResponse struct {
	Address      string             `json:"address"`
	HealthFactor string             `json:"healthFactor"`
	Positions    []positionResponse `json:"positions"`
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s", lending.ErrInvalidAddress, field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseOptionalAddress falls back to the primary address for fields like
// onBehalfOf and to that default to the caller.
func parseOptionalAddress(field, value string, fallback common.Address) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return parseAddress(field, value)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, maxAmountKeyword) {
		return new(big.Int).Set(lending.MaxAmount), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", lending.ErrInvalidAmount, value)
	}
	return amount, nil
}

func parseRateMode(value string) (lending.RateMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "stable":
		return lending.RateModeStable, nil
	case "variable":
		return lending.RateModeVariable, nil
	default:
		return 0, fmt.Errorf("%w: %q", lending.ErrInvalidRateMode, value)
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// healthFactorString renders the sentinel for debt-free accounts as the
// keyword instead of a 78 digit number.
func healthFactorString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	if v.Cmp(lending.MaxAmount) == 0 {
		return maxAmountKeyword
	}
	return v.String()
}
