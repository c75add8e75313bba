package lending

import "errors"

var (
	ErrInvalidAmount         = errors.New("lending: amount must be positive")
	ErrInvalidAddress        = errors.New("lending: zero address not allowed")
	ErrInsufficientBalance   = errors.New("lending: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrHealthFactorTooLow    = errors.New("lending: health factor below liquidation threshold")
	ErrReserveNotFound       = errors.New("lending: reserve not found")
	ErrReserveInactive       = errors.New("lending: reserve inactive")
	ErrReserveExists         = errors.New("lending: reserve already initialised")
	ErrInvalidRateMode       = errors.New("lending: invalid interest rate mode")
	ErrNotLiquidatable       = errors.New("lending: borrower not eligible for liquidation")
	ErrPriceUnavailable      = errors.New("lending: asset price unavailable")
	ErrDivisionByZero        = errors.New("lending: division by zero")
	ErrArithmeticFault       = errors.New("lending: arithmetic underflow")
	ErrNilState              = errors.New("lending: state not configured")
)
