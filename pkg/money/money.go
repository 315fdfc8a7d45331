// Package money provides overflow-safe integer arithmetic for asset amounts.
// All amounts in the settlement core are int64 minor units of a single asset;
// operations that would overflow are rejected rather than wrapped.
package money

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOverflow is returned when an arithmetic result exceeds int64 range.
	ErrOverflow = errors.New("money: arithmetic overflow")
	// ErrNegativeAmount is returned when a negative amount reaches an
	// operation that only accepts non-negative values.
	ErrNegativeAmount = errors.New("money: amount must not be negative")
	// ErrDivisionByZero is returned by Div and MulDiv with a zero divisor.
	ErrDivisionByZero = errors.New("money: division by zero")
)

// Add returns a+b, failing instead of wrapping on overflow.
func Add(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return a + b, nil
}

// Sub returns a-b. Unlike Add it also rejects results that would go
// negative, since no balance in the core may drop below zero.
func Sub(a, b int64) (int64, error) {
	if b > a {
		return 0, fmt.Errorf("money: cannot subtract %d from %d", b, a)
	}
	return a - b, nil
}

// Mul returns a*b with overflow checking. Both operands must be non-negative.
func Mul(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	return a * b, nil
}

// Div returns a/b truncated toward zero.
func Div(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// MulDiv returns (a*b)/c without intermediate overflow for the value
// ranges the core uses. It is the primitive behind fee computation.
func MulDiv(a, b, c int64) (int64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	if a < 0 || b < 0 || c < 0 {
		return 0, ErrNegativeAmount
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		// Fall back to the order that keeps the intermediate small when
		// b is an exact multiple of c (common for round fee rates).
		if b%c == 0 {
			return Mul(a, b/c)
		}
		if a%c == 0 {
			return Mul(a/c, b)
		}
		return 0, fmt.Errorf("%w: %d * %d / %d", ErrOverflow, a, b, c)
	}
	return a * b / c, nil
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
