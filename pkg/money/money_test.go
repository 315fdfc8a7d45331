package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	got, err := Add(2, 3)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), got)

	_, err = Add(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Add(math.MinInt64, -1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSub(t *testing.T) {
	got, err := Sub(10, 4)
	assert.NoError(t, err)
	assert.Equal(t, int64(6), got)

	_, err = Sub(4, 10)
	assert.Error(t, err)
}

func TestMul(t *testing.T) {
	got, err := Mul(1000, 1000)
	assert.NoError(t, err)
	assert.Equal(t, int64(1_000_000), got)

	_, err = Mul(math.MaxInt64, 2)
	assert.ErrorIs(t, err, ErrOverflow)

	got, err = Mul(0, math.MaxInt64)
	assert.NoError(t, err)
	assert.Zero(t, got)

	_, err = Mul(-1, 5)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestMulDiv(t *testing.T) {
	// 500000 * 9000 / 10000 = 450000 (a 10% fee in basis points)
	got, err := MulDiv(500_000, 9000, 10000)
	assert.NoError(t, err)
	assert.Equal(t, int64(450_000), got)

	_, err = MulDiv(1, 1, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	// Large value where a*b would overflow but b divides c evenly.
	got, err = MulDiv(math.MaxInt64/2, 10000, 10000)
	assert.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64/2), got)
}

func TestMin(t *testing.T) {
	assert.Equal(t, int64(3), Min(3, 9))
	assert.Equal(t, int64(3), Min(9, 3))
}
