package math

import (
	"errors"
	"math/big"
	"math/bits"
	"sync"
)

// PriceScale is the fixed-point denominator for NAV prices: 1e18 == 1.0.
// Asset and share amounts are raw uint64 base units; only prices carry
// the D18 scale.
const PriceScale uint64 = 1_000_000_000_000_000_000

var (
	ErrOverflow  = errors.New("arithmetic overflow")
	ErrUnderflow = errors.New("arithmetic underflow")
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// AddU64 returns a+b or ErrOverflow if the sum does not fit in uint64.
func AddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubU64 returns a-b or ErrUnderflow if b > a.
func SubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// AddS64 returns a+b with signed overflow detection.
func AddS64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// bigPool holds reusable big.Ints for mulDiv intermediates.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// MulDivU64 computes a * b / denom through a 128-bit intermediate.
// Returns ErrOverflow if the result does not fit in uint64. A zero
// denominator deterministically yields zero; callers convert through
// prices that may legitimately be zero.
func MulDivU64(a, b, denom uint64, rounding RoundingMode) (uint64, error) {
	if a == 0 || b == 0 || denom == 0 {
		return 0, nil
	}

	num := getBig()
	num.SetUint64(a)
	mul := getBig()
	mul.SetUint64(b)
	num.Mul(num, mul)

	den := getBig()
	den.SetUint64(denom)
	rem := getBig()
	num.QuoRem(num, den, rem)

	if rounding == RoundUp && rem.Sign() != 0 {
		num.Add(num, big.NewInt(1))
	}

	defer func() {
		putBig(mul)
		putBig(den)
		putBig(rem)
		putBig(num)
	}()

	if !num.IsUint64() {
		return 0, ErrOverflow
	}
	return num.Uint64(), nil
}

// AssetsToShares converts an asset amount to shares at navPerShare
// (assets per share, D18). Rounds down: fractional shares stay with the
// pool, never the investor. navPerShare == 0 yields zero shares.
func AssetsToShares(assetAmount, navPerShare uint64) (uint64, error) {
	if navPerShare == 0 {
		return 0, nil
	}
	return MulDivU64(assetAmount, PriceScale, navPerShare, RoundDown)
}

// SharesToAssets converts a share amount to payout assets at navPerShare
// (D18). Rounds down: the pool never pays out more than the price implies.
func SharesToAssets(shareAmount, navPerShare uint64) (uint64, error) {
	return MulDivU64(shareAmount, navPerShare, PriceScale, RoundDown)
}

// PriceValue converts an asset amount to its pool-currency value at a
// D18 price-per-unit.
func PriceValue(amount, price uint64, rounding RoundingMode) (uint64, error) {
	return MulDivU64(amount, price, PriceScale, rounding)
}
