// Package money converts between major-unit decimal amounts and the integer
// minor units used by the payment provider, and mints order receipts.
package money

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/common"
)

// MinorUnitExponent is the number of fractional digits of the settlement currency.
const MinorUnitExponent = 2

// ErrInvalidAmount is returned for negative, non-finite or unrepresentable amounts.
var ErrInvalidAmount = common.NewAppError("INVALID_AMOUNT", "invalid amount", http.StatusBadRequest, nil)

var (
	minorScale = decimal.New(1, MinorUnitExponent)
	maxMinor   = decimal.NewFromInt(math.MaxInt64)
)

// ToMinorUnits converts a major-unit amount to minor units, rounding half-up to
// the nearest minor unit.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrInvalidAmount.WithMessage(fmt.Sprintf("amount %s is negative", amount.String()))
	}
	// Round is half away from zero, which equals half-up for non-negative values.
	minor := amount.Round(MinorUnitExponent).Mul(minorScale)
	if minor.GreaterThan(maxMinor) {
		return 0, ErrInvalidAmount.WithMessage(fmt.Sprintf("amount %s is out of range", amount.String()))
	}
	return minor.IntPart(), nil
}

// ToMajorUnits converts minor units back to a major-unit amount.
func ToMajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent)
}

// FromFloat converts a float amount, rejecting NaN and infinities.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrInvalidAmount.WithMessage("amount is not a finite number")
	}
	return decimal.NewFromFloat(f), nil
}

var lastReceiptNanos atomic.Int64

// monotonicNanos returns a unix timestamp in nanoseconds that strictly
// increases across calls within the process, even if the wall clock steps back.
func monotonicNanos() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastReceiptNanos.Load()
		if now <= last {
			now = last + 1
		}
		if lastReceiptNanos.CompareAndSwap(last, now) {
			return now
		}
	}
}

// NewIdempotencyReceipt builds the client-supplied receipt sent with a provider
// order: prefix_<timestamp>_<random>. It aids provider-side deduplication and
// is not a security token.
func NewIdempotencyReceipt(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rcpt"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return prefix + "_" + strconv.FormatInt(monotonicNanos(), 10) + "_" + suffix
}
