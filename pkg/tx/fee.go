package tx

import (
	"fmt"
	"math"
)

// FeeRate is a fee rate in smallest coin units per 1000 virtual bytes.
// Integer sat/kvB keeps sub-satoshi per-vbyte rates exact.
type FeeRate int64

// FeeRateFromSatPerVByte converts a whole sat/vB rate.
func FeeRateFromSatPerVByte(satPerVByte uint64) FeeRate {
	return FeeRate(satPerVByte * 1000)
}

// SatPerVByte returns the rate in sat/vB for display.
func (r FeeRate) SatPerVByte() float64 {
	return float64(r) / 1000
}

// FeeForVSize returns rate * vsize / 1000, rounded half up to the
// smallest unit.
func (r FeeRate) FeeForVSize(vsize int64) uint64 {
	if r <= 0 || vsize <= 0 {
		return 0
	}
	if vsize > math.MaxInt64/int64(r) {
		return math.MaxUint64
	}
	return uint64((int64(r)*vsize + 500) / 1000)
}

// String formats the rate as sat/vB with up to three decimals.
func (r FeeRate) String() string {
	if r%1000 == 0 {
		return fmt.Sprintf("%d sat/vB", r/1000)
	}
	return fmt.Sprintf("%.3f sat/vB", r.SatPerVByte())
}
