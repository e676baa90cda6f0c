package calibration

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bucket is a price interval centred on a multiple of the bucket width
type Bucket struct {
	Index int
	Lower float64 // inclusive
	Upper float64 // exclusive
	Price float64 // representative price, Index × width
}

// Label formats the bucket range in cents, e.g. "57.5-62.5¢"
func (b Bucket) Label() string {
	return fmt.Sprintf("%s-%s¢", cents(b.Lower), cents(b.Upper))
}

// bucketIndex rounds price/width half-up in decimal so that a price sitting on
// a bucket edge never drifts into its neighbour through float error.
func bucketIndex(price, width float64) int {
	q := decimal.NewFromFloat(price).Div(decimal.NewFromFloat(width))
	return int(q.Round(0).IntPart())
}

func newBucket(index int, width float64) Bucket {
	w := decimal.NewFromFloat(width)
	centre := w.Mul(decimal.NewFromInt(int64(index)))
	half := w.Div(decimal.NewFromInt(2))
	return Bucket{
		Index: index,
		Lower: clamp01(centre.Sub(half).InexactFloat64()),
		Upper: clamp01(centre.Add(half).InexactFloat64()),
		Price: centre.InexactFloat64(),
	}
}

func cents(p float64) string {
	return decimal.NewFromFloat(p).Mul(decimal.NewFromInt(100)).Round(2).String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
