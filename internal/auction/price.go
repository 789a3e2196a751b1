package auction

import (
	"math/big"
	"time"
)

// priceAt computes the linearly decayed offer price at the given instant.
// Elapsed time is measured in whole seconds and the discount uses truncating
// big-integer division, so the result is deterministic for identical inputs:
//
//	price = startPrice - startPrice * elapsed / duration
//
// The price equals startPrice at elapsed == 0 and is floored at exactly zero
// once elapsed reaches the full duration.
func priceAt(startPrice *big.Int, duration time.Duration, startTime, now time.Time) *big.Int {
	elapsed := int64(now.Sub(startTime) / time.Second)
	total := int64(duration / time.Second)

	if elapsed <= 0 {
		return new(big.Int).Set(startPrice)
	}
	if elapsed >= total {
		return new(big.Int)
	}

	discount := new(big.Int).Mul(startPrice, big.NewInt(elapsed))
	discount.Quo(discount, big.NewInt(total))

	return new(big.Int).Sub(startPrice, discount)
}
