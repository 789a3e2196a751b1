package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenerateKey builds a deterministic key using all provided parts.
func GenerateKey(parts ...interface{}) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v:", part)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// PurchaseKey derives the storage key for a buy attempt. The auction ID and
// buyer account are folded in so a client cannot replay a response across
// auctions or accounts by reusing a header value.
func PurchaseKey(account, auctionID, clientKey string) string {
	return GenerateKey("buy", account, auctionID, clientKey)
}
