package auction

import "errors"

var (
	// ErrUnauthorized indicates that the caller is not the designated seller.
	ErrUnauthorized = errors.New("caller is not the auction seller")
	// ErrAlreadyStarted indicates that the one-shot start was attempted twice.
	ErrAlreadyStarted = errors.New("auction has already been started")
	// ErrAuctionInactive indicates an operation outside the active window.
	ErrAuctionInactive = errors.New("auction is not active")
	// ErrInsufficientPayment indicates a payment below the current price.
	ErrInsufficientPayment = errors.New("payment is below the current price")
	// ErrInvalidParameters indicates a non-positive amount, price or duration.
	ErrInvalidParameters = errors.New("auction parameters must be positive")
	// ErrEscrowTransfer indicates that the ledger rejected the escrow transfer at start.
	ErrEscrowTransfer = errors.New("escrow transfer failed")
	// ErrSettlementTransfer indicates that a settlement leg failed and the purchase rolled back.
	ErrSettlementTransfer = errors.New("settlement transfer failed")
)
