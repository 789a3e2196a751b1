package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"sort"
	"time"

	"github.com/w3bx/dutchswap/internal/auction"
	apperrors "github.com/w3bx/dutchswap/internal/errors"
	"github.com/w3bx/dutchswap/internal/health"
	"github.com/w3bx/dutchswap/internal/market"
	"github.com/w3bx/dutchswap/internal/middleware"
)

type openAuctionRequest struct {
	Asset           string `json:"asset" validate:"required"`
	Amount          string `json:"amount" validate:"required"`
	StartPrice      string `json:"start_price" validate:"required"`
	DurationSeconds int64  `json:"duration_seconds" validate:"required,gt=0"`
}

type buyRequest struct {
	Payment string `json:"payment" validate:"required"`
}

type auctionResponse struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	Seller          string    `json:"seller"`
	Asset           string    `json:"asset"`
	Amount          string    `json:"amount"`
	StartPrice      string    `json:"start_price"`
	DurationSeconds int64     `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
	Buyer           string    `json:"buyer,omitempty"`
	SettledPrice    string    `json:"settled_price,omitempty"`
}

type priceResponse struct {
	ID    string `json:"id"`
	Price string `json:"price"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	seller, ok := s.account(w, r)
	if !ok {
		return
	}

	var req openAuctionRequest
	if !s.decode(w, r, &req) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be a non-negative integer string"})
		return
	}
	startPrice, err := parseAmount(req.StartPrice)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "start_price must be a non-negative integer string"})
		return
	}

	id, err := s.market.Open(
		r.Context(),
		auction.Account(seller),
		auction.Asset(req.Asset),
		amount,
		startPrice,
		time.Duration(req.DurationSeconds)*time.Second,
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.market.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, toAuctionResponse(id, snap))
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	price, err := s.market.Quote(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, priceResponse{ID: id, Price: price.String()})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	buyer, ok := s.account(w, r)
	if !ok {
		return
	}

	var req buyRequest
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := parseAmount(req.Payment)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment must be a non-negative integer string"})
		return
	}

	id := r.PathValue("id")
	if err := s.market.Buy(r.Context(), id, auction.Account(buyer), payment); err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.market.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toAuctionResponse(id, snap))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := s.market.Snapshots(r.Context())

	list := make([]auctionResponse, 0, len(snaps))
	for id, snap := range snaps {
		list = append(list, toAuctionResponse(id, snap))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.market.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toAuctionResponse(id, snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Check(r.Context())

	status := http.StatusOK
	overall := "ok"
	if !health.Healthy(results) {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": results,
	})
}

// account extracts the calling account or rejects the request.
func (s *Server) account(w http.ResponseWriter, r *http.Request) (string, bool) {
	acct := r.Header.Get(middleware.AccountHeader)
	if acct == "" {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "the X-Account header is required"})
		return "", false
	}
	return acct, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		appErr := apperrors.NewValidationError(err.Error())
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: appErr.UserMessage, Code: appErr.Code})
		return false
	}

	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, market.ErrUnknownAuction) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no auction exists with this id", Code: "E408"})
		return
	}

	appErr := apperrors.NewAuctionError(err)
	msg, _ := s.errs.Handle(r.Context(), appErr)
	s.writeJSON(w, statusFor(err), errorResponse{Error: msg, Code: appErr.Code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auction.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, auction.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, auction.ErrAuctionInactive):
		return http.StatusConflict
	case errors.Is(err, auction.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, auction.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrEscrowTransfer), errors.Is(err, auction.ErrSettlementTransfer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseAmount parses a base-10 unsigned integer string of arbitrary size.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("not a non-negative integer")
	}
	return v, nil
}

func toAuctionResponse(id string, snap auction.Snapshot) auctionResponse {
	resp := auctionResponse{
		ID:              id,
		Status:          string(snap.Status),
		Seller:          string(snap.Seller),
		Asset:           string(snap.Asset),
		Amount:          snap.Amount.String(),
		StartPrice:      snap.StartPrice.String(),
		DurationSeconds: int64(snap.Duration / time.Second),
		StartedAt:       snap.StartTime,
		Buyer:           string(snap.Buyer),
	}

	if snap.SettledPrice != nil {
		resp.SettledPrice = snap.SettledPrice.String()
	}

	return resp
}
