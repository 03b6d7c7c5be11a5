package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/woofai-token/Woofaiserver/internal/disbursement"
	"github.com/woofai-token/Woofaiserver/internal/domain"
	"github.com/woofai-token/Woofaiserver/internal/pricing"
	"github.com/woofai-token/Woofaiserver/internal/storage"
)

// verifyRequest accepts both the /verify and /buy-tokens field names.
type verifyRequest struct {
	Signature            string           `json:"signature"`
	TransactionReference string           `json:"transactionReference"`
	Buyer                string           `json:"buyer"`
	UserWallet           string           `json:"userWallet"`
	Amount               *decimal.Decimal `json:"amount"`
	SolAmount            *decimal.Decimal `json:"solAmount"`
}

func (v *verifyRequest) claim() domain.PurchaseClaim {
	c := domain.PurchaseClaim{
		TransactionReference: firstNonEmpty(v.Signature, v.TransactionReference),
		BuyerAddress:         firstNonEmpty(v.Buyer, v.UserWallet),
	}
	switch {
	case v.Amount != nil:
		c.NativeAmount = *v.Amount
	case v.SolAmount != nil:
		c.NativeAmount = *v.SolAmount
	}
	return c
}

type verifyResponse struct {
	Success              bool   `json:"success"`
	TokensSent           string `json:"tokensSent,omitempty"`
	TokensSentRaw        string `json:"tokensSentRaw"`
	TokenTx              string `json:"tokenTx"`
	PhaseID              string `json:"phaseId"`
	TransactionReference string `json:"transactionReference"`
	AlreadyProcessed     bool   `json:"alreadyProcessed"`
	ExplorerURL          string `json:"explorerUrl"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    disbursement.CodeMalformedClaim,
			Message: "request body must be a JSON object with signature, buyer and amount",
		})
		return
	}

	res, err := s.engine.Process(r.Context(), req.claim())
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec := res.Record
	out := verifyResponse{
		Success:              true,
		TokensSentRaw:        strconv.FormatUint(rec.TokenAmount, 10),
		TokenTx:              rec.LedgerTxReference,
		PhaseID:              rec.PhaseID,
		TransactionReference: rec.TransactionReference,
		AlreadyProcessed:     res.AlreadyProcessed,
		ExplorerURL:          ExplorerURL(s.cfg.Cluster, rec.LedgerTxReference),
	}
	if mint, err := s.mint.Mint(r.Context()); err == nil {
		out.TokensSent = pricing.UnitsToTokens(rec.TokenAmount, mint.Decimals).String()
	} else {
		s.logger.Warn("mint lookup failed", "event", "mint_lookup_failed", "error", err)
	}
	writeJSON(w, http.StatusOK, out)
}

// writeError maps an engine error to its stable code. Internal details are
// only logged.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	reason := disbursement.ReasonOf(err)
	writeJSON(w, reason.Status, errorResponse{
		Code:    reason.Code,
		Message: reason.Message,
	})
}

type presaleInfo struct {
	Active              bool       `json:"active"`
	PhaseID             string     `json:"phaseId,omitempty"`
	Rate                string     `json:"rate,omitempty"`
	PricePerTokenSOL    string     `json:"pricePerTokenSol,omitempty"`
	PhaseTokensSold     string     `json:"phaseTokensSold,omitempty"`
	AllocationCap       string     `json:"allocationCap,omitempty"`
	AllocationRemaining string     `json:"allocationRemaining,omitempty"`
	TotalTokensSold     string     `json:"totalTokensSold"`
	SOLRaised           string     `json:"solRaised"`
	EndsAt              *time.Time `json:"endsAt,omitempty"`
	SecondsRemaining    int64      `json:"secondsRemaining,omitempty"`
	NextPhaseID         string     `json:"nextPhaseId,omitempty"`
	NextPhaseStart      *time.Time `json:"nextPhaseStart,omitempty"`
}

func (s *Server) handlePresaleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now().UTC()

	mint, err := s.mint.Mint(ctx)
	if err != nil {
		s.internalError(w, fmt.Errorf("load mint: %w", err))
		return
	}
	total, err := s.records.Stats(ctx, "")
	if err != nil {
		s.internalError(w, fmt.Errorf("load totals: %w", err))
		return
	}

	info := presaleInfo{
		TotalTokensSold: pricing.UnitsToTokens(total.TokensSettled, mint.Decimals).String(),
		SOLRaised:       decimal.NewFromUint64(total.LamportsRaised).Shift(-domain.NativeDecimals).String(),
	}

	if phase, ok := s.schedule.Active(now); ok {
		stats, err := s.records.Stats(ctx, phase.ID)
		if err != nil {
			s.internalError(w, fmt.Errorf("load phase stats: %w", err))
			return
		}
		capUnits, err := pricing.CapUnits(phase.AllocationCap, mint.Decimals)
		if err != nil {
			s.internalError(w, fmt.Errorf("phase %s cap: %w", phase.ID, err))
			return
		}
		var remaining uint64
		if stats.TokensAllocated < capUnits {
			remaining = capUnits - stats.TokensAllocated
		}
		end := phase.EndTime
		info.Active = true
		info.PhaseID = phase.ID
		info.Rate = phase.Rate.String()
		info.PricePerTokenSOL = decimal.NewFromInt(1).DivRound(phase.Rate, 12).String()
		info.PhaseTokensSold = pricing.UnitsToTokens(stats.TokensSettled, mint.Decimals).String()
		info.AllocationCap = phase.AllocationCap.String()
		info.AllocationRemaining = pricing.UnitsToTokens(remaining, mint.Decimals).String()
		info.EndsAt = &end
		info.SecondsRemaining = int64(end.Sub(now) / time.Second)
	}
	if next, ok := s.schedule.Next(now); ok {
		start := next.StartTime
		info.NextPhaseID = next.ID
		info.NextPhaseStart = &start
	}

	writeJSON(w, http.StatusOK, info)
}

type disbursementView struct {
	TransactionReference string    `json:"transactionReference"`
	Buyer                string    `json:"buyer"`
	TokensSentRaw        string    `json:"tokensSentRaw"`
	Lamports             uint64    `json:"lamports"`
	PhaseID              string    `json:"phaseId"`
	TokenTx              string    `json:"tokenTx"`
	SettledAt            time.Time `json:"settledAt"`
	ExplorerURL          string    `json:"explorerUrl"`
}

func (s *Server) handleGetDisbursement(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	rec, err := s.records.GetRecord(r.Context(), ref)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "no disbursement for this reference"})
		return
	}
	if err != nil {
		s.internalError(w, fmt.Errorf("get record %s: %w", ref, err))
		return
	}
	writeJSON(w, http.StatusOK, disbursementView{
		TransactionReference: rec.TransactionReference,
		Buyer:                rec.BuyerAddress,
		TokensSentRaw:        strconv.FormatUint(rec.TokenAmount, 10),
		Lamports:             rec.NativeLamports,
		PhaseID:              rec.PhaseID,
		TokenTx:              rec.LedgerTxReference,
		SettledAt:            rec.SettledAt.UTC(),
		ExplorerURL:          ExplorerURL(s.cfg.Cluster, rec.LedgerTxReference),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "event", "http_error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Code:    disbursement.CodeInternal,
		Message: "internal error",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
