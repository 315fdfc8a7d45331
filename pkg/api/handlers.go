package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Meterline-Labs/meterline/pkg/proof"
	"github.com/Meterline-Labs/meterline/pkg/session"
	"github.com/Meterline-Labs/meterline/pkg/settle"
)

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "invalid session id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "malformed request body: "+err.Error())
		return false
	}
	return true
}

type createSessionRequest struct {
	Provider          string `json:"provider"`
	Asset             string `json:"asset"`
	Deposit           int64  `json:"deposit"`
	PricePerUnit      int64  `json:"price_per_unit"`
	MaxDurationSecs   int64  `json:"max_duration_secs"`
	ProofIntervalSecs int64  `json:"proof_interval_secs"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	if s.obs != nil {
		var done func(error)
		ctx, done = s.obs.TrackOperation(ctx, "create_session",
			attribute.String("asset", req.Asset))
		defer func() { done(nil) }()
	}

	created, err := s.ledger.Create(ctx, session.CreateParams{
		Requester:     caller,
		Provider:      req.Provider,
		Asset:         req.Asset,
		Deposit:       req.Deposit,
		PricePerUnit:  req.PricePerUnit,
		MaxDuration:   time.Duration(req.MaxDurationSecs) * time.Second,
		ProofInterval: time.Duration(req.ProofIntervalSecs) * time.Second,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

type submitProofRequest struct {
	UnitsDelta int64  `json:"units_delta"`
	ProofHash  string `json:"proof_hash"`
	Signature  string `json:"signature"`
	ContentRef string `json:"content_ref"`
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req submitProofRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	rec, err := s.ledger.SubmitProof(ctx, session.SubmitParams{
		SessionID:  id,
		UnitsDelta: req.UnitsDelta,
		ProofHash:  req.ProofHash,
		Signature:  req.Signature,
		ContentRef: req.ContentRef,
	})
	if err != nil {
		if s.obs != nil {
			s.obs.RecordProofRejected(ctx, rejectionReason(err))
		}
		WriteDomainError(w, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordProofAccepted(ctx, rec.UnitsDelta)
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	got, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, got)
}

func (s *Server) handleListProofs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	records, err := s.ledger.Proofs(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	receipts, err := s.engine.Receipts(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, receipts)
}

type completeRequest struct {
	FinalContentRef string `json:"final_content_ref"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	receipt, err := s.engine.Complete(ctx, CallerIdentity(ctx), id, req.FinalContentRef)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordSettlement(ctx, string(receipt.Trigger))
	}
	WriteJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	receipt, err := s.engine.Abandon(ctx, id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordSettlement(ctx, string(receipt.Trigger))
	}
	WriteJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	disputed, err := s.engine.RaiseDispute(r.Context(), caller, id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, disputed)
}

type resolveRequest struct {
	Winner string `json:"winner"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	receipt, err := s.engine.ResolveDispute(ctx, caller, id, settle.Winner(req.Winner))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordSettlement(ctx, string(receipt.Trigger))
	}
	WriteJSON(w, http.StatusOK, receipt)
}

type fundsRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req fundsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.bank.Deposit(r.Context(), caller, req.Asset, req.Amount); err != nil {
		WriteDomainError(w, err)
		return
	}
	s.writeBalances(w, r, caller, req.Asset)
}

func (s *Server) handleWithdrawDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req fundsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.bank.WithdrawDeposit(r.Context(), caller, req.Asset, req.Amount); err != nil {
		WriteDomainError(w, err)
		return
	}
	s.writeBalances(w, r, caller, req.Asset)
}

func (s *Server) handleWithdrawEarnings(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req fundsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.bank.WithdrawEarnings(r.Context(), caller, req.Asset, req.Amount); err != nil {
		WriteDomainError(w, err)
		return
	}
	s.writeBalances(w, r, caller, req.Asset)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	s.writeBalances(w, r, caller, r.PathValue("asset"))
}

func (s *Server) writeBalances(w http.ResponseWriter, r *http.Request, party, asset string) {
	balances, err := s.bank.Balances(r.Context(), party, asset)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balances)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	balance, err := s.bank.Treasury(r.Context(), asset)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"asset": asset, "balance": balance})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.guard.Pause(caller); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.guard.Unpause(caller); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handlePaused(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": s.guard.Paused()})
}

// rejectionReason buckets proof failures for the rejected-proof counter.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, session.ErrZeroUnits):
		return "zero_units"
	case errors.Is(err, session.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, proof.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, proof.ErrReplayedProof):
		return "replayed_proof"
	default:
		return "verification_failed"
	}
}
