package api

import (
	"log/slog"
	"net/http"

	"github.com/Meterline-Labs/meterline/pkg/bank"
	"github.com/Meterline-Labs/meterline/pkg/guard"
	"github.com/Meterline-Labs/meterline/pkg/observability"
	"github.com/Meterline-Labs/meterline/pkg/session"
	"github.com/Meterline-Labs/meterline/pkg/settle"
)

// Server wires the core services into an http.Handler.
type Server struct {
	ledger *session.Ledger
	engine *settle.Engine
	bank   *bank.Bank
	guard  *guard.Guard
	obs    *observability.Provider
	logger *slog.Logger
}

// Options configures optional server collaborators.
type Options struct {
	// Validator resolves bearer-token caller identity. nil means all
	// requests are anonymous and identity-gated routes fail closed.
	Validator *JWTValidator
	// RateLimiter limits requests per client IP. nil disables limiting.
	RateLimiter *RateLimiter
	// Observability wraps operations in spans and metrics. nil disables.
	Observability *observability.Provider
}

// New creates a Server.
func New(ledger *session.Ledger, engine *settle.Engine, b *bank.Bank, g *guard.Guard, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ledger: ledger, engine: engine, bank: b, guard: g, logger: logger}
}

// Handler builds the route table. The pause gate wraps exactly the two
// entry routes; every exit and read path bypasses it.
func (s *Server) Handler(opts Options) http.Handler {
	s.obs = opts.Observability

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Entry operations, gated by the access guard.
	mux.Handle("POST /v1/sessions", pauseGate(s.guard, http.HandlerFunc(s.handleCreateSession)))
	mux.Handle("POST /v1/sessions/{id}/proofs", pauseGate(s.guard, http.HandlerFunc(s.handleSubmitProof)))

	// Reads.
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /v1/sessions/{id}/proofs", s.handleListProofs)
	mux.HandleFunc("GET /v1/sessions/{id}/receipts", s.handleListReceipts)

	// Settlement paths, never gated.
	mux.HandleFunc("POST /v1/sessions/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /v1/sessions/{id}/abandon", s.handleAbandon)
	mux.HandleFunc("POST /v1/sessions/{id}/dispute", s.handleRaiseDispute)
	mux.HandleFunc("POST /v1/sessions/{id}/resolve", s.handleResolveDispute)

	// Funds, never gated.
	mux.HandleFunc("POST /v1/deposits", s.handleDeposit)
	mux.HandleFunc("POST /v1/withdrawals/deposit", s.handleWithdrawDeposit)
	mux.HandleFunc("POST /v1/withdrawals/earnings", s.handleWithdrawEarnings)
	mux.HandleFunc("GET /v1/balances/{asset}", s.handleBalances)
	mux.HandleFunc("GET /v1/treasury/{asset}", s.handleTreasury)

	// Operator surface.
	mux.HandleFunc("POST /v1/admin/pause", s.handlePause)
	mux.HandleFunc("POST /v1/admin/unpause", s.handleUnpause)
	mux.HandleFunc("GET /v1/admin/paused", s.handlePaused)

	var handler http.Handler = mux
	handler = identityMiddleware(opts.Validator)(handler)
	if opts.RateLimiter != nil {
		handler = opts.RateLimiter.Middleware(handler)
	}
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
