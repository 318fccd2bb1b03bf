// Package rpcserver exposes the broker's JSON-RPC 2.0 surface over HTTP, and
// the party-link redirect route that front-ends a token-authenticated deal.
package rpcserver

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/otcswap/broker/internal/audit"
	"github.com/otcswap/broker/internal/coinregistry"
	"github.com/otcswap/broker/internal/config"
	"github.com/otcswap/broker/internal/dealerr"
	"github.com/otcswap/broker/internal/mail"
	"github.com/otcswap/broker/internal/oracle"
	"github.com/otcswap/broker/internal/payout"
	"github.com/otcswap/broker/internal/ratelimit"
	"github.com/otcswap/broker/internal/store"
	"github.com/rs/cors"
)

// PayoutLister reads an entire deal's payout intents for the status
// projection, implemented by store.MemoryPayoutStore (and any durable
// equivalent that follows its pattern).
type PayoutLister interface {
	ByDeal(dealID string) []*payout.Intent
}

// Server wires the broker's domain collaborators behind the JSON-RPC
// contract. It holds no business logic of its own beyond request
// validation and response shaping; every mutation goes through deal.Deal's
// own methods or the store interfaces.
type Server struct {
	deals    store.DealStore
	tokens   store.TokenStore
	payouts  PayoutLister
	quotes   *oracle.Store
	chains   *coinregistry.Registry
	mailer   mail.Dispatcher
	limiter  *ratelimit.RateLimiter
	audit    *audit.AuditLogger
	cfg      *config.Config
	router   *mux.Router
}

// New constructs a Server and its route table.
func New(deals store.DealStore, tokens store.TokenStore, payouts PayoutLister, quotes *oracle.Store, chains *coinregistry.Registry, mailer mail.Dispatcher, limiter *ratelimit.RateLimiter, auditLogger *audit.AuditLogger, cfg *config.Config) *Server {
	s := &Server{
		deals: deals, tokens: tokens, payouts: payouts, quotes: quotes,
		chains: chains, mailer: mailer, limiter: limiter, audit: auditLogger, cfg: cfg,
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	s.router.HandleFunc("/d/{dealId}/{party}/{token}", s.handlePartyLink).Methods(http.MethodGet)
	return s
}

// Handler returns the server's HTTP handler wrapped with permissive CORS,
// since party links and RPC calls are expected to originate from arbitrary
// front-end origins.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// ListenAndServe starts the HTTP server on cfg.ListenAddr.
func (s *Server) ListenAndServe() error {
	log.Printf("rpcserver: listening on %s", s.cfg.ListenAddr)
	return http.ListenAndServe(s.cfg.ListenAddr, s.Handler())
}

type methodHandler func(s *Server, params json.RawMessage) (interface{}, error)

var methods = map[string]methodHandler{
	"otc.createDeal":        (*Server).handleCreateDeal,
	"otc.fillPartyDetails":  (*Server).handleFillPartyDetails,
	"otc.status":            (*Server).handleStatus,
	"otc.cancelDeal":        (*Server).handleCancelDeal,
	"otc.sendInvite":        (*Server).handleSendInvite,
	"admin.setPrice":        (*Server).handleSetPrice,
	"otc.getChainConfig":    (*Server).handleGetChainConfig,
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, parseErrorCode, "invalid JSON-RPC request", nil)
		return
	}

	handler, ok := methods[req.Method]
	if !ok {
		writeError(w, req.ID, methodNotFoundCode, "unknown method: "+req.Method, nil)
		return
	}

	result, err := handler(s, req.Params)
	if err != nil {
		de, _ := dealerr.As(err)
		code := dealerr.Fatal
		if de != nil {
			code = de.Code
		}
		s.logFailure(req.Method, err)
		writeError(w, req.ID, internalErrorCode, err.Error(), string(code))
		return
	}

	writeResult(w, req.ID, result)
}

func (s *Server) logFailure(operation string, err error) {
	if s.audit == nil {
		return
	}
	_ = s.audit.LogOperation(audit.AuditLogEntry{
		Operation:     operation,
		Status:        "FAILURE",
		FailureReason: err.Error(),
		Timestamp:     time.Now(),
	})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message, Data: data}})
}

// handlePartyLink redirects a party-link visit to the front-end, after
// validating the token against the deal and party in the path — a GET
// route exists purely so /d/{dealId}/{a|b}/{token} is a shareable URL; the
// actual mutation still goes through otc.fillPartyDetails.
func (s *Server) handlePartyLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	side, ok := sideFromParam(vars["party"])
	tok, err := s.tokens.Get(vars["token"])
	if err != nil || !ok || tok.DealID != vars["dealId"] || tok.Party != side {
		http.Error(w, "invalid or expired link", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, s.cfg.BaseURL+"/deal/"+vars["dealId"]+"?token="+vars["token"], http.StatusFound)
}
