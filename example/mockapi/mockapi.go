// Package mockapi serves a local stand-in for the login and bandwidth
// endpoints so a fleet can be run without the real service.
//
// Login verifies the wallet's signature and hands out a token that is
// accepted for a fixed number of bandwidth calls, after which the bandwidth
// endpoint answers 401 and the wallet has to log in again.
package mockapi

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/walletfleet/internal/signer"
)

const (
	LoginPath     = "/api/v1/user/login"
	BandwidthPath = "/api/v1/bandwidth"
)

// Server tracks issued tokens and their remaining uses.
type Server struct {
	mu        sync.Mutex
	tokens    map[string]int
	tokenUses int
	latency   time.Duration
	logger    *slog.Logger
}

// New creates a [Server]. Tokens are valid for tokenUses bandwidth calls
// (at least one). Each bandwidth call sleeps up to latency to simulate
// network variance.
func New(tokenUses int, latency time.Duration, logger *slog.Logger) *Server {
	if tokenUses < 1 {
		tokenUses = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		tokens:    make(map[string]int),
		tokenUses: tokenUses,
		latency:   latency,
		logger:    logger,
	}
}

// Handler returns the routes for both endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(LoginPath, s.handleLogin)
	mux.HandleFunc(BandwidthPath, s.handleBandwidth)
	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Message       string `json:"message"`
		WalletAddress string `json:"walletAddress"`
		Signature     string `json:"signature"`
		ReferralCode  string `json:"referralCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}
	if !signer.Verify(req.WalletAddress, req.Message, req.Signature) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized: invalid signature"})
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = s.tokenUses
	s.mu.Unlock()

	s.logger.Info("wallet logged in", "wallet", req.WalletAddress, "referral", req.ReferralCode != "")
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"accessToken": token},
	})
}

func (s *Server) handleBandwidth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !s.use(token) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}

	start := time.Now()
	if s.latency > 0 {
		time.Sleep(rand.N(s.latency))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"totalTime": time.Since(start).Milliseconds()},
	})
}

// use spends one call of token and reports whether it was still valid.
func (s *Server) use(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	left, ok := s.tokens[token]
	if !ok {
		return false
	}
	if left <= 1 {
		delete(s.tokens, token)
	} else {
		s.tokens[token] = left - 1
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
