package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campusmarket/internal/metrics"
	"campusmarket/internal/ratelimit"
	"campusmarket/internal/usertoken"
	"campusmarket/internal/util"
	"campusmarket/pkg/domain"
	"campusmarket/pkg/market"
	"campusmarket/services/marketplace/internal/app"
	"campusmarket/services/marketplace/internal/identity"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	Identity                  *identity.Client
	TokenVerifier             *usertoken.Verifier
	RedisAddr                 string
	RedisPassword             string
	BidRateLimitPerMinute     int
	MessageRateLimitPerMinute int
	TrustedProxies            *util.TrustedProxies
	CORSAllowedOrigins        []string
}

// Server exposes the marketplace HTTP API.
type Server struct {
	app            *app.App
	identity       *identity.Client
	tokenVerifier  *usertoken.Verifier
	mux            *http.ServeMux
	trusted        *util.TrustedProxies
	corsOrigins    []string
	bidLimiter     *ratelimit.FixedWindowLimiter
	messageLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	bidLimit := cfg.BidRateLimitPerMinute
	if bidLimit <= 0 {
		bidLimit = 10
	}
	messageLimit := cfg.MessageRateLimitPerMinute
	if messageLimit <= 0 {
		messageLimit = 30
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "campusmarket:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	bidLimiter, err := newLimiter("bid", bidLimit)
	if err != nil {
		return nil, err
	}
	messageLimiter, err := newLimiter("message", messageLimit)
	if err != nil {
		_ = bidLimiter.Close()
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		identity:       cfg.Identity,
		tokenVerifier:  cfg.TokenVerifier,
		mux:            http.NewServeMux(),
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSAllowedOrigins,
		bidLimiter:     bidLimiter,
		messageLimiter: messageLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

// Close releases the rate limiter connections.
func (s *Server) Close() error {
	return errors.Join(s.bidLimiter.Close(), s.messageLimiter.Close())
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	// catalogs (public)
	s.handle("/api/categories", http.HandlerFunc(s.handleCategories))
	s.handle("/api/conditions", http.HandlerFunc(s.handleConditions))

	// listings: browsing is public, writes need a user
	s.handle("/api/listings", http.HandlerFunc(s.handleListings))
	s.handle("/api/listings/mine", s.authenticated(s.handleMyListings))
	s.handle("/api/listings/{id}", http.HandlerFunc(s.handleListingByID))
	s.handle("/api/listings/{id}/bids", s.authenticated(s.handleListingBids))

	// bids
	s.handle("/api/bids/incoming", s.authenticated(s.handleIncomingBids))
	s.handle("/api/bids/outgoing", s.authenticated(s.handleOutgoingBids))
	s.handle("/api/bids/{id}", s.authenticated(s.handleBidByID))
	s.handle("/api/bids/{id}/accept", s.authenticated(s.handleAcceptBid))
	s.handle("/api/bids/{id}/reject", s.authenticated(s.handleRejectBid))

	// conversations
	s.handle("/api/conversations", s.authenticated(s.handleConversations))
	s.handle("/api/conversations/{id}", s.authenticated(s.handleConversationByID))
	s.handle("/api/conversations/{id}/messages", s.authenticated(s.handleMessages))
	s.handle("/api/conversations/{id}/read", s.authenticated(s.handleMarkRead))
}

// handle registers h and records per-route metrics labelled with pattern.
func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		metrics.ObserveHTTP(r.Method, pattern, rec.status, time.Since(start))
	}))
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, r, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		next(w, r, user)
	})
}

// requireUser resolves the caller or writes the error response. The returned
// request carries a logger tagged with the user id.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (domain.User, *http.Request, bool) {
	if s.identity == nil {
		writeError(w, http.StatusInternalServerError, "identity client not configured")
		return domain.User{}, r, false
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "marketplace.authorize", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return domain.User{}, r, false
	}
	subject := ""
	if s.tokenVerifier != nil {
		sub, err := s.tokenVerifier.VerifySubject(r.Context(), token)
		if err != nil {
			s.audit(r, "marketplace.authorize", "fail", "reason", "invalid_signature_or_claims")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return domain.User{}, r, false
		}
		subject = sub
	}
	user, err := s.identity.Me(r.Context(), token)
	if err != nil {
		if identity.IsUnauthorized(err) {
			s.audit(r, "marketplace.authorize", "fail", "reason", "identity_rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return domain.User{}, r, false
		}
		util.LoggerFromContext(r.Context()).Error("identity lookup failed", "err", err)
		writeError(w, http.StatusBadGateway, "identity service unavailable")
		return domain.User{}, r, false
	}
	if subject != "" && subject != user.ID {
		s.audit(r, "marketplace.authorize", "fail", "reason", "subject_mismatch", "user_id", user.ID)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return domain.User{}, r, false
	}
	ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
	return user, r.WithContext(ctx), true
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, domain.Categories())
}

func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, domain.Conditions())
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q, err := parseSearchQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		listings, err := s.app.Listings(r.Context(), q)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, listings)
	case http.MethodPost:
		user, r, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		var req app.ListingDraft
		if !decodeJSON(w, r, &req) {
			return
		}
		listing, err := s.app.CreateListing(r.Context(), user, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, listing)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMyListings(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	listings, err := s.app.MyListings(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeItems(w, listings)
}

// /api/listings/{id}
func (s *Server) handleListingByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		listing, err := s.app.Listing(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listing)
	case http.MethodPatch:
		user, r, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		var patch market.ListingPatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		listing, err := s.app.UpdateListing(r.Context(), user, id, patch)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listing)
	case http.MethodDelete:
		user, r, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		if err := s.app.DeleteListing(r.Context(), user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "marketplace.listing.delete", "success", "user_id", user.ID, "listing_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /api/listings/{id}/bids
func (s *Server) handleListingBids(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		bids, err := s.app.ListingBids(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, bids)
	case http.MethodPost:
		if !s.allowRate(w, r, s.bidLimiter, "bid", user) {
			return
		}
		var req app.BidDraft
		if !decodeJSON(w, r, &req) {
			return
		}
		bid, err := s.app.PlaceBid(r.Context(), user, id, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, bid)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleIncomingBids(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	bids, err := s.app.IncomingBids(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeItems(w, bids)
}

func (s *Server) handleOutgoingBids(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	bids, err := s.app.OutgoingBids(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeItems(w, bids)
}

// DELETE /api/bids/{id} withdraws the caller's own pending bid.
func (s *Server) handleBidByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	if err := s.app.WithdrawBid(r.Context(), user, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

type acceptResponse struct {
	Accepted domain.Bid   `json:"accepted"`
	Rejected []domain.Bid `json:"rejected"`
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	res, err := s.app.AcceptBid(r.Context(), user, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "marketplace.bid.accept", "success", "user_id", user.ID, "bid_id", id, "rejected", len(res.Rejected))
	rejected := res.Rejected
	if rejected == nil {
		rejected = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, acceptResponse{Accepted: res.Accepted, Rejected: rejected})
}

func (s *Server) handleRejectBid(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	bid, err := s.app.RejectBid(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		convs, err := s.app.Conversations(r.Context(), user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, convs)
	case http.MethodPost:
		var req app.Contact
		if !decodeJSON(w, r, &req) {
			return
		}
		conv, err := s.app.StartConversation(r.Context(), user, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	conv, err := s.app.Conversation(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type messageRequest struct {
	Content string `json:"content"`
}

// /api/conversations/{id}/messages
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.OpenConversation(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, msgs)
	case http.MethodPost:
		if !s.allowRate(w, r, s.messageLimiter, "message", user) {
			return
		}
		var req messageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		msg, err := s.app.SendMessage(r.Context(), user, id, req.Content)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.MarkRead(r.Context(), user, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func parseSearchQuery(r *http.Request) (market.SearchQuery, error) {
	values := r.URL.Query()
	q := market.SearchQuery{
		Query:    values.Get("q"),
		Category: domain.Category(strings.TrimSpace(values.Get("category"))),
	}
	parse := func(name string) (*float64, error) {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid %s", name)
		}
		return &v, nil
	}
	var err error
	if q.MinPrice, err = parse("minPrice"); err != nil {
		return q, err
	}
	if q.MaxPrice, err = parse("maxPrice"); err != nil {
		return q, err
	}
	return q, nil
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, action string, user domain.User) bool {
	decision, err := limiter.Allow(r.Context(), user.ID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "action", action, "err", err)
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if err == nil && decision.Allowed {
		return true
	}
	metrics.IncRateLimited(action)
	s.audit(r, "marketplace.ratelimit", "fail", "user_id", user.ID, "action", action)
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeItems[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForMarket(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

// writeAppError maps app sentinels to HTTP statuses. Anything unrecognized is
// logged and reported as a 500 without leaking the cause.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrListingNotFound):
		writeError(w, http.StatusNotFound, "listing not found")
	case errors.Is(err, app.ErrBidNotFound):
		writeError(w, http.StatusNotFound, "bid not found")
	case errors.Is(err, app.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, app.ErrBidNotPending):
		writeError(w, http.StatusConflict, "bid is not pending")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), app.ErrInvalidInput.Error()+": "))
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeForMarket(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "identity client not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "identity service unavailable":
		return "AUTH_SERVICE_UNAVAILABLE"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "MARKET_FORBIDDEN"
	case message == "listing not found":
		return "LISTING_NOT_FOUND"
	case message == "bid not found":
		return "BID_NOT_FOUND"
	case message == "bid is not pending":
		return "BID_NOT_PENDING"
	case strings.Contains(message, "own listing"):
		return "BID_OWN_LISTING"
	case message == "conversation not found":
		return "CONVERSATION_NOT_FOUND"
	case strings.Contains(message, "conversation with yourself"):
		return "CONVERSATION_SELF"
	case message == "too many requests":
		return "RATE_LIMITED"
	case message == "invalid json body":
		return "MARKET_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	}

	switch status {
	case http.StatusBadRequest:
		return "MARKET_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "MARKET_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
