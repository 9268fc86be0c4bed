// ABOUTME: HTTP API for corporations: challenges, linking, listing and admin removal
// ABOUTME: chi router over the identity service and the group registry

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/corp-gateway/internal/auth"
	"github.com/2389/corp-gateway/internal/challenge"
	"github.com/2389/corp-gateway/internal/corp"
	"github.com/2389/corp-gateway/internal/identity"
	"github.com/2389/corp-gateway/internal/metrics"
)

// maxBodyBytes bounds request bodies. Signatures are a few hundred bytes.
const maxBodyBytes = 64 << 10

// Deps are the services the API exposes.
type Deps struct {
	Identity *identity.Service
	Registry *corp.Registry
	Issuer   *challenge.Issuer

	// Admin verifies admin tokens. Nil refuses every admin request.
	Admin auth.TokenVerifier

	Metrics     *metrics.Metrics
	MetricsPath string // empty disables the Prometheus endpoint
	Logger      *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	identity *identity.Service
	registry *corp.Registry
	issuer   *challenge.Issuer
	admin    auth.TokenVerifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	router   chi.Router
}

// New builds the router.
func New(d Deps) *Handler {
	h := &Handler{
		identity: d.Identity,
		registry: d.Registry,
		issuer:   d.Issuer,
		admin:    d.Admin,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default().With("component", "api")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/health", h.handleHealth)
	if d.MetricsPath != "" && d.Metrics != nil {
		r.Method(http.MethodGet, d.MetricsPath, d.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/challenges", h.handleIssueChallenge)

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.handleEnsureGroup)
			r.Post("/link", h.handleLink)
			r.Get("/{groupID}/wallets", h.handleGroupWallets)
			r.Get("/{groupID}/display-name", h.handleGroupDisplayName)
			r.Put("/{groupID}/display-name", h.handleSetGroupDisplayName)
			r.With(auth.RequireAdmin(h.admin)).Get("/{groupID}/audit", h.handleAudit)
		})

		r.Route("/wallets/{wallet}", func(r chi.Router) {
			r.Get("/group", h.handleWalletGroup)
			r.Get("/wallets", h.handleWalletsFor)
			r.Get("/display-name", h.handleWalletDisplayName)
			r.Put("/nickname", h.handleSetNickname)
			r.Post("/unlink", h.handleUnlink)
			r.With(auth.RequireAdmin(h.admin)).Delete("/", h.handleAdminRemove)
		})
	})

	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Origin == "" {
		req.Origin = r.Header.Get("Origin")
	}

	issued, err := h.issuer.Issue(r.Context(), challenge.Request{
		WalletAddress: req.WalletAddress,
		WalletName:    req.WalletName,
		Origin:        req.Origin,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ChallengeResponse{
		Nonce:     issued.Nonce,
		Message:   issued.Message,
		ExpiresAt: issued.ExpiresAt,
	})
}

func (h *Handler) handleEnsureGroup(w http.ResponseWriter, r *http.Request) {
	var req EnsureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "wallet_address is required")
		return
	}

	res, err := h.registry.EnsureGroup(r.Context(), req.WalletAddress, req.Nickname)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, EnsureResponse{GroupID: res.GroupID, Created: res.Created})
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ExistingWallet == "" || req.NewWallet == "" || req.Nonce == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "existing_wallet, new_wallet, signature and nonce are required")
		return
	}

	res, err := h.identity.LinkWallet(r.Context(), identity.LinkRequest{
		ExistingWallet: req.ExistingWallet,
		NewWallet:      req.NewWallet,
		Signature:      req.Signature,
		Key:            req.Key,
		Nonce:          req.Nonce,
		Nickname:       req.Nickname,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LinkResponse{
		GroupID:      res.GroupID,
		GroupCreated: res.GroupCreated,
		MigratedFrom: res.MigratedFrom,
	})
}

func (h *Handler) handleGroupWallets(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	entries, err := h.registry.ListGroupWallets(r.Context(), groupID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletsResponse{GroupID: groupID, Wallets: toWallets(entries)})
}

func (h *Handler) handleGroupDisplayName(w http.ResponseWriter, r *http.Request) {
	name, ok, err := h.registry.GroupDisplayName(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nameResponse(name, ok))
}

func (h *Handler) handleSetGroupDisplayName(w http.ResponseWriter, r *http.Request) {
	var req DisplayNameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.SetGroupDisplayName(r.Context(), chi.URLParam(r, "groupID"), req.Name); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	groupID := chi.URLParam(r, "groupID")
	events, err := h.registry.AuditTrail(r.Context(), groupID, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuditResponse{GroupID: groupID, Events: toAuditEvents(events)})
}

func (h *Handler) handleWalletGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.registry.GroupByWallet(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GroupResponse{
		GroupID:       g.ID,
		PrimaryWallet: g.PrimaryWallet,
		CreatedAt:     g.CreatedAt,
	})
}

func (h *Handler) handleWalletsFor(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.WalletsFor(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletsResponse{Wallets: toWallets(entries)})
}

func (h *Handler) handleWalletDisplayName(w http.ResponseWriter, r *http.Request) {
	name, ok, err := h.registry.DisplayName(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nameResponse(name, ok))
}

func (h *Handler) handleSetNickname(w http.ResponseWriter, r *http.Request) {
	var req NicknameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.registry.SetNickname(r.Context(), chi.URLParam(r, "wallet"), req.Nickname); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnlink(w http.ResponseWriter, r *http.Request) {
	var req UnlinkRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Nonce == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "signature and nonce are required")
		return
	}

	res, err := h.identity.UnlinkWallet(r.Context(), identity.UnlinkRequest{
		Wallet:    chi.URLParam(r, "wallet"),
		Signature: req.Signature,
		Key:       req.Key,
		Nonce:     req.Nonce,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRemoveResponse(res))
}

func (h *Handler) handleAdminRemove(w http.ResponseWriter, r *http.Request) {
	admin := auth.FromContext(r.Context())
	res, err := h.registry.CommitRemoveWallet(r.Context(), corp.RemoveRequest{
		Wallet:      chi.URLParam(r, "wallet"),
		PerformedBy: "admin:" + admin.Subject,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRemoveResponse(res))
}

// decode reads a JSON body into dst, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
