package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"spendwise/internal/domain/openfinance"
	"spendwise/internal/shared/logger"
)

// LinkOperations is the inbound surface of the link service.
type LinkOperations interface {
	StartLink(ctx context.Context, userID int64) (string, error)
	CompleteLink(ctx context.Context, publicToken string, userID int64) error
	TriggerSync(ctx context.Context, userID int64) (openfinance.Job, error)
	IsLinked(ctx context.Context, userID int64) (bool, error)
}

type PlaidHandler struct {
	links LinkOperations
}

func NewPlaidHandler(links LinkOperations) *PlaidHandler {
	return &PlaidHandler{links: links}
}

type LinkTokenResponse struct {
	LinkToken string `json:"link_token"`
}

type TokenExchangeRequest struct {
	PublicToken string          `json:"public_token"`
	UserID      json.RawMessage `json:"userId"`
}

type SyncAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type LinkedResponse struct {
	Linked bool `json:"linked"`
}

// HandleLinkToken handles GET /api/plaid/link_token?userId=
func (h *PlaidHandler) HandleLinkToken(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields. Must contain [userId]")
		return
	}

	token, err := h.links.StartLink(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "create link token", userID, err)
		return
	}
	writeJSON(w, http.StatusOK, LinkTokenResponse{LinkToken: token})
}

// HandleTokenExchange handles POST /api/plaid/token_exchange
func (h *PlaidHandler) HandleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req TokenExchangeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userID, err := parseUserID(strings.Trim(string(req.UserID), `"`))
	if err != nil || strings.TrimSpace(req.PublicToken) == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields. Must contain [public_token, userId]")
		return
	}

	if err := h.links.CompleteLink(r.Context(), req.PublicToken, userID); err != nil {
		h.fail(w, r, "exchange public token", userID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// HandleTriggerSync handles POST /api/plaid/transactions/sync?userId=
// The sync runs in the background; the response carries the job id.
func (h *PlaidHandler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields. Must contain [userId]")
		return
	}

	job, err := h.links.TriggerSync(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "trigger sync", userID, err)
		return
	}
	logger.Ctx(r.Context()).Info("sync job enqueued", "user_id", userID, "job_id", job.ID())
	writeJSON(w, http.StatusAccepted, SyncAcceptedResponse{JobID: job.ID(), Status: "queued"})
}

// HandleHasLinked handles GET /api/plaid/has_linked_plaid?userId=
func (h *PlaidHandler) HandleHasLinked(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields. Must contain [userId]")
		return
	}

	linked, err := h.links.IsLinked(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "check link", userID, err)
		return
	}
	writeJSON(w, http.StatusOK, LinkedResponse{Linked: linked})
}

// fail maps caller errors to 400 with their message and everything else to a
// generic 500.
func (h *PlaidHandler) fail(w http.ResponseWriter, r *http.Request, op string, userID int64, err error) {
	log := logger.Ctx(r.Context())
	if openfinance.IsClientError(err) {
		log.Warn("request rejected", "op", op, "user_id", userID, "error", err)
		writeError(w, http.StatusBadRequest, clientMessage(err))
		return
	}
	log.Error("request failed", "op", op, "user_id", userID, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, openfinance.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, openfinance.ErrNotLinked):
		return "User has not linked a bank account"
	case errors.Is(err, openfinance.ErrInvalidCredential):
		return "Bank credential is invalid, relink required"
	default:
		return "Invalid request"
	}
}

func parseUserID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("missing user id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
