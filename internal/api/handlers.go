package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/domain"
)

type accountResponse struct {
	ID          string    `json:"id"`
	Protocol    string    `json:"protocol"`
	State       string    `json:"state"`
	UUID        string    `json:"uuid,omitempty"`
	QuotaBytes  int64     `json:"quota_bytes"`
	QuotaLogins int       `json:"quota_logins"`
	UsageBytes  int64     `json:"usage_bytes"`
	UsageLogins int       `json:"usage_logins"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		ID:          string(a.ID),
		Protocol:    string(a.Protocol),
		State:       string(a.State),
		UUID:        a.Credential.UUID,
		QuotaBytes:  a.QuotaBytes,
		QuotaLogins: a.QuotaLogins,
		UsageBytes:  a.UsageBytes,
		UsageLogins: a.UsageLogins,
		ExpiresAt:   a.ExpiresAt,
		CreatedAt:   a.CreatedAt,
	}
}

type createRequest struct {
	ID          string    `json:"id"`
	Protocol    string    `json:"protocol"`
	Password    string    `json:"password,omitempty"`
	QuotaBytes  int64     `json:"quota_bytes,omitempty"`
	QuotaLogins int       `json:"quota_logins,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := s.svc.Create(r.Context(), application.CreateParams{
		ID:          domain.AccountID(req.ID),
		Protocol:    domain.Protocol(req.Protocol),
		Password:    req.Password,
		QuotaBytes:  req.QuotaBytes,
		QuotaLogins: req.QuotaLogins,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	account, err := s.svc.Get(r.Context(), accountID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := domain.Filter{
		Protocol: domain.Protocol(r.URL.Query().Get("protocol")),
		State:    domain.State(r.URL.Query().Get("state")),
	}
	accounts, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, toAccountResponse(account))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), accountID(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	account, err := s.svc.Lock(r.Context(), accountID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	account, err := s.svc.Unlock(r.Context(), accountID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

type renewRequest struct {
	Until time.Time `json:"until"`
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := s.svc.Renew(r.Context(), accountID(r), req.Until)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	account, err := s.svc.RotateCredential(r.Context(), accountID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

type quotaRequest struct {
	QuotaBytes  int64 `json:"quota_bytes"`
	QuotaLogins int   `json:"quota_logins"`
}

func (s *Server) handleSetQuota(w http.ResponseWriter, r *http.Request) {
	var req quotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := s.svc.SetQuota(r.Context(), accountID(r), req.QuotaBytes, req.QuotaLogins)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

type statusResponse struct {
	Account   accountResponse `json:"account"`
	Sessions  int             `json:"sessions"`
	Reachable bool            `json:"reachable"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.svc.Status(r.Context(), domain.Filter{})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]statusResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, statusResponse{
			Account:   toAccountResponse(st.Account),
			Sessions:  st.Sessions,
			Reachable: st.Reachable,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Check(r.Context()))
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	path, err := s.backups.Create(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

type restoreRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.backups.Restore(r.Context(), req.Path); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func accountID(r *http.Request) domain.AccountID {
	return domain.AccountID(chi.URLParam(r, "id"))
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAdapterUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
