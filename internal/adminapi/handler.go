package adminapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"imagegw/internal/credentials"
	"imagegw/internal/limiter"
	"imagegw/internal/logging"
)

const (
	jsonContentType   = "application/json"
	maxRequestsLimit  = 1000
	defaultQueryLimit = 100
)

// Summary is the non-secret part of the running configuration.
type Summary struct {
	UpstreamURL            string `json:"upstream_url"`
	MaxRetries             int    `json:"max_retries"`
	RetryDelayMs           int    `json:"retry_delay_ms"`
	MaxConcurrentRequests  int    `json:"max_concurrent_requests"`
	RequestTimeoutSeconds  int    `json:"request_timeout_seconds"`
	InvalidKeysFile        string `json:"invalid_keys_file"`
	InvalidConsumesAttempt bool   `json:"invalid_key_consumes_retry"`
	AuthEnabled            bool   `json:"auth_enabled"`
}

// Handler exposes read-mostly operational views of the gateway.
type Handler struct {
	pool     *credentials.Pool
	invalid  *credentials.InvalidStore
	limiter  *limiter.Semaphore
	requests *logging.RequestLogStore
	summary  Summary
	token    string
	logger   *zap.Logger

	// OnInvalidReload receives credentials newly found in the invalid record.
	OnInvalidReload func(added []string)
}

// NewHandler constructs a new admin handler. token must be non-empty.
func NewHandler(pool *credentials.Pool, invalid *credentials.InvalidStore, sem *limiter.Semaphore,
	requests *logging.RequestLogStore, summary Summary, token string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pool:     pool,
		invalid:  invalid,
		limiter:  sem,
		requests: requests,
		summary:  summary,
		token:    token,
		logger:   logger,
	}
}

// ServeHTTP dispatches admin API requests. It expects to be mounted under /admin/api/.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if !h.authorize(r) {
		w.Header().Set("WWW-Authenticate", "Bearer realm=\"imagegw-admin\"")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case matchPath(path, "status") && r.Method == http.MethodGet:
		h.handleStatus(w, r)
	case matchPath(path, "requests") && r.Method == http.MethodGet:
		h.handleRequests(w, r)
	case matchPath(path, "requests") && r.Method == http.MethodDelete:
		h.handleClearRequests(w, r)
	case matchPath(path, "invalid/reload") && r.Method == http.MethodPost:
		h.handleInvalidReload(w, r)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

func (h *Handler) authorize(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	authz := r.Header.Get("Authorization")
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "Bearer ") {
		return false
	}
	token := strings.TrimSpace(authz[7:])
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

type credentialStatus struct {
	Credential string `json:"credential"`
	Requests   uint64 `json:"requests"`
}

type statusResponse struct {
	ActiveCredentials  int                `json:"active_credentials"`
	InvalidCredentials int                `json:"invalid_credentials"`
	Credentials        []credentialStatus `json:"credentials"`
	Inflight           int                `json:"inflight"`
	Waiting            int                `json:"waiting"`
	Permits            int                `json:"permits"`
	Config             Summary            `json:"config"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Credentials: []credentialStatus{},
		Config:      h.summary,
	}
	if h.pool != nil {
		for _, u := range h.pool.Snapshot() {
			resp.Credentials = append(resp.Credentials, credentialStatus{
				Credential: credentials.Mask(u.Key),
				Requests:   u.Count,
			})
		}
		resp.ActiveCredentials = len(resp.Credentials)
	}
	if h.invalid != nil {
		resp.InvalidCredentials = h.invalid.Len()
	}
	if h.limiter != nil {
		resp.Inflight, resp.Waiting = h.limiter.Stats()
		resp.Permits = h.limiter.Permits()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	if h.requests == nil {
		h.writeJSON(w, http.StatusOK, []logging.RequestLogEntry{})
		return
	}
	q := r.URL.Query()
	opts := logging.QueryOptions{
		Model: q.Get("model"),
		Limit: defaultQueryLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.badRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		opts.Limit = min(n, maxRequestsLimit)
	}
	if raw := q.Get("failed"); raw != "" {
		failed, err := strconv.ParseBool(raw)
		if err != nil {
			h.badRequest(w, fmt.Errorf("invalid failed flag %q", raw))
			return
		}
		opts.FailedOnly = failed
	}
	h.writeJSON(w, http.StatusOK, h.requests.Query(opts))
}

func (h *Handler) handleClearRequests(w http.ResponseWriter, _ *http.Request) {
	if h.requests != nil {
		h.requests.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInvalidReload(w http.ResponseWriter, _ *http.Request) {
	if h.invalid == nil {
		h.internalError(w, fmt.Errorf("invalid credential record not configured"))
		return
	}
	added, err := h.invalid.Reload()
	if err != nil {
		h.internalError(w, fmt.Errorf("reload invalid record: %w", err))
		return
	}
	if len(added) > 0 && h.OnInvalidReload != nil {
		h.OnInvalidReload(added)
	}
	h.logger.Info("invalid credential record reloaded via admin API", zap.Int("added", len(added)))
	h.writeJSON(w, http.StatusOK, map[string]int{
		"added":   len(added),
		"invalid": h.invalid.Len(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.internalError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	h.logger.Warn("admin api bad request", zap.Error(err))
	writeError(w, http.StatusBadRequest, err)
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger.Error("admin api internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := map[string]string{"error": err.Error()}
	data, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func matchPath(actual, expected string) bool {
	return strings.TrimSuffix(actual, "/") == expected
}
