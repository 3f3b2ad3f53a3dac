package server

import (
	"encoding/json"
	"net/http"

	"imagegw/internal/upstream"
)

// Error types reported in the "type" field of the error envelope.
const (
	ErrTypeAuth           = "auth_error"
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeNotFound       = "not_found_error"
	ErrTypeNoValidKeys    = "no_valid_keys"
	ErrTypeAPI            = "api_error"

	ErrTypeRateLimit         = "rate_limit_error"
	ErrTypeInvalidKey        = "invalid_api_key"
	ErrTypeUpstreamAuth      = "upstream_auth_error"
	ErrTypeUpstreamServer    = "upstream_server_error"
	ErrTypeUpstream          = "upstream_error"
	ErrTypeUpstreamTransport = "upstream_connection_error"
)

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	data, err := json.Marshal(errorEnvelope{Error: errorDetail{Message: message, Type: errType}})
	if err != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func errorTypeForKind(kind upstream.Kind) string {
	switch kind {
	case upstream.KindRateLimited:
		return ErrTypeRateLimit
	case upstream.KindInvalidCredential:
		return ErrTypeInvalidKey
	case upstream.KindUnauthorized:
		return ErrTypeUpstreamAuth
	case upstream.KindServerError:
		return ErrTypeUpstreamServer
	case upstream.KindTransport:
		return ErrTypeUpstreamTransport
	}
	return ErrTypeUpstream
}
