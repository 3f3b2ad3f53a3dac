package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"imagegw/internal/credentials"
	"imagegw/internal/limiter"
	"imagegw/internal/logging"
	"imagegw/internal/metrics"
	"imagegw/internal/retry"
	"imagegw/internal/upstream"
)

const (
	// GenerationsPath is the only proxied endpoint.
	GenerationsPath = "/v1/images/generations"

	defaultMaxBodyBytes = 32 << 20
	routeGenerations    = "generations"
)

// Executor runs the retry loop for one translated request.
type Executor interface {
	Execute(ctx context.Context, body []byte) (*retry.Result, error)
}

// Gateway accepts image-generation requests and forwards them upstream
// through the retry orchestrator, bounded by the concurrency limiter.
type Gateway struct {
	Executor     Executor
	Pool         *credentials.Pool
	Limiter      *limiter.Semaphore
	AuthTokens   []string
	RequestLog   *logging.RequestLogStore
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := g.getLogger()
	lrw := newLoggingResponseWriter(w)
	requestID := RequestIDFromContext(r.Context())
	setCORSHeaders(lrw.Header())

	start := time.Now()
	var (
		route      string
		model      string
		credential string
		attempts   int
		errMessage string
	)

	defer func() {
		if rec := recover(); rec != nil {
			errMessage = fmt.Sprintf("panic: %v", rec)
			if !lrw.Written() {
				writeError(lrw, http.StatusInternalServerError, "Internal server error", ErrTypeAPI)
			}
		}

		status := lrw.Status()
		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("model", model),
			zap.Int("attempts", attempts),
			zap.Int("status", status),
			zap.Duration("latency", latency),
		}
		if credential != "" {
			fields = append(fields, zap.String("credential", credentials.Mask(credential)))
		}
		if errMessage != "" {
			fields = append(fields, zap.String("error", errMessage))
		}
		metrics.ObserveRequest(route, status, latency)
		if g.RequestLog != nil && r.Method != http.MethodOptions {
			g.RequestLog.Add(logging.RequestLogEntry{
				Timestamp:  start,
				RequestID:  requestID,
				Method:     r.Method,
				Path:       r.URL.Path,
				Model:      model,
				Credential: maskIfSet(credential),
				Attempts:   attempts,
				StatusCode: status,
				LatencyMs:  latency.Milliseconds(),
				Error:      errMessage,
			})
		}
		switch {
		case status >= 500:
			logger.Error("request completed", fields...)
		case status >= 400:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}()

	if r.Method == http.MethodOptions {
		route = "preflight"
		lrw.WriteHeader(http.StatusNoContent)
		return
	}

	if len(g.AuthTokens) > 0 {
		token, err := extractAPIKey(r.Header.Get("Authorization"))
		if err == nil && !g.tokenAllowed(token) {
			err = errors.New("unknown bearer token")
		}
		if err != nil {
			errMessage = err.Error()
			writeError(lrw, http.StatusUnauthorized, "Invalid or missing API key", ErrTypeAuth)
			return
		}
	}

	if r.URL.Path != GenerationsPath || r.Method != http.MethodPost {
		errMessage = http.StatusText(http.StatusNotFound)
		writeError(lrw, http.StatusNotFound,
			fmt.Sprintf("Not found. Use POST %s", GenerationsPath), ErrTypeNotFound)
		return
	}
	route = routeGenerations

	body, err := io.ReadAll(http.MaxBytesReader(lrw, r.Body, g.maxBodyBytes()))
	if err != nil {
		errMessage = fmt.Sprintf("read body: %v", err)
		writeError(lrw, http.StatusBadRequest, "Failed to read request body", ErrTypeInvalidRequest)
		return
	}
	if !gjson.ValidBytes(body) {
		errMessage = "malformed JSON body"
		writeError(lrw, http.StatusInternalServerError, "Internal server error: malformed JSON body", ErrTypeAPI)
		return
	}

	if name, dup := upstream.DuplicateField(body); dup {
		errMessage = fmt.Sprintf("duplicate field %q", name)
		writeError(lrw, http.StatusBadRequest,
			fmt.Sprintf("Duplicate field in request body: %s", name), ErrTypeInvalidRequest)
		return
	}

	modelField := gjson.GetBytes(body, "model")
	promptField := gjson.GetBytes(body, "prompt")
	model = modelField.String()
	if modelField.Type != gjson.String || model == "" || promptField.Type != gjson.String || promptField.String() == "" {
		errMessage = "missing model or prompt"
		writeError(lrw, http.StatusBadRequest, "Missing required fields: model and prompt", ErrTypeInvalidRequest)
		return
	}

	if g.Pool != nil && g.Pool.Size() == 0 {
		errMessage = credentials.ErrNoCredentials.Error()
		writeError(lrw, http.StatusServiceUnavailable, "No valid API keys available", ErrTypeNoValidKeys)
		return
	}

	if g.Limiter != nil {
		if err := g.Limiter.Acquire(r.Context()); err != nil {
			errMessage = fmt.Sprintf("waiting for capacity: %v", err)
			writeError(lrw, http.StatusServiceUnavailable, "Request cancelled while waiting for capacity", ErrTypeAPI)
			return
		}
		defer g.Limiter.Release()
	}

	ctx := logging.ContextWithFields(r.Context(), zap.String("request_id", requestID), zap.String("model", model))

	result, err := g.Executor.Execute(ctx, body)
	if result != nil {
		attempts = result.Attempts
		credential = result.Credential
	}
	if err != nil {
		errMessage = err.Error()
		status, message, errType := describeFailure(err)
		writeError(lrw, status, message, errType)
		return
	}

	writeUpstreamResponse(lrw, result.Response)
}

// WithPreflight answers CORS preflight requests for every path with the
// gateway's fixed response and hands everything else to next.
func (g *Gateway) WithPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			g.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// describeFailure maps a terminal orchestrator error to the client envelope.
func describeFailure(err error) (status int, message, errType string) {
	var upErr *upstream.Error
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
		return http.StatusServiceUnavailable, "No valid API keys available", ErrTypeNoValidKeys
	case errors.As(err, &upErr):
		status = upErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		message = upErr.Error()
		switch upErr.Kind {
		case upstream.KindServerError, upstream.KindUpstreamError:
			if upErr.Body != "" {
				message = upErr.Body
			}
		}
		return status, message, errorTypeForKind(upErr.Kind)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, "Request cancelled", ErrTypeAPI
	case errors.Is(err, retry.ErrMaxRetries):
		return http.StatusInternalServerError, "Max retries exceeded", ErrTypeAPI
	}
	return http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err), ErrTypeAPI
}

// hopHeaders are not forwarded from the upstream reply.
var hopHeaders = []string{
	"Content-Encoding",
	"Content-Length",
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
}

func writeUpstreamResponse(w http.ResponseWriter, res *upstream.Response) {
	header := w.Header()
	for k, vs := range res.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

func (g *Gateway) tokenAllowed(token string) bool {
	ok := false
	for _, allowed := range g.AuthTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			ok = true
		}
	}
	return ok
}

func (g *Gateway) maxBodyBytes() int64 {
	if g.MaxBodyBytes > 0 {
		return g.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

func extractAPIKey(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	if len(header) >= 7 && strings.EqualFold(header[:7], "Bearer ") {
		token := strings.TrimSpace(header[7:])
		if token == "" {
			return "", fmt.Errorf("empty bearer token")
		}
		return token, nil
	}
	return "", fmt.Errorf("unsupported authorization scheme")
}

func (g *Gateway) getLogger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return zap.NewNop()
}

func maskIfSet(credential string) string {
	if credential == "" {
		return ""
	}
	return credentials.Mask(credential)
}
