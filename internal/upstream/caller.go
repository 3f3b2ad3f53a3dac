// Package upstream translates image-generation requests for the upstream API,
// sends them with a given credential and classifies the reply.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"imagegw/internal/logging"
	"imagegw/internal/version"
)

// maxErrorBody caps how much of a failed reply is kept for error messages.
const maxErrorBody = 64 << 10

// Caller issues translated requests to one upstream endpoint.
type Caller struct {
	URL     string
	Models  map[string]string
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
}

// NewCaller returns a Caller with a pooled transport.
func NewCaller(url string, models map[string]string, timeout time.Duration, logger *zap.Logger) *Caller {
	return &Caller{
		URL:     url,
		Models:  models,
		Timeout: timeout,
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		Logger: logger,
	}
}

// Call translates body and sends it with credential as the bearer token.
// A 2xx reply is returned as a Response; anything else is an *Error.
func (c *Caller) Call(ctx context.Context, body []byte, credential string) (*Response, error) {
	logger := logging.FromContext(ctx, c.Logger)

	payload, tr, err := Translate(body, c.Models)
	if err != nil {
		return nil, err
	}
	for _, field := range tr.Dropped {
		logger.Info("dropped unsupported field", zap.String("field", field))
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("User-Agent", version.UserAgent())

	logger.Debug("calling upstream",
		zap.String("model", tr.Model),
		zap.String("upstream_model", tr.UpstreamModel),
	)

	res, err := c.client().Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Credential: credential, Err: err}
	}
	defer res.Body.Close()

	kind, ok := Classify(res.StatusCode)
	if ok {
		respBody, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, &Error{Kind: KindTransport, Credential: credential, Err: fmt.Errorf("read upstream body: %w", err)}
		}
		return &Response{Status: res.StatusCode, Header: res.Header.Clone(), Body: respBody}, nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return nil, &Error{
		Kind:       kind,
		Status:     res.StatusCode,
		Body:       string(errBody),
		Credential: credential,
	}
}

func (c *Caller) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}
