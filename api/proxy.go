package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	loginPath    = "/api/UserAuth/LoginTeacher"
	schedulePath = "/api/Schedule/GetTeacherSchedule"

	// MaxRelayBytes bounds request and response bodies passed through.
	MaxRelayBytes = 4 << 20
)

var errUpstreamTooLarge = errors.New("upstream response too large")

// Proxy relays login and schedule requests to the upstream school API so
// the browser does not have to deal with its CORS policy.
type Proxy struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

// NewProxy creates a relay to baseURL. client defaults to one with a 15s
// timeout.
func NewProxy(baseURL string, client *http.Client, logger *zap.Logger) *Proxy {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		logger: logger.Named("proxy"),
	}
}

// Login forwards a teacher login.
func (p *Proxy) Login(w http.ResponseWriter, r *http.Request) {
	p.relay(w, r, loginPath, false)
}

// Schedule forwards a schedule query with the caller's Authorization header.
func (p *Proxy) Schedule(w http.ResponseWriter, r *http.Request) {
	p.relay(w, r, schedulePath, true)
}

func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, path string, withAuth bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRelayBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	status, resp, err := p.forward(r.Context(), path, body, authHeader(r, withAuth))
	if err != nil {
		p.logger.Warn("upstream request failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Upstream unavailable", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(resp)
}

func (p *Proxy) forward(ctx context.Context, path string, body []byte, auth string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	resp, err := io.ReadAll(io.LimitReader(res.Body, MaxRelayBytes+1))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	if len(resp) > MaxRelayBytes {
		return 0, nil, errUpstreamTooLarge
	}
	return res.StatusCode, resp, nil
}

func authHeader(r *http.Request, withAuth bool) string {
	if !withAuth {
		return ""
	}
	return r.Header.Get("Authorization")
}
