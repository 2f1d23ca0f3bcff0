// Package proxy implements the Execution Proxy: the component that
// turns a client's (session, code) request into an HTTP call against
// a claimed sandbox's internal agent, resolving the Open Question on
// ambiguous failures by the rule spelled out in the design notes —
// only a clean user-code error preserves the session binding, every
// other failure mode destroys it.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wardenhq/sandbox-gateway/internal/errkind"
)

// Pool is the narrow slice of pool.Controller the proxy needs.
// Defining it locally (rather than importing internal/pool) keeps the
// proxy testable against a fake without pulling in Docker.
type Pool interface {
	Acquire(ctx context.Context, sessionID string) (Sandbox, error)
	Release(ctx context.Context, sessionID string) error
	RecordFailure(ctx context.Context, sessionID string) error
}

// Sandbox is the subset of pool.Sandbox the proxy dereferences.
type Sandbox struct {
	ID   string
	Addr string
}

// Result is the outcome handed back to the API layer for
// serialization into the client-facing execute response.
type Result struct {
	Text        string
	ImageBase64 string
	ErrorName   string
	ErrorValue  string
}

type executeRequest struct {
	Code string `json:"code"`
}

// executeResponse is the sandbox agent's 2xx body.
type executeResponse struct {
	ResultText   *string `json:"result_text"`
	ResultBase64 *string `json:"result_base64"`
}

// executeErrorResponse is the sandbox agent's 4xx body for a user-code
// error or user-code timeout.
type executeErrorResponse struct {
	Detail     string `json:"detail"`
	ErrorName  string `json:"error_name"`
	ErrorValue string `json:"error_value"`
	TimedOut   bool   `json:"timed_out"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Proxy forwards execute calls to the sandbox bound to a session.
type Proxy struct {
	pool       Pool
	httpClient *http.Client
}

// New constructs a Proxy. Its HTTP client has no timeout of its own:
// a forwarded call is bounded only by the deadline, if any, carried by
// the ctx passed to Execute. The API handler passes the inbound
// request's context unchanged, and config.ProxyTimeout is not applied.
func New(pool Pool) *Proxy {
	return &Proxy{
		pool:       pool,
		httpClient: &http.Client{},
	}
}

// Execute acquires a sandbox for sessionID (creating or reusing one
// per the pool's rules), forwards code to its /execute endpoint, and
// classifies the outcome. A pure user-code error leaves the session
// bound for the next call; every other failure — transport error,
// context deadline, non-2xx from the agent — destroys the sandbox
// before returning, so the caller's next call with the same session
// gets a brand-new sandbox rather than a wedged one.
func (p *Proxy) Execute(ctx context.Context, sessionID, code string) (Result, error) {
	sb, err := p.pool.Acquire(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	res, execErr := p.forward(ctx, sb.Addr, code)
	if execErr != nil {
		_ = p.pool.RecordFailure(ctx, sessionID)
		return Result{}, execErr
	}

	if res.ErrorName != "" {
		// A pure user-code error: the session survives for the next
		// statement, so no RecordFailure, but the caller still sees a
		// 4xx — this is not a successful execution.
		return res, errkind.New(errkind.UserCodeError, res.ErrorName+": "+res.ErrorValue)
	}

	return res, nil
}

func (p *Proxy) forward(ctx context.Context, addr, code string) (Result, error) {
	body, err := json.Marshal(executeRequest{Code: code})
	if err != nil {
		return Result{}, errkind.New(errkind.InternalError, "encode execute request: "+err.Error())
	}

	url := fmt.Sprintf("http://%s/execute", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, errkind.New(errkind.InternalError, "build execute request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errkind.New(errkind.UserCodeTimeout, "execution deadline exceeded")
		}
		return Result{}, errkind.New(errkind.TransportFailure, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, errkind.New(errkind.TransportFailure, "read agent response: "+err.Error())
	}

	switch {
	case resp.StatusCode >= 500:
		return Result{}, errkind.New(errkind.TransportFailure, fmt.Sprintf("agent returned %d", resp.StatusCode))

	case resp.StatusCode >= 400:
		var ee executeErrorResponse
		if err := json.Unmarshal(raw, &ee); err != nil {
			return Result{}, errkind.New(errkind.TransportFailure, "decode agent error response: "+err.Error())
		}
		if ee.TimedOut {
			return Result{}, errkind.New(errkind.UserCodeTimeout, "execution exceeded the configured timeout")
		}
		if ee.ErrorName == "" {
			return Result{}, errkind.New(errkind.TransportFailure, fmt.Sprintf("agent returned %d without an error kind", resp.StatusCode))
		}
		return Result{ErrorName: ee.ErrorName, ErrorValue: ee.ErrorValue}, nil

	case resp.StatusCode == http.StatusOK:
		var er executeResponse
		if err := json.Unmarshal(raw, &er); err != nil {
			return Result{}, errkind.New(errkind.TransportFailure, "decode agent response: "+err.Error())
		}
		return Result{Text: deref(er.ResultText), ImageBase64: deref(er.ResultBase64)}, nil

	default:
		return Result{}, errkind.New(errkind.TransportFailure, fmt.Sprintf("agent returned unexpected status %d", resp.StatusCode))
	}
}

// Release forwards a client-initiated session release to the pool.
func (p *Proxy) Release(ctx context.Context, sessionID string) error {
	return p.pool.Release(ctx, sessionID)
}
