// Command sandbox-agent is the reference HTTP agent that runs inside
// every sandbox container. It exposes GET /health, POST /execute, and
// POST /reset over the Execution Channel's assembler, driven by an
// intentionally trivial in-process kernel rather than a real language
// runtime.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/sandbox-gateway/internal/channel"
	"github.com/wardenhq/sandbox-gateway/internal/kernel"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := os.Getenv("WARDEN_AGENT_PORT")
	if port == "" {
		port = "8080"
	}

	a := newAgent()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.health)
	mux.HandleFunc("/execute", a.execute)
	mux.HandleFunc("/reset", a.reset)

	log.Info().Str("port", port).Msg("sandbox agent listening")
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal().Err(err).Msg("agent server exited")
	}
}

type agent struct {
	k  *kernel.Kernel
	mu sync.Mutex // serializes execute requests
}

func newAgent() *agent {
	return &agent{k: kernel.New()}
}

func (a *agent) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *agent) reset(w http.ResponseWriter, r *http.Request) {
	a.k.Reset()
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Code string `json:"code"`
}

// executeResponse is the 2xx body: at most one of the two fields is
// populated; both are null when the execution produced no output.
type executeResponse struct {
	ResultText   *string `json:"result_text"`
	ResultBase64 *string `json:"result_base64"`
}

// executeErrorResponse is the 4xx body for a user-code error or
// user-code timeout. Detail is always populated; ErrorName/ErrorValue
// carry the kernel's own error classification and TimedOut
// distinguishes a timeout from an ordinary runtime error, both for a
// caller that wants more than the textual detail.
type executeErrorResponse struct {
	Detail     string `json:"detail"`
	ErrorName  string `json:"error_name,omitempty"`
	ErrorValue string `json:"error_value,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// sandboxTimeout is the agent-local execution deadline. It is
// deliberately shorter than the gateway's proxy timeout so the agent,
// not an overstretched HTTP client, is what observes and reports a
// stuck execution.
const sandboxTimeout = 10 * time.Second

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *agent) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), sandboxTimeout)
	defer cancel()

	stream := newInProcessStream(a.k)
	ch := channel.New(stream)

	res, err := ch.Execute(ctx, req.Code)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, executeErrorResponse{Detail: err.Error()})
		return
	}

	if res.TimedOut {
		writeJSON(w, http.StatusBadRequest, executeErrorResponse{
			Detail:   "execution exceeded the configured timeout",
			TimedOut: true,
		})
		return
	}

	if res.Err != nil {
		writeJSON(w, http.StatusBadRequest, executeErrorResponse{
			Detail:     res.Err.Name + ": " + res.Err.Value,
			ErrorName:  res.Err.Name,
			ErrorValue: res.Err.Value,
		})
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		ResultText:   nullableString(res.Text),
		ResultBase64: nullableString(res.ImageBase64),
	})
}
