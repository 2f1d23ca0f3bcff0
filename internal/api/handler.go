// Package api exposes the gateway's HTTP surface: execute, release,
// status, metrics, and an admin status-snapshot feed.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/sandbox-gateway/internal/errkind"
	"github.com/wardenhq/sandbox-gateway/internal/metrics"
	"github.com/wardenhq/sandbox-gateway/internal/proxy"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// poolSnapshotter is the narrow surface the handler needs from the
// pool controller for GET /v1/status and the metrics gauges.
type poolSnapshotter interface {
	Snapshot() metrics.Snapshot
}

// Handler wires the gateway's HTTP routes to the proxy and pool.
type Handler struct {
	proxy     *proxy.Proxy
	pool      poolSnapshotter
	authToken string
	gauges    *metrics.Gauges
}

// NewHandler constructs a Handler. authToken, if non-empty, is
// required via the X-Auth-Token header on every /v1 route.
func NewHandler(p *proxy.Proxy, pool poolSnapshotter, authToken string) *Handler {
	return &Handler{
		proxy:     p,
		pool:      pool,
		authToken: authToken,
		gauges:    metrics.NewGauges(),
	}
}

// RegisterRoutes mounts the execute, release and status handlers under
// /v1, and the Prometheus handler at /metrics outside that group.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.HTTPErrorHandler = h.httpErrorHandler

	v1 := e.Group("/v1")
	if h.authToken != "" {
		v1.Use(h.authMiddleware)
	}

	v1.POST("/execute", h.execute)
	v1.POST("/release", h.release)
	v1.GET("/status", h.status)
	v1.GET("/status/stream", h.statusStream)
	e.GET("/metrics", h.metricsHandler)
}

func (h *Handler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("X-Auth-Token") != h.authToken {
			return errkind.New(errkind.AuthInvalid, "missing or invalid auth token")
		}
		return next(c)
	}
}

// httpErrorHandler maps every error surfaced by a route — typed
// *errkind.Error or anything else — to a JSON body without leaking
// internals. Untyped errors are folded into InternalError.
func (h *Handler) httpErrorHandler(err error, c echo.Context) {
	kind := errkind.As(err)
	status := kind.HTTPStatus()

	if c.Response().Committed {
		return
	}

	if kind == errkind.InternalError {
		log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled request error")
	}

	if werr := c.JSON(status, map[string]string{
		"error":  string(kind),
		"detail": errDetail(err, kind),
	}); werr != nil {
		log.Error().Err(werr).Msg("failed to write error response")
	}
}

func errDetail(err error, kind errkind.Kind) string {
	if kind == errkind.InternalError {
		return "internal error"
	}
	return err.Error()
}

type executeRequest struct {
	UserUUID string `json:"user_uuid"`
	Code     string `json:"code"`
}

type executeResponse struct {
	ResultText   *string `json:"result_text"`
	ResultBase64 *string `json:"result_base64"`
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handler) execute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return errkind.New(errkind.UserCodeError, "invalid request body")
	}
	if req.UserUUID == "" {
		return errkind.New(errkind.UserCodeError, "user_uuid is required")
	}

	res, err := h.proxy.Execute(c.Request().Context(), req.UserUUID, req.Code)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, executeResponse{
		ResultText:   nullableString(res.Text),
		ResultBase64: nullableString(res.ImageBase64),
	})
}

type releaseRequest struct {
	UserUUID string `json:"user_uuid"`
}

type releaseResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (h *Handler) release(c echo.Context) error {
	var req releaseRequest
	if err := c.Bind(&req); err != nil {
		return errkind.New(errkind.UserCodeError, "invalid request body")
	}
	if err := h.proxy.Release(c.Request().Context(), req.UserUUID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, releaseResponse{Status: "ok", Detail: "session released"})
}

type statusResponse struct {
	TotalWorkers      int  `json:"total_workers"`
	BusyWorkers       int  `json:"busy_workers"`
	IdleWorkersInPool int  `json:"idle_workers_in_pool"`
	IsInitializing    bool `json:"is_initializing"`
}

func (h *Handler) status(c echo.Context) error {
	s := h.pool.Snapshot()
	h.gauges.Set(s)
	return c.JSON(http.StatusOK, statusResponse{
		TotalWorkers:      s.Total,
		BusyWorkers:       s.Busy,
		IdleWorkersInPool: s.Idle,
		IsInitializing:    s.IsInitializing,
	})
}

func (h *Handler) metricsHandler(c echo.Context) error {
	h.gauges.Set(h.pool.Snapshot())
	promhttp.HandlerFor(h.gauges.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Response(), c.Request())
	return nil
}

// statusStream upgrades to a websocket and pushes a status snapshot
// every second — an admin convenience feed, not part of the client
// execute/release contract.
func (h *Handler) statusStream(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := h.pool.Snapshot()
			if err := ws.WriteJSON(statusResponse{
				TotalWorkers:      s.Total,
				BusyWorkers:       s.Busy,
				IdleWorkersInPool: s.Idle,
				IsInitializing:    s.IsInitializing,
			}); err != nil {
				return nil
			}
		}
	}
}
