// Package mcdropd assembles the mcdrop HTTP API around an xfer.Service.
package mcdropd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/mcdropd/webapi"
	"github.com/materials-commons/mcdrop/pkg/mcdropd/webapi/apimiddleware"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/materials-commons/mcdrop/pkg/xfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const APIBasePath = "/api/v1"

type ServerDeps struct {
	Service  *xfer.Service
	Stors    *stor.Stors
	Hub      *notify.Hub
	Settings config.Settings
	Metrics  *metrics.Metrics

	// Gatherer backs /metrics. It should be the registry Metrics was registered with.
	Gatherer prometheus.Gatherer
}

// Server is the echo application plus the pieces whose lifetime it shares.
type Server struct {
	E   *echo.Echo
	hub *notify.Hub
}

func NewServer(deps ServerDeps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(apimiddleware.RequestMetrics(deps.Metrics))

	setupRoutes(e, deps)

	return &Server{E: e, hub: deps.Hub}
}

func setupRoutes(e *echo.Echo, deps ServerDeps) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	apikeyCache := apimiddleware.NewAPIKeyCache(deps.Stors.UserStor)
	g := e.Group(APIBasePath, apimiddleware.APIKeyAuth(apimiddleware.APIKeyConfig{
		Keyname:         deps.Settings.APIKeyName,
		GetUserByAPIKey: apikeyCache.GetUserByAPIKey,
	}))

	sessionController := webapi.NewSessionController(deps.Service.Registry)
	g.POST("/sessions", sessionController.CreateSession)
	g.GET("/sessions/:code", sessionController.GetSessionStatus)
	g.POST("/sessions/:code/join", sessionController.JoinSession)
	g.POST("/sessions/:code/cancel", sessionController.CancelSession)

	chunkController := webapi.NewChunkController(deps.Service.Chunks, deps.Settings.MaxChunkSize)
	g.PUT("/sessions/:code/chunks/:index", chunkController.UploadChunk)
	g.GET("/sessions/:code/chunks/:index", chunkController.DownloadChunk)
	g.GET("/sessions/:code/file", chunkController.DownloadFile)

	historyController := webapi.NewHistoryController(deps.Service.History)
	g.GET("/history", historyController.IndexHistory)
	g.GET("/history/stats", historyController.GetHistoryStats)

	if deps.Hub != nil {
		eventsController := webapi.NewEventsController(deps.Hub)
		g.GET("/events", eventsController.StreamEvents)
		g.GET("/ws", eventsController.ServeWebsocket)
	}

	admin := g.Group("/admin", apimiddleware.AdminOnly())
	logController := webapi.NewLogController()
	admin.POST("/log-level", logController.SetLogLevel)
	admin.POST("/log-output", logController.SetLogOutput)
	admin.GET("/logging", logController.ShowCurrentLogging)
}

// Start serves on address until the server is shut down. The notification hub runs
// for as long as ctx.
func (s *Server) Start(ctx context.Context, address string) error {
	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	clog.Global().Infof("Listening on %s", address)
	if err := s.E.Start(address); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.E.Shutdown(ctx)
}

func Address(port int) string {
	return fmt.Sprintf(":%d", port)
}
