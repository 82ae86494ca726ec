package webapi

import (
	"net/http"
	"os"
	"sync"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/pkg/errors"
)

// LogController lets an admin change log levels and output while the daemon runs.
type LogController struct {
	mu              sync.Mutex
	CurrentLogLevel string `json:"current_log_level"`
	CurrentLogFile  string `json:"current_log_file"`
}

func NewLogController() *LogController {
	return &LogController{
		CurrentLogLevel: clog.GlobalLevel().String(),
		CurrentLogFile:  "stdout",
	}
}

// SetLogLevel sets the level of the global logger, or of a single context such as
// "session:123456" when context is given.
func (c *LogController) SetLogLevel(ctx echo.Context) error {
	var req struct {
		LogLevel string `json:"log_level"`
		Context  string `json:"context"`
	}

	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}

	level, err := log.ParseLevel(req.LogLevel)
	if err != nil {
		return badRequest(ctx, errors.Wrapf(err, "invalid log level %s", req.LogLevel).Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Context == "" || req.Context == clog.GlobalLoggerCtx {
		clog.SetLevel(clog.GlobalLoggerCtx, level)
		c.CurrentLogLevel = level.String()
	} else {
		clog.AddLoggingContext(req.Context, level)
	}

	clog.Global().Infof("Log level for %q set to %s", req.Context, level)
	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) SetLogOutput(ctx echo.Context) error {
	var req struct {
		LogOutput string `json:"log_output"`
	}

	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.LogOutput {
	case "stdout":
		clog.SetOutput(os.Stdout)
	case "stderr":
		clog.SetOutput(os.Stderr)
	case "":
		return badRequest(ctx, "log_output is required")
	default:
		f, err := os.OpenFile(req.LogOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return badRequest(ctx, errors.Wrapf(err, "unable to open log output %s", req.LogOutput).Error())
		}
		clog.SetOutput(f)
	}

	c.CurrentLogFile = req.LogOutput
	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) ShowCurrentLogging(ctx echo.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.JSON(http.StatusOK, c)
}
