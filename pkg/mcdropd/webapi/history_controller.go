package webapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/xfer"
)

type HistoryController struct {
	history *xfer.HistoryRecorder
}

func NewHistoryController(history *xfer.HistoryRecorder) *HistoryController {
	return &HistoryController{history: history}
}

// IndexHistory lists the user's transfers, most recent first. Query parameters
// direction (SEND or RECEIVE), page and per_page are optional.
func (c *HistoryController) IndexHistory(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	page, err := intQueryParam(ctx, "page")
	if err != nil {
		return badRequest(ctx, "page must be a number")
	}

	perPage, err := intQueryParam(ctx, "per_page")
	if err != nil {
		return badRequest(ctx, "per_page must be a number")
	}

	direction := mcmodel.TransferDirection(strings.ToUpper(ctx.QueryParam("direction")))
	result, err := c.history.Query(ctx.Request().Context(), user.ID, direction, xfer.Page{Number: page, Size: perPage})
	if err != nil {
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, result)
}

func (c *HistoryController) GetHistoryStats(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	stats, err := c.history.Stats(ctx.Request().Context(), user.ID)
	if err != nil {
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, stats)
}

func intQueryParam(ctx echo.Context, name string) (int, error) {
	value := ctx.QueryParam(name)
	if value == "" {
		return 0, nil
	}

	return strconv.Atoi(value)
}
