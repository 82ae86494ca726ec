package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdropd/webapi/apimiddleware"
	"github.com/materials-commons/mcdrop/pkg/xfer"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusForKind maps an xfer error kind to the HTTP status returned for it.
func StatusForKind(kind xfer.Kind) int {
	switch kind {
	case xfer.KindValidation, xfer.KindInvalidOperation, xfer.KindPathViolation:
		return http.StatusBadRequest
	case xfer.KindNotFound:
		return http.StatusNotFound
	case xfer.KindPermission:
		return http.StatusForbidden
	case xfer.KindState:
		return http.StatusConflict
	case xfer.KindExpired:
		return http.StatusGone
	case xfer.KindIntegrity:
		return http.StatusUnprocessableEntity
	case xfer.KindAllocation:
		return http.StatusServiceUnavailable
	case xfer.KindStorageFault, xfer.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse writes err as an ErrorResponse. Internal causes are logged, never
// sent.
func errorResponse(ctx echo.Context, err error) error {
	kind := xfer.KindOf(err)
	status := StatusForKind(kind)

	if status >= http.StatusInternalServerError {
		clog.Global().Errorf("%s %s failed: %s", ctx.Request().Method, ctx.Path(), err)
	}

	return ctx.JSON(status, ErrorResponse{Error: kind.String(), Message: xfer.PublicMessage(err)})
}

func badRequest(ctx echo.Context, msg string) error {
	return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: xfer.KindValidation.String(), Message: msg})
}

func currentUser(ctx echo.Context) (*mcmodel.User, error) {
	user, ok := ctx.Get(apimiddleware.UserKey).(*mcmodel.User)
	if !ok || user == nil {
		return nil, echo.ErrUnauthorized
	}

	return user, nil
}
