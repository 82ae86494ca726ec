package webapi

import (
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/notify"
)

// EventsController streams session notifications to the authenticated user.
type EventsController struct {
	hub *notify.Hub
}

func NewEventsController(hub *notify.Hub) *EventsController {
	return &EventsController{hub: hub}
}

// StreamEvents holds the request open as a server sent events stream.
func (c *EventsController) StreamEvents(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	c.hub.ServeSSE(ctx.Response(), ctx.Request(), user)
	return nil
}

// ServeWebsocket upgrades the request to a websocket. The upgrader writes its own
// error response when the handshake fails.
func (c *EventsController) ServeWebsocket(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	if err := c.hub.ServeWS(ctx.Response(), ctx.Request(), user); err != nil {
		clog.Global().Warnf("Websocket for user %d failed: %s", user.ID, err)
	}

	return nil
}
