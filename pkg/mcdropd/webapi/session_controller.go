package webapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/decoder"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/xfer"
)

type SessionController struct {
	registry *xfer.Registry
}

func NewSessionController(registry *xfer.Registry) *SessionController {
	return &SessionController{registry: registry}
}

type CreateSessionRequest struct {
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	MimeType   string `json:"mime_type"`
	ChunkSize  int    `json:"chunk_size"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type JoinSessionRequest struct {
	Device string `json:"device"`
}

// SessionResponse describes a session to one of its participants.
type SessionResponse struct {
	SessionCode      string                 `json:"session_code"`
	Status           mcmodel.TransferStatus `json:"status"`
	FileName         string                 `json:"file_name"`
	FileSize         int64                  `json:"file_size"`
	MimeType         string                 `json:"mime_type"`
	ChunkSize        int                    `json:"chunk_size"`
	TotalChunks      int                    `json:"total_chunks"`
	TransferredBytes int64                  `json:"transferred_bytes"`
	CompletedChunks  int                    `json:"completed_chunks"`
	SenderName       string                 `json:"sender_name,omitempty"`
	ReceiverName     string                 `json:"receiver_name,omitempty"`
	ExpiresAt        time.Time              `json:"expires_at"`
}

func newSessionResponse(session *mcmodel.TransferSession) SessionResponse {
	resp := SessionResponse{
		SessionCode:      session.SessionCode,
		Status:           session.Status,
		FileName:         session.FileName,
		FileSize:         session.FileSize,
		MimeType:         session.MimeType,
		ChunkSize:        session.ChunkSize,
		TotalChunks:      session.TotalChunks,
		TransferredBytes: session.TransferredBytes,
		CompletedChunks:  session.CompletedChunks,
		ExpiresAt:        session.ExpiresAt,
	}

	if session.Sender != nil {
		resp.SenderName = session.Sender.Name
	}

	if session.Receiver != nil {
		resp.ReceiverName = session.Receiver.Name
	}

	return resp
}

func (c *SessionController) CreateSession(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	req, err := decoder.DecodeStrict[CreateSessionRequest](ctx.Request().Body)
	if err != nil {
		return badRequest(ctx, "invalid request body: "+err.Error())
	}

	session, err := c.registry.Create(ctx.Request().Context(), xfer.CreateRequest{
		OwnerID:   user.ID,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		MimeType:  req.MimeType,
		ChunkSize: req.ChunkSize,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, newSessionResponse(session))
}

func (c *SessionController) JoinSession(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	var req JoinSessionRequest
	if ctx.Request().ContentLength != 0 {
		if req, err = decoder.DecodeStrict[JoinSessionRequest](ctx.Request().Body); err != nil {
			return badRequest(ctx, "invalid request body: "+err.Error())
		}
	}

	session, err := c.registry.Join(ctx.Request().Context(), ctx.Param("code"), user.ID, req.Device)
	if err != nil {
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, newSessionResponse(session))
}

func (c *SessionController) GetSessionStatus(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	status, err := c.registry.Status(ctx.Request().Context(), ctx.Param("code"), user.ID)
	if err != nil {
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, status)
}

func (c *SessionController) CancelSession(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	session, err := c.registry.Cancel(ctx.Request().Context(), ctx.Param("code"), user.ID)
	if err != nil {
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, newSessionResponse(session))
}
