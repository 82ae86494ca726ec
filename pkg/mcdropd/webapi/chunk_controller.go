package webapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/xfer"
)

// ChunkHashHeader carries the lowercase hex sha256 of a chunk body in both
// directions.
const ChunkHashHeader = "X-Chunk-Hash"

type ChunkController struct {
	chunks       *xfer.ChunkStore
	maxChunkSize int
}

func NewChunkController(chunks *xfer.ChunkStore, maxChunkSize int) *ChunkController {
	return &ChunkController{chunks: chunks, maxChunkSize: maxChunkSize}
}

// UploadChunk stores the raw request body as chunk :index of session :code.
func (c *ChunkController) UploadChunk(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		return badRequest(ctx, "invalid chunk index")
	}

	data, err := io.ReadAll(io.LimitReader(ctx.Request().Body, int64(c.maxChunkSize)+1))
	if err != nil {
		return badRequest(ctx, "unable to read chunk body")
	}

	if len(data) > c.maxChunkSize {
		return badRequest(ctx, "chunk body is larger than the maximum chunk size")
	}

	receipt, err := c.chunks.SaveChunk(ctx.Request().Context(), xfer.ChunkUpload{
		Code:         ctx.Param("code"),
		UploaderID:   user.ID,
		Index:        index,
		Data:         data,
		ExpectedHash: ctx.Request().Header.Get(ChunkHashHeader),
	})
	if err != nil {
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, receipt)
}

func (c *ChunkController) DownloadChunk(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		return badRequest(ctx, "invalid chunk index")
	}

	chunk, err := c.chunks.GetChunk(ctx.Request().Context(), ctx.Param("code"), user.ID, index)
	if err != nil {
		return errorResponse(ctx, err)
	}

	ctx.Response().Header().Set(ChunkHashHeader, chunk.Hash)
	return ctx.Blob(http.StatusOK, echo.MIMEOctetStream, chunk.Data)
}

// DownloadFile streams the completed file to its receiver. Range requests are
// supported; only a download read to the end marks the session downloaded.
func (c *ChunkController) DownloadFile(ctx echo.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	code := ctx.Param("code")
	d, err := c.chunks.OpenFile(ctx.Request().Context(), code, user.ID)
	if err != nil {
		return errorResponse(ctx, err)
	}

	defer func() {
		if err := d.Close(); err != nil {
			clog.ForSession(code).Warnf("Unable to close download: %s", err)
		}
	}()

	header := ctx.Response().Header()
	header.Set(echo.HeaderContentType, d.MimeType)
	header.Set(echo.HeaderContentDisposition, "attachment; filename="+strconv.Quote(d.Name))

	http.ServeContent(ctx.Response(), ctx.Request(), d.Name, d.ModTime, d)
	return nil
}
