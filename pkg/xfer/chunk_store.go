package xfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/lock"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/pkg/errors"
)

// ChunkStore writes chunks into a session's staging file and keeps the chunk
// accounting. Writes to different offsets of the same file run in parallel; only the
// accounting for a session is serialized.
type ChunkStore struct {
	registry *Registry
	sessions stor.SessionStor
	staging  *stagingArea
	locks    *lock.IDLocker[int]
	clock    Clock
	metrics  *metrics.Metrics
}

type ChunkUpload struct {
	Code       string
	UploaderID int
	Index      int
	Data       []byte

	// ExpectedHash, when set, is the lowercase hex sha256 of Data.
	ExpectedHash string
}

// ChunkReceipt is the session progress after a SaveChunk.
type ChunkReceipt struct {
	Index            int                    `json:"index"`
	Accepted         bool                   `json:"accepted"`
	TransferredBytes int64                  `json:"transferred_bytes"`
	CompletedChunks  int                    `json:"completed_chunks"`
	TotalChunks      int                    `json:"total_chunks"`
	Status           mcmodel.TransferStatus `json:"status"`
}

type Chunk struct {
	Index int
	Data  []byte
	Hash  string
}

// SaveChunk validates and stores one chunk. Saving an index that was already
// accepted changes nothing and reports Accepted=false.
func (c *ChunkStore) SaveChunk(ctx context.Context, upload ChunkUpload) (*ChunkReceipt, error) {
	session, err := c.registry.lookup(upload.Code)
	if err != nil {
		return nil, err
	}

	log := clog.ForSession(session.SessionCode)
	now := c.clock.Now()

	switch {
	case !session.IsSender(upload.UploaderID):
		return nil, newError(KindPermission, "only the sender may upload to session %s", upload.Code)
	case session.Status == mcmodel.StatusConnected && session.PastDeadline(now):
		c.registry.expireLazily(ctx, session, now)
		return nil, newError(KindExpired, "session %s has expired", upload.Code)
	case session.Status != mcmodel.StatusConnected && session.Status != mcmodel.StatusTransferring:
		return nil, newError(KindState, "session %s is %s and not accepting chunks", upload.Code, session.Status)
	case upload.Index < 0 || upload.Index >= session.TotalChunks:
		return nil, newError(KindValidation, "chunk index %d is outside [0, %d)", upload.Index, session.TotalChunks)
	case len(upload.Data) != session.ChunkLength(upload.Index):
		return nil, newError(KindValidation, "chunk %d must be %d bytes, got %d",
			upload.Index, session.ChunkLength(upload.Index), len(upload.Data))
	}

	hash := hashOf(upload.Data)
	if upload.ExpectedHash != "" && !strings.EqualFold(upload.ExpectedHash, hash) {
		log.Warnf("Chunk %d of session %d failed its integrity check", upload.Index, session.ID)
		return nil, newError(KindIntegrity, "chunk %d does not match its hash", upload.Index)
	}

	if _, err := c.sessions.GetChunk(session.ID, upload.Index); err == nil {
		current, err := c.sessions.GetSessionByID(session.ID)
		if err != nil {
			return nil, wrapError(KindStorageFault, err, "unable to load session")
		}
		return receiptFor(upload.Index, false, current), nil
	} else if !stor.IsRecordNotFound(err) {
		return nil, wrapError(KindStorageFault, err, "unable to check chunk %d", upload.Index)
	}

	dir, path, err := c.staging.ensure(session)
	switch {
	case errors.Is(err, errFinalized):
		return c.settleLateWrite(ctx, session, upload.Index, err)
	case err != nil:
		return nil, c.storageError(ctx, session, err)
	}

	if session.StagingPath != dir {
		if err := c.sessions.SetStagingPath(session.ID, dir); err != nil {
			return nil, c.storageError(ctx, session, err)
		}
	}

	if err := c.staging.writeAt(path, upload.Data, session.ChunkOffset(upload.Index)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.settleLateWrite(ctx, session, upload.Index, err)
		}
		return nil, c.storageError(ctx, session, err)
	}

	var result *stor.ProgressResult
	err = c.locks.WithLock(session.ID, func() error {
		current, err := c.sessions.GetSessionByID(session.ID)
		if err != nil {
			return wrapError(KindStorageFault, err, "unable to load session")
		}

		result, err = c.registry.recordProgress(ctx, current, ProgressUpdate{
			TransferredBytes: current.TransferredBytes + int64(len(upload.Data)),
			CompletedChunks:  current.CompletedChunks + 1,
			Chunk: mcmodel.TransferChunk{
				ChunkIndex: upload.Index,
				Size:       len(upload.Data),
				Hash:       hash,
			},
		})
		return err
	})

	if err != nil {
		return nil, err
	}

	if !result.Accepted && result.Session.Status == mcmodel.StatusCompleted {
		if err := c.staging.discardPartial(result.Session); err != nil {
			log.Warnf("Unable to discard staging file of completed session %d: %s", session.ID, err)
		}
	}

	if result.Accepted {
		c.metrics.ChunksAccepted.Inc()
		c.metrics.ChunkBytes.Add(float64(len(upload.Data)))
		log.Debugf("Accepted chunk %d of session %d (%d/%d)", upload.Index, session.ID,
			result.Session.CompletedChunks, result.Session.TotalChunks)
	}

	return receiptFor(upload.Index, result.Accepted, result.Session), nil
}

// settleLateWrite answers an upload whose staging file disappeared between the
// status check and the write because the session finished meanwhile. An index that
// was already counted gets a no-op receipt. If the session is still accepting chunks
// the missing file is a storage fault.
func (c *ChunkStore) settleLateWrite(ctx context.Context, session *mcmodel.TransferSession, index int, cause error) (*ChunkReceipt, error) {
	current, err := c.sessions.GetSessionByID(session.ID)
	if err != nil {
		return nil, wrapError(KindStorageFault, err, "unable to load session")
	}

	if current.Status == mcmodel.StatusConnected || current.Status == mcmodel.StatusTransferring {
		return nil, c.storageError(ctx, current, cause)
	}

	if _, err := c.sessions.GetChunk(current.ID, index); err == nil {
		return receiptFor(index, false, current), nil
	}

	return nil, newError(KindState, "session %s is %s and not accepting chunks", current.SessionCode, current.Status)
}

// storageError turns a staging failure into the error returned to the uploader. A
// path escaping the temp root is a security event and leaves the session alone;
// anything else fails the session.
func (c *ChunkStore) storageError(ctx context.Context, session *mcmodel.TransferSession, err error) error {
	if sandbox.IsPathViolation(err) {
		c.metrics.PathViolations.Inc()
		clog.Security().Warnf("Staging path for session %d (%s) escapes the temp root: %s", session.ID, session.SessionCode, err)
		return wrapError(KindPathViolation, err, "invalid staging path")
	}

	if failErr := c.registry.fail(ctx, session, err); failErr != nil && !IsKind(failErr, KindState) {
		clog.ForSession(session.SessionCode).Errorf("Unable to fail session %d: %s", session.ID, failErr)
	}

	return wrapError(KindStorageFault, err, "unable to store chunk")
}

// GetChunk returns an accepted chunk to either participant.
func (c *ChunkStore) GetChunk(ctx context.Context, code string, requesterID, index int) (*Chunk, error) {
	session, err := c.registry.Get(ctx, code, requesterID)
	if err != nil {
		return nil, err
	}

	if !hasStagedFile(session) {
		return nil, newError(KindNotFound, "session %s has no file", code)
	}

	length := session.ChunkLength(index)
	if length == 0 {
		return nil, newError(KindNotFound, "chunk %d not found", index)
	}

	if _, err := c.sessions.GetChunk(session.ID, index); err != nil {
		if stor.IsRecordNotFound(err) {
			return nil, newError(KindNotFound, "chunk %d has not been received", index)
		}
		return nil, wrapError(KindStorageFault, err, "unable to load chunk %d", index)
	}

	f, err := c.staging.openForRead(session)
	if err != nil {
		return nil, c.readError(session, err)
	}
	defer f.Close()

	data := make([]byte, length)
	if _, err := f.ReadAt(data, session.ChunkOffset(index)); err != nil && !errors.Is(err, io.EOF) {
		return nil, wrapError(KindStorageFault, err, "unable to read chunk %d", index)
	}

	return &Chunk{Index: index, Data: data, Hash: hashOf(data)}, nil
}

// Download is an open completed file. Closing it after it has been read to the end
// marks the session downloaded.
type Download struct {
	Name     string
	Size     int64
	MimeType string
	ModTime  time.Time

	file     *os.File
	read     int64
	once     sync.Once
	onFinish func()
}

func (d *Download) Read(p []byte) (int, error) {
	n, err := d.file.Read(p)
	d.read += int64(n)
	return n, err
}

func (d *Download) Seek(offset int64, whence int) (int64, error) {
	return d.file.Seek(offset, whence)
}

func (d *Download) Close() error {
	if d.read >= d.Size {
		d.once.Do(d.onFinish)
	}

	return d.file.Close()
}

// OpenFile opens the completed file for its receiver.
func (c *ChunkStore) OpenFile(ctx context.Context, code string, requesterID int) (*Download, error) {
	session, err := c.registry.lookup(code)
	if err != nil {
		return nil, err
	}

	switch {
	case !session.IsReceiver(requesterID):
		return nil, newError(KindPermission, "only the receiver may download session %s", code)
	case session.Status != mcmodel.StatusCompleted:
		return nil, newError(KindState, "session %s is %s, not COMPLETED", code, session.Status)
	case session.FileReclaimedAt != nil:
		return nil, newError(KindNotFound, "the file for session %s is no longer available", code)
	}

	f, err := c.staging.openForRead(session)
	if err != nil {
		return nil, c.readError(session, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, wrapError(KindStorageFault, err, "unable to stat file")
	}

	return &Download{
		Name:     session.FileName,
		Size:     session.FileSize,
		MimeType: session.MimeType,
		ModTime:  fi.ModTime(),
		file:     f,
		onFinish: func() {
			if err := c.sessions.MarkDownloaded(session.ID, c.clock.Now()); err != nil {
				clog.ForSession(session.SessionCode).Errorf("Unable to mark session %d downloaded: %s", session.ID, err)
			}
		},
	}, nil
}

// Remove deletes the staging data of session.
func (c *ChunkStore) Remove(session *mcmodel.TransferSession) error {
	return c.staging.remove(session)
}

func (c *ChunkStore) readError(session *mcmodel.TransferSession, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return newError(KindNotFound, "file for session %s not found", session.SessionCode)
	case sandbox.IsPathViolation(err):
		c.metrics.PathViolations.Inc()
		clog.Security().Warnf("Staging path for session %d (%s) escapes the temp root: %s", session.ID, session.SessionCode, err)
		return wrapError(KindPathViolation, err, "invalid staging path")
	default:
		return wrapError(KindStorageFault, err, "unable to open file")
	}
}

// hasStagedFile reports whether the session can still have bytes on disk.
func hasStagedFile(session *mcmodel.TransferSession) bool {
	switch session.Status {
	case mcmodel.StatusConnected, mcmodel.StatusTransferring:
		return true
	case mcmodel.StatusCompleted:
		return session.FileReclaimedAt == nil
	default:
		return false
	}
}

func receiptFor(index int, accepted bool, session *mcmodel.TransferSession) *ChunkReceipt {
	return &ChunkReceipt{
		Index:            index,
		Accepted:         accepted,
		TransferredBytes: session.TransferredBytes,
		CompletedChunks:  session.CompletedChunks,
		TotalChunks:      session.TotalChunks,
		Status:           session.Status,
	}
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
