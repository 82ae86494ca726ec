package xfer

import (
	"context"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/pkg/errors"
)

const (
	maxFileNameLength = 255
	maxDeviceLength   = 255
)

// Registry owns the session lifecycle. Every status change goes through the session
// store's conditional updates; Registry decides which one to attempt and what to do
// once it lands (cleanup, history, notifications).
type Registry struct {
	sessions stor.SessionStor
	staging  *stagingArea
	chunks   *ChunkStore
	history  *HistoryRecorder
	settings config.Settings
	clock    Clock
	codes    CodeGenerator
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

type CreateRequest struct {
	OwnerID   int
	FileName  string
	FileSize  int64
	MimeType  string
	ChunkSize int
	TTL       time.Duration
}

// ProgressUpdate carries the counters a session should have once Chunk is counted.
type ProgressUpdate struct {
	TransferredBytes int64
	CompletedChunks  int
	Chunk            mcmodel.TransferChunk
}

// SessionStatus is the participant view of a session's progress.
type SessionStatus struct {
	SessionCode      string                 `json:"session_code"`
	Status           mcmodel.TransferStatus `json:"status"`
	FileName         string                 `json:"file_name"`
	FileSize         int64                  `json:"file_size"`
	TransferredBytes int64                  `json:"transferred_bytes"`
	CompletedChunks  int                    `json:"completed_chunks"`
	TotalChunks      int                    `json:"total_chunks"`
	PeerConnected    bool                   `json:"peer_connected"`
	ExpiresAt        time.Time              `json:"expires_at"`
}

// Create validates req, allocates a code and persists a PENDING session.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*mcmodel.TransferSession, error) {
	fileName := strings.TrimSpace(filepath.Base(strings.ReplaceAll(req.FileName, "\\", "/")))
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = r.settings.DefaultChunkSize
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = r.settings.SessionTTL
	}

	switch {
	case strings.TrimSpace(req.FileName) == "" || fileName == "." || fileName == "/":
		return nil, newError(KindValidation, "file name is required")
	case len(fileName) > maxFileNameLength:
		return nil, newError(KindValidation, "file name is longer than %d bytes", maxFileNameLength)
	case req.FileSize <= 0:
		return nil, newError(KindValidation, "file size must be positive")
	case req.FileSize > r.settings.MaxFileSize:
		return nil, newError(KindValidation, "file size %d exceeds the maximum of %d", req.FileSize, r.settings.MaxFileSize)
	case chunkSize < r.settings.MinChunkSize || chunkSize > r.settings.MaxChunkSize:
		return nil, newError(KindValidation, "chunk size %d is outside [%d, %d]", chunkSize, r.settings.MinChunkSize, r.settings.MaxChunkSize)
	case ttl < 0:
		return nil, newError(KindValidation, "ttl must be positive")
	}

	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = mimeTypeByExtension(fileName)
	}

	attempts := r.settings.CodeAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		code, err := r.codes.Generate()
		if err != nil {
			return nil, wrapError(KindAllocation, err, "unable to generate a session code")
		}

		inUse, err := r.sessions.CodeInUse(code)
		if err != nil {
			return nil, wrapError(KindStorageFault, err, "unable to check session code")
		}

		if inUse {
			continue
		}

		now := r.clock.Now()
		session, err := r.sessions.CreateSession(&mcmodel.TransferSession{
			SessionCode: code,
			SenderID:    req.OwnerID,
			FileName:    fileName,
			FileSize:    req.FileSize,
			MimeType:    mimeType,
			ChunkSize:   chunkSize,
			TotalChunks: mcmodel.TotalChunksFor(req.FileSize, chunkSize),
			ExpiresAt:   now.Add(ttl),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		switch {
		case errors.Is(err, stor.ErrCodeInUse):
			continue
		case err != nil:
			return nil, wrapError(KindStorageFault, err, "unable to create session")
		}

		r.metrics.SessionsCreated.Inc()
		clog.ForSession(code).Infof("Created session %d for user %d: %s (%d bytes, %d chunks of %d)",
			session.ID, req.OwnerID, fileName, req.FileSize, session.TotalChunks, chunkSize)
		return session, nil
	}

	clog.Global().Warnf("Unable to allocate a session code after %d attempts", attempts)
	return nil, newError(KindAllocation, "unable to allocate a session code, try again later")
}

// Join attaches joinerID as the receiver of the PENDING session identified by code.
// When two receivers race, exactly one wins; the other gets a StateError.
func (r *Registry) Join(ctx context.Context, code string, joinerID int, device string) (*mcmodel.TransferSession, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	switch {
	case session.Status == mcmodel.StatusExpired:
		return nil, newError(KindExpired, "session %s has expired", code)
	case r.expiredAt(session, now):
		r.expireLazily(ctx, session, now)
		return nil, newError(KindExpired, "session %s has expired", code)
	case session.IsSender(joinerID):
		return nil, newError(KindInvalidOperation, "cannot join your own session")
	case session.Status != mcmodel.StatusPending:
		return nil, newError(KindState, "session %s is %s and cannot be joined", code, session.Status)
	}

	device = truncateUTF8(device, maxDeviceLength)

	won, err := r.sessions.JoinSession(session.ID, joinerID, device, now)
	if err != nil {
		return nil, wrapError(KindStorageFault, err, "unable to join session")
	}

	joined, err := r.sessions.GetSessionByID(session.ID)
	if err != nil {
		return nil, wrapError(KindStorageFault, err, "unable to load session")
	}

	if !won {
		if joined.Status == mcmodel.StatusExpired {
			return nil, newError(KindExpired, "session %s has expired", code)
		}
		return nil, newError(KindState, "session %s is %s and cannot be joined", code, joined.Status)
	}

	clog.ForSession(code).Infof("User %d joined session %d from device %q", joinerID, session.ID, device)

	payload := map[string]interface{}{"receiver_id": joinerID, "device": device}
	if joined.Receiver != nil {
		payload["receiver_name"] = joined.Receiver.Name
	}
	r.notify(joined.SenderID, joined, notify.EventSessionJoined, payload)

	return joined, nil
}

// Get returns the session to either participant.
func (r *Registry) Get(_ context.Context, code string, requesterID int) (*mcmodel.TransferSession, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, err
	}

	if !session.IsParticipant(requesterID) {
		return nil, newError(KindPermission, "not a participant in session %s", code)
	}

	return session, nil
}

func (r *Registry) Status(ctx context.Context, code string, requesterID int) (*SessionStatus, error) {
	session, err := r.Get(ctx, code, requesterID)
	if err != nil {
		return nil, err
	}

	return &SessionStatus{
		SessionCode:      session.SessionCode,
		Status:           session.Status,
		FileName:         session.FileName,
		FileSize:         session.FileSize,
		TransferredBytes: session.TransferredBytes,
		CompletedChunks:  session.CompletedChunks,
		TotalChunks:      session.TotalChunks,
		PeerConnected:    session.HasReceiver(),
		ExpiresAt:        session.ExpiresAt,
	}, nil
}

// Cancel moves a non-terminal session to CANCELLED on behalf of a participant and
// removes its staging data. Chunks already written are not undone; later chunks are
// refused because every save re-reads the status.
func (r *Registry) Cancel(ctx context.Context, code string, requesterID int) (*mcmodel.TransferSession, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, err
	}

	if !session.IsParticipant(requesterID) {
		return nil, newError(KindPermission, "not a participant in session %s", code)
	}

	if session.Status.IsTerminal() {
		return nil, newError(KindState, "session %s is already %s", code, session.Status)
	}

	now := r.clock.Now()
	ok, err := r.sessions.TransitionSession(session.ID, mcmodel.StatusCancelled, now, "")
	if err != nil {
		return nil, wrapError(KindStorageFault, err, "unable to cancel session")
	}

	cancelled, err := r.sessions.GetSessionByID(session.ID)
	if err != nil {
		return nil, wrapError(KindStorageFault, err, "unable to load session")
	}

	if !ok {
		return nil, newError(KindState, "session %s is already %s", code, cancelled.Status)
	}

	r.removeStaging(cancelled)
	r.metrics.SessionsFinished.WithLabelValues(string(mcmodel.StatusCancelled)).Inc()
	clog.ForSession(code).Infof("Session %d cancelled by user %d", session.ID, requesterID)

	payload := map[string]interface{}{"cancelled_by": requesterID}
	for _, userID := range participants(cancelled) {
		if userID != requesterID {
			r.notify(userID, cancelled, notify.EventSessionCancelled, payload)
		}
	}

	return cancelled, nil
}

// RecordProgress counts a chunk against the session identified by code. It is
// monotonic and idempotent; see stor.SessionStor.RecordChunkProgress.
func (r *Registry) RecordProgress(ctx context.Context, code string, update ProgressUpdate) (*stor.ProgressResult, error) {
	session, err := r.lookup(code)
	if err != nil {
		return nil, err
	}

	return r.recordProgress(ctx, session, update)
}

func (r *Registry) recordProgress(ctx context.Context, session *mcmodel.TransferSession, update ProgressUpdate) (*stor.ProgressResult, error) {
	result, err := r.sessions.RecordChunkProgress(session.ID, stor.ChunkProgress{
		Chunk:            update.Chunk,
		TransferredBytes: update.TransferredBytes,
		CompletedChunks:  update.CompletedChunks,
		At:               r.clock.Now(),
	})

	switch {
	case errors.Is(err, stor.ErrSessionNotActive):
		status := session.Status
		if result != nil && result.Session != nil {
			status = result.Session.Status
		}
		return nil, newError(KindState, "session %s is %s and not accepting chunks", session.SessionCode, status)
	case errors.Is(err, stor.ErrNoReceiver):
		return nil, newError(KindState, "session %s has no receiver", session.SessionCode)
	case err != nil:
		return nil, wrapError(KindStorageFault, err, "unable to record progress")
	}

	if result.Started {
		if receiverID := result.Session.ReceiverID; receiverID != nil {
			r.notify(*receiverID, result.Session, notify.EventTransferStarted, nil)
		}
	}

	if result.Completed {
		r.onCompleted(ctx, result.Session)
	}

	return result, nil
}

func (r *Registry) onCompleted(ctx context.Context, session *mcmodel.TransferSession) {
	log := clog.ForSession(session.SessionCode)

	if err := r.staging.finalize(session); err != nil {
		log.Errorf("Unable to finalize staging file for session %d: %s", session.ID, err)
	}

	r.metrics.SessionsFinished.WithLabelValues(string(mcmodel.StatusCompleted)).Inc()
	log.Infof("Session %d completed: %d bytes in %d chunks", session.ID, session.TransferredBytes, session.CompletedChunks)

	full, err := r.sessions.GetSessionByID(session.ID)
	if err != nil {
		log.Errorf("Unable to reload completed session %d: %s", session.ID, err)
		full = session
	}

	if err := r.history.OnComplete(ctx, full); err != nil {
		log.Errorf("Unable to record history for session %d: %s", session.ID, err)
	}

	for _, userID := range participants(full) {
		r.notify(userID, full, notify.EventSessionCompleted, nil)
	}
}

// Fail moves the session identified by code to FAILED. cause is kept internally and
// only logged; participants see a generic message.
func (r *Registry) Fail(ctx context.Context, code string, cause error) error {
	session, err := r.lookup(code)
	if err != nil {
		return err
	}

	return r.fail(ctx, session, cause)
}

func (r *Registry) fail(ctx context.Context, session *mcmodel.TransferSession, cause error) error {
	log := clog.ForSession(session.SessionCode)
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	ok, err := r.sessions.TransitionSession(session.ID, mcmodel.StatusFailed, r.clock.Now(), reason)
	if err != nil {
		return wrapError(KindStorageFault, err, "unable to fail session")
	}

	if !ok {
		return newError(KindState, "session %s is already terminal", session.SessionCode)
	}

	log.Errorf("Session %d failed: %s", session.ID, reason)
	r.removeStaging(session)
	r.metrics.SessionsFinished.WithLabelValues(string(mcmodel.StatusFailed)).Inc()

	failed, err := r.sessions.GetSessionByID(session.ID)
	if err != nil {
		log.Errorf("Unable to reload failed session %d: %s", session.ID, err)
		return nil
	}

	if err := r.history.OnFail(ctx, failed, PublicMessage(cause)); err != nil {
		log.Errorf("Unable to record history for failed session %d: %s", session.ID, err)
	}

	for _, userID := range participants(failed) {
		r.notify(userID, failed, notify.EventSessionFailed, nil)
	}

	return nil
}

// expire moves a PENDING or CONNECTED session to EXPIRED. It reports false when the
// session had already moved on.
func (r *Registry) expire(_ context.Context, session *mcmodel.TransferSession, now time.Time) (bool, error) {
	ok, err := r.sessions.TransitionSession(session.ID, mcmodel.StatusExpired, now, "")
	if err != nil || !ok {
		return false, err
	}

	expired := *session
	expired.Status = mcmodel.StatusExpired
	expired.ActiveCode = nil

	r.removeStaging(&expired)
	r.metrics.SessionsFinished.WithLabelValues(string(mcmodel.StatusExpired)).Inc()
	clog.ForSession(session.SessionCode).Infof("Session %d expired", session.ID)

	for _, userID := range participants(&expired) {
		r.notify(userID, &expired, notify.EventSessionExpired, nil)
	}

	return true, nil
}

func (r *Registry) expireLazily(ctx context.Context, session *mcmodel.TransferSession, now time.Time) {
	if _, err := r.expire(ctx, session, now); err != nil {
		clog.ForSession(session.SessionCode).Errorf("Unable to expire session %d: %s", session.ID, err)
	}
}

// expiredAt reports whether session is in a status that times out and its deadline
// has passed.
func (r *Registry) expiredAt(session *mcmodel.TransferSession, now time.Time) bool {
	switch session.Status {
	case mcmodel.StatusPending, mcmodel.StatusConnected:
		return session.PastDeadline(now)
	default:
		return false
	}
}

func (r *Registry) lookup(code string) (*mcmodel.TransferSession, error) {
	if !ValidCode(code) {
		return nil, newError(KindNotFound, "session %s not found", code)
	}

	session, err := r.sessions.GetSessionByCode(code)
	switch {
	case stor.IsRecordNotFound(err):
		return nil, newError(KindNotFound, "session %s not found", code)
	case err != nil:
		return nil, wrapError(KindStorageFault, err, "unable to load session")
	}

	return session, nil
}

func (r *Registry) removeStaging(session *mcmodel.TransferSession) {
	if err := r.chunks.Remove(session); err != nil {
		r.logStagingError(session, err)
	}
}

func (r *Registry) logStagingError(session *mcmodel.TransferSession, err error) {
	if sandbox.IsPathViolation(err) {
		r.metrics.PathViolations.Inc()
		clog.Security().Warnf("Staging path for session %d (%s) escapes the temp root: %s", session.ID, session.SessionCode, err)
		return
	}

	clog.ForSession(session.SessionCode).Errorf("Unable to remove staging data for session %d: %s", session.ID, err)
}

// notify is best effort; failures are logged and never returned.
func (r *Registry) notify(userID int, session *mcmodel.TransferSession, event string, payload any) {
	msg := notify.Message{
		Event:       event,
		SessionCode: session.SessionCode,
		Status:      string(session.Status),
		Timestamp:   r.clock.Now(),
		Payload:     payload,
	}

	if err := r.notifier.Notify(userID, msg); err != nil {
		clog.ForSession(session.SessionCode).Warnf("Unable to notify user %d of %s: %s", userID, event, err)
	}
}

// truncateUTF8 shortens s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}

func participants(session *mcmodel.TransferSession) []int {
	users := []int{session.SenderID}
	if session.ReceiverID != nil {
		users = append(users, *session.ReceiverID)
	}

	return users
}
