package stor

import (
	"time"

	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSessionStor persists TransferSessions. Status is only ever written through
// conditional updates guarded by the statuses allowed to reach the target, so two
// racing callers cannot both move a session.
type GormSessionStor struct {
	db *gorm.DB
}

func NewGormSessionStor(db *gorm.DB) *GormSessionStor {
	return &GormSessionStor{db: db}
}

// CreateSession inserts session as PENDING and claims its code. ErrCodeInUse is
// returned when the code is held by another non-terminal session.
func (s *GormSessionStor) CreateSession(session *mcmodel.TransferSession) (*mcmodel.TransferSession, error) {
	code := session.SessionCode
	session.ActiveCode = &code
	session.Status = mcmodel.StatusPending

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(session).Error
	})

	switch {
	case IsUniqueViolation(err):
		return nil, ErrCodeInUse
	case err != nil:
		return nil, err
	}

	return session, nil
}

func (s *GormSessionStor) CodeInUse(code string) (bool, error) {
	var count int64
	err := s.db.Model(&mcmodel.TransferSession{}).Where("active_code = ?", code).Count(&count).Error
	return count != 0, err
}

func (s *GormSessionStor) GetSessionByID(id int) (*mcmodel.TransferSession, error) {
	var session mcmodel.TransferSession
	err := s.db.Preload("Sender").Preload("Receiver").First(&session, id).Error
	if err != nil {
		return nil, err
	}

	return &session, nil
}

// GetSessionByCode returns the most recent session issued with code. Codes are reused
// once sessions finish, so older sessions with the same code are shadowed.
func (s *GormSessionStor) GetSessionByCode(code string) (*mcmodel.TransferSession, error) {
	var session mcmodel.TransferSession
	err := s.db.Preload("Sender").Preload("Receiver").
		Where("session_code = ?", code).
		Order("id desc").
		First(&session).Error
	if err != nil {
		return nil, err
	}

	return &session, nil
}

// JoinSession attaches the receiver to a PENDING session. It returns false when the
// session was no longer PENDING at update time, which is how the loser of two racing
// joins finds out.
func (s *GormSessionStor) JoinSession(id, receiverID int, device string, at time.Time) (bool, error) {
	var affected int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Model(&mcmodel.TransferSession{}).
			Where("id = ? AND status = ?", id, string(mcmodel.StatusPending)).
			Updates(map[string]interface{}{
				"status":          string(mcmodel.StatusConnected),
				"receiver_id":     receiverID,
				"receiver_device": device,
				"connected_at":    at,
				"updated_at":      at,
			})
		affected = result.RowsAffected
		return result.Error
	})

	return affected == 1, err
}

// TransitionSession moves session id to a terminal status (CANCELLED, EXPIRED,
// FAILED) or COMPLETED, but only if its current status may transition there. The
// active code is released for terminal statuses. It returns false when the guard did
// not match.
func (s *GormSessionStor) TransitionSession(id int, to mcmodel.TransferStatus, at time.Time, reason string) (bool, error) {
	if to == mcmodel.StatusConnected {
		return false, errors.New("use JoinSession to connect a session")
	}

	sources := mcmodel.SourcesFor(to)
	if len(sources) == 0 {
		return false, errors.Errorf("no status can transition to %s", to)
	}

	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": at,
	}

	if to.IsTerminal() {
		updates["active_code"] = nil
	}

	switch to {
	case mcmodel.StatusCompleted:
		updates["completed_at"] = at
	case mcmodel.StatusFailed:
		updates["failure_reason"] = reason
	}

	var affected int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Model(&mcmodel.TransferSession{}).
			Where("id = ? AND status IN ?", id, statusStrings(sources)).
			Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})

	return affected == 1, err
}

func (s *GormSessionStor) SetStagingPath(id int, path string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.TransferSession{}).
			Where("id = ?", id).
			Update("staging_path", path).Error
	})
}

// RecordChunkProgress counts one chunk. Within a single transaction it inserts the
// chunk receipt, advances the counters (clamped to the file size and chunk count),
// and moves the session to TRANSFERRING and, once every chunk is counted, COMPLETED.
// A chunk index that was already counted, whatever the session's status, or counters
// that do not advance, leave the session untouched and report Accepted=false.
func (s *GormSessionStor) RecordChunkProgress(sessionID int, progress ChunkProgress) (*ProgressResult, error) {
	var result ProgressResult

	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result = ProgressResult{}

		var session mcmodel.TransferSession
		if err := tx.First(&session, sessionID).Error; err != nil {
			return err
		}

		var count int64
		err := tx.Model(&mcmodel.TransferChunk{}).
			Where("session_id = ? AND chunk_index = ?", sessionID, progress.Chunk.ChunkIndex).
			Count(&count).Error
		if err != nil {
			return err
		}

		// A counted index stays a no-op even after the session has finished.
		if count != 0 {
			result.Session = &session
			return nil
		}

		if session.Status != mcmodel.StatusConnected && session.Status != mcmodel.StatusTransferring {
			result.Session = &session
			return ErrSessionNotActive
		}

		if progress.CompletedChunks <= session.CompletedChunks {
			result.Session = &session
			return nil
		}

		chunk := progress.Chunk
		chunk.ID = 0
		chunk.SessionID = sessionID
		chunk.CreatedAt = progress.At
		if err := tx.Create(&chunk).Error; err != nil {
			return err
		}

		completed := min(progress.CompletedChunks, session.TotalChunks)
		transferred := min(progress.TransferredBytes, session.FileSize)
		next := mcmodel.StatusTransferring
		updates := map[string]interface{}{
			"completed_chunks":  completed,
			"transferred_bytes": transferred,
			"updated_at":        progress.At,
		}

		if session.Status == mcmodel.StatusConnected {
			result.Started = true
		}

		if completed == session.TotalChunks {
			if !session.HasReceiver() {
				return ErrNoReceiver
			}
			next = mcmodel.StatusCompleted
			updates["completed_at"] = progress.At
			updates["active_code"] = nil
			result.Completed = true
		}

		updates["status"] = string(next)

		update := tx.Model(&mcmodel.TransferSession{}).
			Where("id = ? AND status = ? AND completed_chunks = ?", sessionID, string(session.Status), session.CompletedChunks).
			Updates(updates)
		if update.Error != nil {
			return update.Error
		}

		if update.RowsAffected != 1 {
			return ErrSessionNotActive
		}

		var updated mcmodel.TransferSession
		if err := tx.First(&updated, sessionID).Error; err != nil {
			return err
		}

		result.Session = &updated
		result.Accepted = true
		return nil
	})

	if err != nil {
		return &result, err
	}

	return &result, nil
}

func (s *GormSessionStor) GetChunk(sessionID, index int) (*mcmodel.TransferChunk, error) {
	var chunk mcmodel.TransferChunk
	err := s.db.Where("session_id = ? AND chunk_index = ?", sessionID, index).First(&chunk).Error
	if err != nil {
		return nil, err
	}

	return &chunk, nil
}

func (s *GormSessionStor) CountChunks(sessionID int) (int64, error) {
	var count int64
	err := s.db.Model(&mcmodel.TransferChunk{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

// ListExpirable returns up to limit sessions that are PENDING or CONNECTED and whose
// expires_at is before now.
func (s *GormSessionStor) ListExpirable(now time.Time, limit int) ([]mcmodel.TransferSession, error) {
	var sessions []mcmodel.TransferSession
	err := s.db.Where("status IN ? AND expires_at < ?", statusStrings(mcmodel.SourcesFor(mcmodel.StatusExpired)), now).
		Order("expires_at").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListReclaimable returns up to limit COMPLETED sessions finished before
// completedBefore whose file is still on disk.
func (s *GormSessionStor) ListReclaimable(completedBefore time.Time, limit int) ([]mcmodel.TransferSession, error) {
	var sessions []mcmodel.TransferSession
	err := s.db.Where("status = ? AND completed_at < ? AND file_reclaimed_at IS NULL",
		string(mcmodel.StatusCompleted), completedBefore).
		Order("completed_at").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListLiveStagingPaths returns the staging paths that must stay on disk: those of
// non-terminal sessions and of completed sessions whose file has not been reclaimed.
func (s *GormSessionStor) ListLiveStagingPaths() ([]string, error) {
	var paths []string
	err := s.db.Model(&mcmodel.TransferSession{}).
		Where("staging_path <> ''").
		Where("status IN ? OR (status = ? AND file_reclaimed_at IS NULL)",
			statusStrings(mcmodel.ActiveStatuses()), string(mcmodel.StatusCompleted)).
		Pluck("staging_path", &paths).Error
	return paths, err
}

// MarkDownloaded stamps downloaded_at the first time the file is downloaded.
func (s *GormSessionStor) MarkDownloaded(id int, at time.Time) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.TransferSession{}).
			Where("id = ? AND downloaded_at IS NULL", id).
			Update("downloaded_at", at).Error
	})
}

func (s *GormSessionStor) MarkFileReclaimed(id int, at time.Time) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(&mcmodel.TransferSession{}).
			Where("id = ?", id).
			Update("file_reclaimed_at", at).Error
	})
}

func statusStrings(statuses []mcmodel.TransferStatus) []string {
	s := make([]string, 0, len(statuses))
	for _, status := range statuses {
		s = append(s, string(status))
	}

	return s
}
