package xfer

import (
	"context"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// HistoryRecorder writes one record per participant when a session with a receiver
// completes or fails. Records are never modified afterwards.
type HistoryRecorder struct {
	history stor.HistoryStor
	users   stor.UserStor
	clock   Clock
}

type Page struct {
	Number int
	Size   int
}

type HistoryPage struct {
	Records []mcmodel.TransferHistory `json:"records"`
	Total   int64                     `json:"total"`
	Page    int                       `json:"page"`
	PerPage int                       `json:"per_page"`
}

// OnComplete records a successful transfer for both participants.
func (h *HistoryRecorder) OnComplete(ctx context.Context, session *mcmodel.TransferSession) error {
	end := h.clock.Now()
	if session.CompletedAt != nil {
		end = *session.CompletedAt
	}

	return h.record(ctx, session, true, "", end)
}

// OnFail records a failed transfer for both participants. Sessions that never had a
// receiver are not recorded.
func (h *HistoryRecorder) OnFail(ctx context.Context, session *mcmodel.TransferSession, errorMessage string) error {
	return h.record(ctx, session, false, errorMessage, h.clock.Now())
}

func (h *HistoryRecorder) record(_ context.Context, session *mcmodel.TransferSession, success bool, errorMessage string, end time.Time) error {
	if !session.HasReceiver() {
		return nil
	}

	receiverID := *session.ReceiverID

	var duration time.Duration
	if session.ConnectedAt != nil && end.After(*session.ConnectedAt) {
		duration = end.Sub(*session.ConnectedAt)
	}

	base := mcmodel.TransferHistory{
		SessionID:    session.ID,
		SessionCode:  session.SessionCode,
		FileName:     session.FileName,
		FileSize:     session.FileSize,
		MimeType:     session.MimeType,
		Success:      success,
		ErrorMessage: errorMessage,
		DurationMS:   duration.Milliseconds(),
		CreatedAt:    end,
	}

	send := base
	send.UserID = session.SenderID
	send.Direction = mcmodel.DirectionSend
	send.PeerID = receiverID
	send.PeerName = h.userName(session.Receiver, receiverID)

	receive := base
	receive.UserID = receiverID
	receive.Direction = mcmodel.DirectionReceive
	receive.PeerID = session.SenderID
	receive.PeerName = h.userName(session.Sender, session.SenderID)

	err := h.history.CreateHistoryRecords([]mcmodel.TransferHistory{send, receive})
	if stor.IsUniqueViolation(err) {
		clog.ForSession(session.SessionCode).Debugf("History for session %d already recorded", session.ID)
		return nil
	}

	return err
}

func (h *HistoryRecorder) userName(user *mcmodel.User, id int) string {
	if user != nil {
		return user.Name
	}

	if u, err := h.users.GetUserByID(id); err == nil {
		return u.Name
	}

	return ""
}

// Query returns a most recent first page of userID's history. An empty direction
// matches both directions; page number and size of 0 select the defaults.
func (h *HistoryRecorder) Query(_ context.Context, userID int, direction mcmodel.TransferDirection, page Page) (*HistoryPage, error) {
	if direction != "" && !direction.IsValid() {
		return nil, newError(KindValidation, "direction must be %s or %s", mcmodel.DirectionSend, mcmodel.DirectionReceive)
	}

	if page.Number == 0 {
		page.Number = 1
	}

	if page.Size == 0 {
		page.Size = defaultPageSize
	}

	switch {
	case page.Number < 1:
		return nil, newError(KindValidation, "page must be at least 1")
	case page.Size < 1 || page.Size > maxPageSize:
		return nil, newError(KindValidation, "per_page must be between 1 and %d", maxPageSize)
	}

	records, total, err := h.history.ListHistoryForUser(userID, direction, (page.Number-1)*page.Size, page.Size)
	if err != nil {
		return nil, wrapError(KindStorageFault, err, "unable to load history")
	}

	if records == nil {
		records = []mcmodel.TransferHistory{}
	}

	return &HistoryPage{Records: records, Total: total, Page: page.Number, PerPage: page.Size}, nil
}

func (h *HistoryRecorder) Stats(_ context.Context, userID int) (*mcmodel.TransferStats, error) {
	stats, err := h.history.GetStatsForUser(userID)
	if err != nil {
		return nil, wrapError(KindStorageFault, err, "unable to load history stats")
	}

	return stats, nil
}

// PurgeOlderThan deletes records created before cutoff and returns how many were
// removed.
func (h *HistoryRecorder) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	deleted, err := h.history.DeleteHistoryCreatedBefore(cutoff)
	if err != nil {
		return 0, wrapError(KindStorageFault, err, "unable to purge history")
	}

	if deleted != 0 {
		clog.Global().Infof("Purged %d history records created before %s", deleted, cutoff.Format(time.RFC3339))
	}

	return deleted, nil
}
