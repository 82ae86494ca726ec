package stor

import (
	"time"

	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	// ErrCodeInUse is returned by CreateSession when another non-terminal session
	// holds the code.
	ErrCodeInUse = errors.New("session code in use")

	// ErrSessionNotActive is returned when a progress update targets a session that
	// is not CONNECTED or TRANSFERRING.
	ErrSessionNotActive = errors.New("session not accepting chunks")

	// ErrNoReceiver is returned when the last chunk arrives for a session without a
	// receiver.
	ErrNoReceiver = errors.New("session has no receiver")
)

// ChunkProgress is a request to account for one accepted chunk. TransferredBytes and
// CompletedChunks are the counters as they should be after the chunk is counted.
type ChunkProgress struct {
	Chunk            mcmodel.TransferChunk
	TransferredBytes int64
	CompletedChunks  int
	At               time.Time
}

// ProgressResult reports the outcome of RecordChunkProgress.
type ProgressResult struct {
	Session *mcmodel.TransferSession

	// Accepted is false when the chunk index was already counted.
	Accepted bool

	// Started is true when this update moved the session out of CONNECTED.
	Started bool

	// Completed is true when this update moved the session to COMPLETED.
	Completed bool
}

type SessionStor interface {
	CreateSession(session *mcmodel.TransferSession) (*mcmodel.TransferSession, error)
	CodeInUse(code string) (bool, error)
	GetSessionByID(id int) (*mcmodel.TransferSession, error)
	GetSessionByCode(code string) (*mcmodel.TransferSession, error)
	JoinSession(id, receiverID int, device string, at time.Time) (bool, error)
	TransitionSession(id int, to mcmodel.TransferStatus, at time.Time, reason string) (bool, error)
	SetStagingPath(id int, path string) error
	RecordChunkProgress(sessionID int, progress ChunkProgress) (*ProgressResult, error)
	GetChunk(sessionID, index int) (*mcmodel.TransferChunk, error)
	CountChunks(sessionID int) (int64, error)
	ListExpirable(now time.Time, limit int) ([]mcmodel.TransferSession, error)
	ListReclaimable(completedBefore time.Time, limit int) ([]mcmodel.TransferSession, error)
	ListLiveStagingPaths() ([]string, error)
	MarkDownloaded(id int, at time.Time) error
	MarkFileReclaimed(id int, at time.Time) error
}

type HistoryStor interface {
	CreateHistoryRecords(records []mcmodel.TransferHistory) error
	ListHistoryForUser(userID int, direction mcmodel.TransferDirection, offset, limit int) ([]mcmodel.TransferHistory, int64, error)
	GetHistoryForSession(sessionID int) ([]mcmodel.TransferHistory, error)
	GetStatsForUser(userID int) (*mcmodel.TransferStats, error)
	DeleteHistoryCreatedBefore(cutoff time.Time) (int64, error)
}

type UserStor interface {
	CreateUser(user *mcmodel.User) (*mcmodel.User, error)
	GetUserByID(id int) (*mcmodel.User, error)
	GetUserByEmail(email string) (*mcmodel.User, error)
	GetUserByAPIToken(apitoken string) (*mcmodel.User, error)
}

type Stors struct {
	SessionStor SessionStor
	HistoryStor HistoryStor
	UserStor    UserStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		SessionStor: NewGormSessionStor(db),
		HistoryStor: NewGormHistoryStor(db),
		UserStor:    NewGormUserStor(db),
	}
}
