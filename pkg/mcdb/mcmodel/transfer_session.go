package mcmodel

import (
	"time"
)

// TransferSession is a single sender to single receiver file handoff.
//
// ActiveCode holds SessionCode while the session is not terminal and is NULL
// afterwards. Its unique index is what keeps a code from being issued twice while
// it is still in use, while allowing codes to be reused once sessions finish.
type TransferSession struct {
	ID               int            `json:"id"`
	SessionCode      string         `json:"session_code" gorm:"size:6;index"`
	ActiveCode       *string        `json:"-" gorm:"size:6;uniqueIndex"`
	SenderID         int            `json:"sender_id" gorm:"index"`
	Sender           *User          `json:"-" gorm:"foreignKey:SenderID;references:ID"`
	ReceiverID       *int           `json:"receiver_id" gorm:"index"`
	Receiver         *User          `json:"-" gorm:"foreignKey:ReceiverID;references:ID"`
	ReceiverDevice   string         `json:"receiver_device"`
	FileName         string         `json:"file_name"`
	FileSize         int64          `json:"file_size"`
	MimeType         string         `json:"mime_type"`
	ChunkSize        int            `json:"chunk_size"`
	TotalChunks      int            `json:"total_chunks"`
	TransferredBytes int64          `json:"transferred_bytes"`
	CompletedChunks  int            `json:"completed_chunks"`
	Status           TransferStatus `json:"status" gorm:"size:20;index"`
	StagingPath      string         `json:"-"`
	FailureReason    string         `json:"-"`
	ExpiresAt        time.Time      `json:"expires_at" gorm:"index"`
	ConnectedAt      *time.Time     `json:"connected_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	DownloadedAt     *time.Time     `json:"downloaded_at"`
	FileReclaimedAt  *time.Time     `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (TransferSession) TableName() string {
	return "transfer_sessions"
}

func (s *TransferSession) IsSender(userID int) bool {
	return s.SenderID == userID
}

func (s *TransferSession) IsReceiver(userID int) bool {
	return s.ReceiverID != nil && *s.ReceiverID == userID
}

func (s *TransferSession) IsParticipant(userID int) bool {
	return s.IsSender(userID) || s.IsReceiver(userID)
}

func (s *TransferSession) HasReceiver() bool {
	return s.ReceiverID != nil
}

// PastDeadline is true once now is after ExpiresAt.
func (s *TransferSession) PastDeadline(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ChunkOffset is the byte offset chunk index starts at.
func (s *TransferSession) ChunkOffset(index int) int64 {
	return int64(index) * int64(s.ChunkSize)
}

// ChunkLength is the number of bytes chunk index covers. Every chunk is ChunkSize
// except the last, which holds the remainder. Out of range indexes return 0.
func (s *TransferSession) ChunkLength(index int) int {
	if index < 0 || index >= s.TotalChunks {
		return 0
	}

	remaining := s.FileSize - s.ChunkOffset(index)
	if remaining < int64(s.ChunkSize) {
		return int(remaining)
	}

	return s.ChunkSize
}

// TotalChunksFor returns ceil(fileSize / chunkSize).
func TotalChunksFor(fileSize int64, chunkSize int) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}

	return int((fileSize + int64(chunkSize) - 1) / int64(chunkSize))
}
