package mcmodel

import (
	"time"
)

type TransferDirection string

const (
	DirectionSend    TransferDirection = "SEND"
	DirectionReceive TransferDirection = "RECEIVE"
)

func (d TransferDirection) IsValid() bool {
	return d == DirectionSend || d == DirectionReceive
}

// TransferHistory is one participant's record of a concluded session. Records are
// written once and never updated; the store has no update method for them.
type TransferHistory struct {
	ID           int               `json:"id"`
	UUID         string            `json:"uuid"`
	UserID       int               `json:"user_id" gorm:"index"`
	SessionID    int               `json:"session_id" gorm:"uniqueIndex:idx_transfer_history_session_direction"`
	SessionCode  string            `json:"session_code"`
	Direction    TransferDirection `json:"direction" gorm:"size:10;uniqueIndex:idx_transfer_history_session_direction"`
	PeerID       int               `json:"peer_id"`
	PeerName     string            `json:"peer_name"`
	FileName     string            `json:"file_name"`
	FileSize     int64             `json:"file_size"`
	MimeType     string            `json:"mime_type"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"error_message"`
	DurationMS   int64             `json:"duration_ms"`
	CreatedAt    time.Time         `json:"created_at" gorm:"index"`
}

func (TransferHistory) TableName() string {
	return "transfer_histories"
}

// TransferStats aggregates a user's history.
type TransferStats struct {
	Sent         DirectionStats `json:"sent"`
	Received     DirectionStats `json:"received"`
	Total        int64          `json:"total"`
	Successful   int64          `json:"successful"`
	SuccessRatio float64        `json:"success_ratio"`
}

type DirectionStats struct {
	Count      int64 `json:"count"`
	Successful int64 `json:"successful"`
	Bytes      int64 `json:"bytes"`
}
