package mcmodel

import "time"

// TransferChunk records that a chunk index of a session has been accepted. The
// unique (session_id, chunk_index) pair is the set of distinct indexes received.
type TransferChunk struct {
	ID         int       `json:"id"`
	SessionID  int       `json:"session_id" gorm:"uniqueIndex:idx_transfer_chunk_session_index"`
	ChunkIndex int       `json:"chunk_index" gorm:"uniqueIndex:idx_transfer_chunk_session_index"`
	Size       int       `json:"size"`
	Hash       string    `json:"hash" gorm:"size:64"`
	CreatedAt  time.Time `json:"created_at"`
}

func (TransferChunk) TableName() string {
	return "transfer_chunks"
}
