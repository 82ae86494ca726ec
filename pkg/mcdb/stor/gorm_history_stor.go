package stor

import (
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
)

// GormHistoryStor is append only; records are never updated.
type GormHistoryStor struct {
	db *gorm.DB
}

func NewGormHistoryStor(db *gorm.DB) *GormHistoryStor {
	return &GormHistoryStor{db: db}
}

// CreateHistoryRecords inserts records in one transaction. A record for a
// (session, direction) pair that already exists fails the whole batch with a unique
// violation.
func (s *GormHistoryStor) CreateHistoryRecords(records []mcmodel.TransferHistory) error {
	var err error

	for i := range records {
		if records[i].UUID, err = uuid.GenerateUUID(); err != nil {
			return err
		}
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
}

// ListHistoryForUser returns a most recent first page of the user's records and the
// total number of matching records. An empty direction matches both directions.
func (s *GormHistoryStor) ListHistoryForUser(userID int, direction mcmodel.TransferDirection, offset, limit int) ([]mcmodel.TransferHistory, int64, error) {
	var (
		records []mcmodel.TransferHistory
		total   int64
	)

	query := func() *gorm.DB {
		q := s.db.Model(&mcmodel.TransferHistory{}).Where("user_id = ?", userID)
		if direction != "" {
			q = q.Where("direction = ?", string(direction))
		}
		return q
	}

	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query().Order("created_at desc").Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func (s *GormHistoryStor) GetHistoryForSession(sessionID int) ([]mcmodel.TransferHistory, error) {
	var records []mcmodel.TransferHistory
	err := s.db.Where("session_id = ?", sessionID).Order("direction desc").Find(&records).Error
	return records, err
}

type directionStatsRow struct {
	Direction  string
	Count      int64
	Successful int64
	Bytes      int64
}

func (s *GormHistoryStor) GetStatsForUser(userID int) (*mcmodel.TransferStats, error) {
	var rows []directionStatsRow
	err := s.db.Model(&mcmodel.TransferHistory{}).
		Select("direction, count(*) as count, " +
			"coalesce(sum(case when success then 1 else 0 end), 0) as successful, " +
			"coalesce(sum(file_size), 0) as bytes").
		Where("user_id = ?", userID).
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var stats mcmodel.TransferStats
	for _, row := range rows {
		d := mcmodel.DirectionStats{Count: row.Count, Successful: row.Successful, Bytes: row.Bytes}
		switch mcmodel.TransferDirection(row.Direction) {
		case mcmodel.DirectionSend:
			stats.Sent = d
		case mcmodel.DirectionReceive:
			stats.Received = d
		}
		stats.Total += row.Count
		stats.Successful += row.Successful
	}

	if stats.Total != 0 {
		stats.SuccessRatio = float64(stats.Successful) / float64(stats.Total)
	}

	return &stats, nil
}

func (s *GormHistoryStor) DeleteHistoryCreatedBefore(cutoff time.Time) (int64, error) {
	var deleted int64
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		result := tx.Where("created_at < ?", cutoff).Delete(&mcmodel.TransferHistory{})
		deleted = result.RowsAffected
		return result.Error
	})

	return deleted, err
}
