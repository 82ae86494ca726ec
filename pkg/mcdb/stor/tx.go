package stor

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const minTxRetry = 3

var txRetry atomic.Int32

// SetTxRetry sets how many times WithTxRetry attempts a transaction. Values below 3
// are raised to 3. When never set, MC_TX_RETRY is consulted.
func SetTxRetry(count int) {
	if count < minTxRetry {
		count = minTxRetry
	}
	txRetry.Store(int32(count))
}

func getTxRetry() int {
	if count := txRetry.Load(); count != 0 {
		return int(count)
	}

	count, err := strconv.ParseInt(os.Getenv("MC_TX_RETRY"), 10, 32)
	if err != nil || count < minTxRetry {
		count = minTxRetry
	}

	SetTxRetry(int(count))
	return int(count)
}

// WithTxRetry runs fn in a transaction, retrying failed transactions. Errors that a
// retry cannot fix (not found, unique violations, and the stor sentinel errors) are
// returned immediately.
func WithTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error

	retryCount := getTxRetry()

	for i := 0; i < retryCount; i++ {
		err = db.Transaction(fn)
		if err == nil || !isRetryable(err) {
			break
		}
	}

	return err
}

func isRetryable(err error) bool {
	switch {
	case IsRecordNotFound(err), IsUniqueViolation(err):
		return false
	case errors.Is(err, ErrCodeInUse), errors.Is(err, ErrSessionNotActive), errors.Is(err, ErrNoReceiver):
		return false
	default:
		return true
	}
}

func IsRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsUniqueViolation reports whether err came from a unique index. Drivers that do not
// translate errors are matched on their message.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
