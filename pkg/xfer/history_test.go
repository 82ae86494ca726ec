package xfer

import (
	"testing"
	"time"

	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/stretchr/testify/require"
)

// completeTransfer runs a single chunk transfer of size bytes from sender to
// receiver.
func (e *testEnv) completeTransfer(size int) *mcmodel.TransferSession {
	data := randomBytes(e.t, size)
	session := e.connected(int64(size), size)
	e.clock.Advance(2 * time.Second)
	_, err := e.upload(session, data, 0)
	require.NoError(e.t, err)
	return e.reload(session.SessionCode)
}

func TestHistoryRecordsDurationAndPeers(t *testing.T) {
	env := newTestEnv(t)
	session := env.completeTransfer(8)

	records, err := env.stors.HistoryStor.GetHistoryForSession(session.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, record := range records {
		require.Equal(t, int64(2000), record.DurationMS)
		require.Equal(t, session.SessionCode, record.SessionCode)
		require.Equal(t, "payload.bin", record.FileName)
		require.NotEmpty(t, record.UUID)
	}

	require.Equal(t, env.receiver.ID, records[0].PeerID)
	require.Equal(t, env.sender.ID, records[1].PeerID)
}

func TestHistoryIsWrittenOnce(t *testing.T) {
	env := newTestEnv(t)
	session := env.completeTransfer(8)

	require.NoError(t, env.svc.History.OnComplete(env.ctx, session))
	require.NoError(t, env.svc.History.OnFail(env.ctx, session, "late failure"))

	records, err := env.stors.HistoryStor.GetHistoryForSession(session.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[0].Success)
	require.True(t, records[1].Success)
}

func TestHistoryQuery(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.completeTransfer(8 + i)
	}

	page, err := env.svc.History.Query(env.ctx, env.sender.ID, mcmodel.DirectionSend, Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.Total)
	require.Len(t, page.Records, 2)
	require.Equal(t, int64(10), page.Records[0].FileSize)
	require.Equal(t, int64(9), page.Records[1].FileSize)

	page, err = env.svc.History.Query(env.ctx, env.sender.ID, mcmodel.DirectionSend, Page{Number: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, int64(8), page.Records[0].FileSize)

	page, err = env.svc.History.Query(env.ctx, env.sender.ID, mcmodel.DirectionReceive, Page{})
	require.NoError(t, err)
	require.Equal(t, int64(0), page.Total)
	require.NotNil(t, page.Records)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 20, page.PerPage)

	page, err = env.svc.History.Query(env.ctx, env.receiver.ID, "", Page{})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.Total)
}

func TestHistoryQueryValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		direction mcmodel.TransferDirection
		page      Page
	}{
		{name: "bad direction", direction: "SIDEWAYS"},
		{name: "negative page", page: Page{Number: -1}},
		{name: "page size too large", page: Page{Size: 101}},
		{name: "negative page size", page: Page{Size: -1}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := env.svc.History.Query(env.ctx, env.sender.ID, test.direction, test.page)
			require.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestHistoryStats(t *testing.T) {
	env := newTestEnv(t)
	env.completeTransfer(8)
	env.completeTransfer(16)

	failed := env.connected(10, 4)
	require.NoError(t, env.svc.Registry.Fail(env.ctx, failed.SessionCode, nil))

	stats, err := env.svc.History.Stats(env.ctx, env.sender.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Sent.Count)
	require.Equal(t, int64(2), stats.Sent.Successful)
	require.Equal(t, int64(34), stats.Sent.Bytes)
	require.Equal(t, int64(0), stats.Received.Count)
	require.Equal(t, int64(3), stats.Total)
	require.InDelta(t, 2.0/3.0, stats.SuccessRatio, 0.0001)

	stats, err = env.svc.History.Stats(env.ctx, env.other.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Total)
	require.Equal(t, float64(0), stats.SuccessRatio)
}

func TestHistoryPurge(t *testing.T) {
	env := newTestEnv(t)
	env.completeTransfer(8)

	env.clock.Advance(48 * time.Hour)
	env.completeTransfer(8)

	deleted, err := env.svc.History.PurgeOlderThan(env.ctx, env.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	page, err := env.svc.History.Query(env.ctx, env.sender.ID, "", Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
}
