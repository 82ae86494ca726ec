package xfer

import (
	"bytes"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSaveChunkIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	receipt, err := env.upload(session, data, 1)
	require.NoError(t, err)
	require.True(t, receipt.Accepted)

	receipt, err = env.upload(session, data, 1)
	require.NoError(t, err)
	require.False(t, receipt.Accepted)
	require.Equal(t, int64(4), receipt.TransferredBytes)
	require.Equal(t, 1, receipt.CompletedChunks)

	count, err := env.stors.SessionStor.CountChunks(session.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestConcurrentUploadsOfOneIndexCountOnce(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 40)
	session := env.connected(40, 4)

	const uploaders = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		errs     []error
	)

	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := env.upload(session, data, 3)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if receipt.Accepted {
				accepted++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, accepted)

	after := env.reload(session.SessionCode)
	require.Equal(t, mcmodel.StatusTransferring, after.Status)
	require.Equal(t, 1, after.CompletedChunks)
	require.Equal(t, int64(4), after.TransferredBytes)

	count, err := env.stors.SessionStor.CountChunks(session.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ChunksAccepted))
}

func TestConcurrentUploadsOfLastIndexBothSucceed(t *testing.T) {
	env := newTestEnv(t)

	for round := 0; round < 20; round++ {
		data := randomBytes(t, 8)
		session := env.connected(8, 4)

		_, err := env.upload(session, data, 0)
		require.NoError(t, err)

		var wg sync.WaitGroup
		receipts := make([]*ChunkReceipt, 2)
		errs := make([]error, 2)
		for i := range receipts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				receipts[i], errs[i] = env.upload(session, data, 1)
			}(i)
		}
		wg.Wait()

		require.NoError(t, errs[0], "round %d", round)
		require.NoError(t, errs[1], "round %d", round)
		require.NotEqual(t, receipts[0].Accepted, receipts[1].Accepted, "exactly one upload is counted")
		for _, receipt := range receipts {
			require.Equal(t, mcmodel.StatusCompleted, receipt.Status)
			require.Equal(t, 2, receipt.CompletedChunks)
			require.Equal(t, int64(8), receipt.TransferredBytes)
		}

		completed := env.reload(session.SessionCode)
		require.Equal(t, mcmodel.StatusCompleted, completed.Status)
		require.True(t, bytes.Equal(data, env.download(session.SessionCode)))

		records, err := env.stors.HistoryStor.GetHistoryForSession(session.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)

		partial, err := env.svc.Chunks.staging.partialPath(completed)
		require.NoError(t, err)
		require.NoFileExists(t, partial)
	}
}

func TestStagingIsNotRecreatedAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	session := env.completeTransfer(8)

	_, _, err := env.svc.Chunks.staging.ensure(session)
	require.ErrorIs(t, err, errFinalized)

	partial, err := env.svc.Chunks.staging.partialPath(session)
	require.NoError(t, err)
	require.NoFileExists(t, partial)

	final, err := env.svc.Chunks.staging.finalPath(session)
	require.NoError(t, err)
	require.FileExists(t, final)

	// A write that finds its staging file gone settles against the stored session.
	receipt, err := env.svc.Chunks.settleLateWrite(env.ctx, session, 0, fs.ErrNotExist)
	require.NoError(t, err)
	require.False(t, receipt.Accepted)
	require.Equal(t, mcmodel.StatusCompleted, receipt.Status)

	_, err = env.svc.Chunks.settleLateWrite(env.ctx, session, 5, fs.ErrNotExist)
	require.Equal(t, KindState, KindOf(err))
}

func TestLateWriteToCancelledSessionIsRefused(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 8)
	session := env.connected(8, 4)

	_, err := env.upload(session, data, 0)
	require.NoError(t, err)

	_, err = env.svc.Registry.Cancel(env.ctx, session.SessionCode, env.sender.ID)
	require.NoError(t, err)

	_, err = env.svc.Chunks.settleLateWrite(env.ctx, session, 1, fs.ErrNotExist)
	require.Equal(t, KindState, KindOf(err))
	require.Equal(t, mcmodel.StatusCancelled, env.reload(session.SessionCode).Status)
}

func TestRemoveDeletesStagingDirectory(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 8)
	session := env.connected(8, 4)

	_, err := env.upload(session, data, 0)
	require.NoError(t, err)

	dir, err := env.svc.Chunks.staging.dir(session)
	require.NoError(t, err)
	require.DirExists(t, dir)

	require.NoError(t, env.svc.Chunks.Remove(session))
	require.NoDirExists(t, dir)

	// Removing again is fine.
	require.NoError(t, env.svc.Chunks.Remove(session))
}

func TestChunksInAnyOrderReassembleTheFile(t *testing.T) {
	env := newTestEnv(t)
	const chunkSize = 1000
	data := randomBytes(t, 20*chunkSize+123)
	session := env.connected(int64(len(data)), chunkSize)
	require.Equal(t, 21, session.TotalChunks)

	order := rand.Perm(session.TotalChunks)

	var wg sync.WaitGroup
	errs := make(chan error, len(order))
	for _, index := range order {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, err := env.upload(session, data, index)
			errs <- err
		}(index)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	completed := env.reload(session.SessionCode)
	require.Equal(t, mcmodel.StatusCompleted, completed.Status)
	require.Equal(t, int64(len(data)), completed.TransferredBytes)
	require.Equal(t, session.TotalChunks, completed.CompletedChunks)
	require.True(t, bytes.Equal(data, env.download(session.SessionCode)))

	// A late duplicate after completion is refused rather than recounted.
	_, err := env.upload(session, data, 0)
	require.Equal(t, KindState, KindOf(err))
}

func TestHashMismatchLeavesSessionUntouched(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	_, err := env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{
		Code:         session.SessionCode,
		UploaderID:   env.sender.ID,
		Index:        0,
		Data:         data[:4],
		ExpectedHash: hashOf([]byte("something else")),
	})
	require.Equal(t, KindIntegrity, KindOf(err))

	after := env.reload(session.SessionCode)
	require.Equal(t, mcmodel.StatusConnected, after.Status)
	require.Equal(t, int64(0), after.TransferredBytes)
	require.Equal(t, 0, after.CompletedChunks)

	// Hashes compare case insensitively.
	receipt, err := env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{
		Code:         session.SessionCode,
		UploaderID:   env.sender.ID,
		Index:        0,
		Data:         data[:4],
		ExpectedHash: strings.ToUpper(hashOf(data[:4])),
	})
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
}

func TestSaveChunkRejections(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	pending := env.create(10, 4)
	session := env.connected(10, 4)

	_, err := env.upload(pending, data, 0)
	require.Equal(t, KindState, KindOf(err))

	_, err = env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{Code: session.SessionCode, UploaderID: env.receiver.ID, Index: 0, Data: data[:4]})
	require.Equal(t, KindPermission, KindOf(err))

	_, err = env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{Code: session.SessionCode, UploaderID: env.sender.ID, Index: 3, Data: data[:4]})
	require.Equal(t, KindValidation, KindOf(err))

	_, err = env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{Code: session.SessionCode, UploaderID: env.sender.ID, Index: -1, Data: data[:4]})
	require.Equal(t, KindValidation, KindOf(err))

	// The last chunk is short, every other chunk is exactly chunk size.
	_, err = env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{Code: session.SessionCode, UploaderID: env.sender.ID, Index: 2, Data: data[:4]})
	require.Equal(t, KindValidation, KindOf(err))

	_, err = env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{Code: session.SessionCode, UploaderID: env.sender.ID, Index: 0, Data: data[:3]})
	require.Equal(t, KindValidation, KindOf(err))

	_, err = env.svc.Chunks.SaveChunk(env.ctx, ChunkUpload{Code: "123", UploaderID: env.sender.ID, Index: 0, Data: data[:4]})
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestSaveChunkExpiresConnectedSessionPastDeadline(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	env.clock.Advance(env.settings.SessionTTL + time.Second)

	_, err := env.upload(session, data, 0)
	require.Equal(t, KindExpired, KindOf(err))
	require.Equal(t, mcmodel.StatusExpired, env.reload(session.SessionCode).Status)
	require.Contains(t, env.notifier.Events(env.receiver.ID), notify.EventSessionExpired)
}

func TestTransferringSessionIgnoresDeadline(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	_, err := env.upload(session, data, 0)
	require.NoError(t, err)

	env.clock.Advance(env.settings.SessionTTL + time.Hour)

	_, err = env.upload(session, data, 1)
	require.NoError(t, err)
	_, err = env.upload(session, data, 2)
	require.NoError(t, err)
	require.Equal(t, mcmodel.StatusCompleted, env.reload(session.SessionCode).Status)
}

func TestGetChunk(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	_, err := env.svc.Chunks.GetChunk(env.ctx, session.SessionCode, env.receiver.ID, 0)
	require.Equal(t, KindNotFound, KindOf(err))

	_, err = env.upload(session, data, 2)
	require.NoError(t, err)

	chunk, err := env.svc.Chunks.GetChunk(env.ctx, session.SessionCode, env.receiver.ID, 2)
	require.NoError(t, err)
	require.Equal(t, data[8:], chunk.Data)
	require.Equal(t, hashOf(data[8:]), chunk.Hash)

	chunk, err = env.svc.Chunks.GetChunk(env.ctx, session.SessionCode, env.sender.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 2, chunk.Index)

	_, err = env.svc.Chunks.GetChunk(env.ctx, session.SessionCode, env.receiver.ID, 1)
	require.Equal(t, KindNotFound, KindOf(err))

	_, err = env.svc.Chunks.GetChunk(env.ctx, session.SessionCode, env.receiver.ID, 7)
	require.Equal(t, KindNotFound, KindOf(err))

	_, err = env.svc.Chunks.GetChunk(env.ctx, session.SessionCode, env.other.ID, 2)
	require.Equal(t, KindPermission, KindOf(err))

	pending := env.create(10, 4)
	_, err = env.svc.Chunks.GetChunk(env.ctx, pending.SessionCode, env.sender.ID, 0)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestOpenFile(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	_, err := env.upload(session, data, 0)
	require.NoError(t, err)

	_, err = env.svc.Chunks.OpenFile(env.ctx, session.SessionCode, env.receiver.ID)
	require.Equal(t, KindState, KindOf(err))

	_, err = env.svc.Chunks.OpenFile(env.ctx, session.SessionCode, env.sender.ID)
	require.Equal(t, KindPermission, KindOf(err))

	_, err = env.upload(session, data, 1)
	require.NoError(t, err)
	_, err = env.upload(session, data, 2)
	require.NoError(t, err)

	d, err := env.svc.Chunks.OpenFile(env.ctx, session.SessionCode, env.receiver.ID)
	require.NoError(t, err)
	require.Equal(t, "payload.bin", d.Name)
	require.Equal(t, int64(10), d.Size)

	// Closing before reading everything does not count as a download.
	require.NoError(t, d.Close())
	require.Nil(t, env.reload(session.SessionCode).DownloadedAt)

	require.Equal(t, data, env.download(session.SessionCode))
	require.NotNil(t, env.reload(session.SessionCode).DownloadedAt)
}

func TestCompletedFileIsRenamed(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 4)
	session, err := env.svc.Registry.Create(env.ctx, CreateRequest{
		OwnerID:   env.sender.ID,
		FileName:  "My Summer Photos.JPG",
		FileSize:  4,
		ChunkSize: 4,
	})
	require.NoError(t, err)
	session, err = env.svc.Registry.Join(env.ctx, session.SessionCode, env.receiver.ID, "")
	require.NoError(t, err)

	_, err = env.upload(session, data, 0)
	require.NoError(t, err)

	completed := env.reload(session.SessionCode)
	require.Equal(t, filepath.Join(env.root.Dir(), env.svc.Chunks.staging.dirName(session)), completed.StagingPath)
	require.FileExists(t, filepath.Join(completed.StagingPath, "my-summer-photos.jpg"))
	require.NoFileExists(t, filepath.Join(completed.StagingPath, "my-summer-photos.jpg.part"))
}

func TestSymlinkedStagingDirIsAPathViolation(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	outside := t.TempDir()
	link := filepath.Join(env.root.Dir(), env.svc.Chunks.staging.dirName(session))
	require.NoError(t, os.Symlink(outside, link))

	_, err := env.upload(session, data, 0)
	require.Equal(t, KindPathViolation, KindOf(err))

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	require.Empty(t, entries)

	// A path violation is refused without failing the session.
	require.Equal(t, mcmodel.StatusConnected, env.reload(session.SessionCode).Status)
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.PathViolations))
}

func TestStorageFaultFailsSession(t *testing.T) {
	env := newTestEnv(t)
	data := randomBytes(t, 10)
	session := env.connected(10, 4)

	blocker := filepath.Join(env.root.Dir(), env.svc.Chunks.staging.dirName(session))
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0600))

	_, err := env.upload(session, data, 0)
	require.Equal(t, KindStorageFault, KindOf(err))
	require.Equal(t, "storage failure", PublicMessage(err))

	failed := env.reload(session.SessionCode)
	require.Equal(t, mcmodel.StatusFailed, failed.Status)
	require.NotEmpty(t, failed.FailureReason)

	records, err := env.stors.HistoryStor.GetHistoryForSession(session.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.False(t, record.Success)
		require.Equal(t, "storage failure", record.ErrorMessage)
	}

	require.Contains(t, env.notifier.Events(env.receiver.ID), notify.EventSessionFailed)
}
