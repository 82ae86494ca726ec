package xfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdb"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	stors    *stor.Stors
	svc      *Service
	clock    *ManualClock
	notifier *notify.RecordingNotifier
	root     *sandbox.Root
	metrics  *metrics.Metrics
	settings config.Settings

	sender   *mcmodel.User
	receiver *mcmodel.User
	other    *mcmodel.User
}

type testEnvOptionFN func(*config.Settings, *Deps)

func withCodes(codes CodeGenerator) testEnvOptionFN {
	return func(_ *config.Settings, deps *Deps) {
		deps.Codes = codes
	}
}

func withSettings(fn func(s *config.Settings)) testEnvOptionFN {
	return func(s *config.Settings, _ *Deps) {
		fn(s)
	}
}

func newTestEnv(t *testing.T, optFNs ...testEnvOptionFN) *testEnv {
	t.Helper()

	db := mcdb.MustOpenTestDB(t)
	stors := stor.NewGormStors(db)

	root, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	settings := config.DefaultSettings()
	settings.TempRoot = root.Dir()
	settings.MinChunkSize = 1

	env := &testEnv{
		t:        t,
		ctx:      context.Background(),
		stors:    stors,
		clock:    NewManualClock(time.Now()),
		notifier: notify.NewRecordingNotifier(),
		root:     root,
		metrics:  metrics.NewUnregistered(),
	}

	deps := Deps{
		Stors:    stors,
		Root:     root,
		Clock:    env.clock,
		Notifier: env.notifier,
		Metrics:  env.metrics,
	}

	for _, optfn := range optFNs {
		optfn(&settings, &deps)
	}

	deps.Settings = settings
	env.settings = settings

	env.svc, err = NewService(deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.svc.Close() })

	env.sender = env.createUser("sender")
	env.receiver = env.createUser("receiver")
	env.other = env.createUser("other")

	return env
}

func (e *testEnv) createUser(name string) *mcmodel.User {
	user, err := e.stors.UserStor.CreateUser(&mcmodel.User{Name: name, Email: name + "@example.com"})
	require.NoError(e.t, err)
	return user
}

func (e *testEnv) create(fileSize int64, chunkSize int) *mcmodel.TransferSession {
	session, err := e.svc.Registry.Create(e.ctx, CreateRequest{
		OwnerID:   e.sender.ID,
		FileName:  "payload.bin",
		FileSize:  fileSize,
		ChunkSize: chunkSize,
	})
	require.NoError(e.t, err)
	return session
}

// connected creates a session and joins it as the receiver.
func (e *testEnv) connected(fileSize int64, chunkSize int) *mcmodel.TransferSession {
	session := e.create(fileSize, chunkSize)
	joined, err := e.svc.Registry.Join(e.ctx, session.SessionCode, e.receiver.ID, "laptop")
	require.NoError(e.t, err)
	return joined
}

func (e *testEnv) reload(code string) *mcmodel.TransferSession {
	session, err := e.stors.SessionStor.GetSessionByCode(code)
	require.NoError(e.t, err)
	return session
}

func (e *testEnv) upload(session *mcmodel.TransferSession, data []byte, index int) (*ChunkReceipt, error) {
	offset := session.ChunkOffset(index)
	chunk := data[offset : offset+int64(session.ChunkLength(index))]
	return e.svc.Chunks.SaveChunk(e.ctx, ChunkUpload{
		Code:         session.SessionCode,
		UploaderID:   session.SenderID,
		Index:        index,
		Data:         chunk,
		ExpectedHash: hashOf(chunk),
	})
}

func (e *testEnv) download(code string) []byte {
	d, err := e.svc.Chunks.OpenFile(e.ctx, code, e.receiver.ID)
	require.NoError(e.t, err)
	data, err := io.ReadAll(d)
	require.NoError(e.t, err)
	require.NoError(e.t, d.Close())
	return data
}

func randomBytes(t *testing.T, n int) []byte {
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// sequenceCodes hands out codes in order, repeating the last one.
type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func (s *sequenceCodes) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.codes) == 0 {
		return "", fmt.Errorf("no codes")
	}

	i := s.next
	if i >= len(s.codes) {
		i = len(s.codes) - 1
	}
	s.next++

	return s.codes[i], nil
}

func TestNewServiceRequiresStorsAndRoot(t *testing.T) {
	_, err := NewService(Deps{})
	require.Error(t, err)

	_, err = NewService(Deps{Stors: &stor.Stors{}})
	require.Error(t, err)
}

func TestTransferOfTwoAndAHalfMiBOutOfOrder(t *testing.T) {
	env := newTestEnv(t)
	const mib = 1024 * 1024
	data := randomBytes(t, 2*mib+mib/2)

	session := env.create(int64(len(data)), mib)
	require.Equal(t, 3, session.TotalChunks)
	require.Equal(t, mcmodel.StatusPending, session.Status)

	session, err := env.svc.Registry.Join(env.ctx, session.SessionCode, env.receiver.ID, "phone")
	require.NoError(t, err)
	require.Equal(t, mcmodel.StatusConnected, session.Status)

	receipt, err := env.upload(session, data, 2)
	require.NoError(t, err)
	require.Equal(t, mcmodel.StatusTransferring, receipt.Status)
	require.Equal(t, int64(mib/2), receipt.TransferredBytes)

	receipt, err = env.upload(session, data, 0)
	require.NoError(t, err)
	require.Equal(t, 2, receipt.CompletedChunks)

	receipt, err = env.upload(session, data, 1)
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.Equal(t, mcmodel.StatusCompleted, receipt.Status)
	require.Equal(t, int64(len(data)), receipt.TransferredBytes)
	require.Equal(t, 3, receipt.CompletedChunks)

	completed := env.reload(session.SessionCode)
	require.NotNil(t, completed.CompletedAt)
	require.Nil(t, completed.ActiveCode)

	records, err := env.stors.HistoryStor.GetHistoryForSession(session.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, mcmodel.DirectionSend, records[0].Direction)
	require.Equal(t, env.sender.ID, records[0].UserID)
	require.Equal(t, "receiver", records[0].PeerName)
	require.Equal(t, mcmodel.DirectionReceive, records[1].Direction)
	require.Equal(t, env.receiver.ID, records[1].UserID)
	require.Equal(t, "sender", records[1].PeerName)
	require.True(t, records[0].Success)
	require.Equal(t, int64(len(data)), records[1].FileSize)

	require.True(t, bytes.Equal(data, env.download(session.SessionCode)))
	require.NotNil(t, env.reload(session.SessionCode).DownloadedAt)

	require.Contains(t, env.notifier.Events(env.sender.ID), notify.EventSessionJoined)
	require.Contains(t, env.notifier.Events(env.sender.ID), notify.EventSessionCompleted)
	require.Contains(t, env.notifier.Events(env.receiver.ID), notify.EventTransferStarted)
	require.Contains(t, env.notifier.Events(env.receiver.ID), notify.EventSessionCompleted)
}

func TestRunMaintenance(t *testing.T) {
	env := newTestEnv(t)
	pending := env.create(10, 4)

	env.clock.Advance(env.settings.SessionTTL + time.Second)
	env.svc.RunMaintenance(env.ctx)

	require.Equal(t, mcmodel.StatusExpired, env.reload(pending.SessionCode).Status)
}

func TestServiceStartAndClose(t *testing.T) {
	env := newTestEnv(t, withSettings(func(s *config.Settings) {
		s.SweepInterval = 10 * time.Millisecond
	}))

	pending := env.create(10, 4)
	env.clock.Advance(env.settings.SessionTTL + time.Second)

	require.NoError(t, env.svc.Start(env.ctx))
	require.Error(t, env.svc.Start(env.ctx))

	require.Eventually(t, func() bool {
		session, err := env.stors.SessionStor.GetSessionByCode(pending.SessionCode)
		return err == nil && session.Status == mcmodel.StatusExpired
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, env.svc.Close())
	require.False(t, env.svc.task.Running())
}

func TestNewServiceDefaults(t *testing.T) {
	root, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	stors := stor.NewGormStors(mcdb.MustOpenTestDB(t))

	var hub *notify.Hub
	svc, err := NewService(Deps{Stors: stors, Root: root, Settings: config.DefaultSettings(), Notifier: hub})
	require.NoError(t, err)
	require.IsType(t, notify.NopNotifier{}, svc.Registry.notifier)
	require.IsType(t, SystemClock{}, svc.Registry.clock)
	require.IsType(t, RandomCodeGenerator{}, svc.Registry.codes)
	require.NotNil(t, svc.Registry.metrics)
}
