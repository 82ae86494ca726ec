package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency  = 4
	defaultPollInterval = time.Second
)

type SendOptions struct {
	ChunkSize    int
	Concurrency  int
	PollInterval time.Duration
	TTL          time.Duration

	// OnCreated is called with the new session before waiting for a receiver, so
	// the code can be shown to the user.
	OnCreated func(*Session)

	// OnChunk is called after each chunk the server accepts.
	OnChunk func(*ChunkReceipt)
}

type ReceiveOptions struct {
	Device       string
	PollInterval time.Duration
	OnProgress   func(*Status)
}

// Send offers the file at path, waits for a receiver to join and uploads every
// chunk. It returns the session status once the server reports it COMPLETED.
func (c *Client) Send(ctx context.Context, path string, opts SendOptions) (*Status, error) {
	opts = sendDefaults(opts)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	session, err := c.CreateSession(ctx, CreateSessionRequest{
		FileName:   filepath.Base(path),
		FileSize:   fi.Size(),
		ChunkSize:  opts.ChunkSize,
		TTLSeconds: int(opts.TTL / time.Second),
	})
	if err != nil {
		return nil, err
	}

	if opts.OnCreated != nil {
		opts.OnCreated(session)
	}

	status, err := c.waitFor(ctx, session.SessionCode, opts.PollInterval, nil, func(s *Status) bool {
		return s.Status != "PENDING"
	})
	if err != nil {
		return nil, err
	}

	if status.Terminal() {
		return status, errors.Errorf("session %s ended as %s before a receiver joined", session.SessionCode, status.Status)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for index := 0; index < session.TotalChunks; index++ {
		index := index
		g.Go(func() error {
			offset := int64(index) * int64(session.ChunkSize)
			length := min(int64(session.ChunkSize), session.FileSize-offset)

			data := make([]byte, length)
			if _, err := f.ReadAt(data, offset); err != nil {
				return errors.Wrapf(err, "unable to read chunk %d", index)
			}

			sum := sha256.Sum256(data)
			receipt, err := c.UploadChunk(gctx, session.SessionCode, index, data, hex.EncodeToString(sum[:]))
			if err != nil {
				return errors.Wrapf(err, "unable to upload chunk %d", index)
			}

			if opts.OnChunk != nil {
				opts.OnChunk(receipt)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return c.GetStatus(ctx, session.SessionCode)
}

// Receive joins the session, waits for the sender to finish and writes the file
// to outPath. When outPath is a directory the sender's file name is used.
func (c *Client) Receive(ctx context.Context, code, outPath string, opts ReceiveOptions) (string, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	session, err := c.JoinSession(ctx, code, opts.Device)
	if err != nil {
		return "", err
	}

	if fi, err := os.Stat(outPath); err == nil && fi.IsDir() {
		outPath = filepath.Join(outPath, filepath.Base(session.FileName))
	}

	status, err := c.waitFor(ctx, code, opts.PollInterval, opts.OnProgress, func(s *Status) bool {
		return s.Terminal()
	})
	if err != nil {
		return "", err
	}

	if status.Status != "COMPLETED" {
		return "", errors.Errorf("session %s ended as %s", code, status.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".*")
	if err != nil {
		return "", err
	}

	written, err := c.DownloadFile(ctx, code, tmp)
	closeErr := tmp.Close()
	switch {
	case err != nil:
		_ = os.Remove(tmp.Name())
		return "", err
	case closeErr != nil:
		_ = os.Remove(tmp.Name())
		return "", closeErr
	case written != session.FileSize:
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("downloaded %d bytes, expected %d", written, session.FileSize)
	}

	if err := os.Rename(tmp.Name(), outPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}

	return outPath, nil
}

func (c *Client) waitFor(ctx context.Context, code string, interval time.Duration, onStatus func(*Status), done func(*Status) bool) (*Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetStatus(ctx, code)
		if err != nil {
			return nil, err
		}

		if onStatus != nil {
			onStatus(status)
		}

		if done(status) {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func sendDefaults(opts SendOptions) SendOptions {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	return opts
}
