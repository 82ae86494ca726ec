// Package client talks to an mcdropd server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const (
	APIKeyHeader    = "X-API-Key"
	ChunkHashHeader = "X-Chunk-Hash"
)

type Client struct {
	rc *resty.Client
}

// New creates a client for the server at baseURL (for example
// http://localhost:1360) authenticating with apikey.
func New(baseURL, apikey string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL+"/api/v1").
		SetHeader(APIKeyHeader, apikey).
		SetTimeout(5 * time.Minute)

	return &Client{rc: rc}
}

// APIError is a non 2xx response. Kind is the server's error kind, for example
// NotFound or StateError.
type APIError struct {
	StatusCode int    `json:"-"`
	Kind       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("(HTTP Status: %d) %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("(HTTP Status: %d) %s: %s", e.StatusCode, e.Kind, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func toErrorFromResponse(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}

	return apiErr
}

type Session struct {
	SessionCode      string    `json:"session_code"`
	Status           string    `json:"status"`
	FileName         string    `json:"file_name"`
	FileSize         int64     `json:"file_size"`
	MimeType         string    `json:"mime_type"`
	ChunkSize        int       `json:"chunk_size"`
	TotalChunks      int       `json:"total_chunks"`
	TransferredBytes int64     `json:"transferred_bytes"`
	CompletedChunks  int       `json:"completed_chunks"`
	SenderName       string    `json:"sender_name"`
	ReceiverName     string    `json:"receiver_name"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type Status struct {
	SessionCode      string    `json:"session_code"`
	Status           string    `json:"status"`
	FileName         string    `json:"file_name"`
	FileSize         int64     `json:"file_size"`
	TransferredBytes int64     `json:"transferred_bytes"`
	CompletedChunks  int       `json:"completed_chunks"`
	TotalChunks      int       `json:"total_chunks"`
	PeerConnected    bool      `json:"peer_connected"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Terminal reports whether the session has finished, successfully or not.
func (s *Status) Terminal() bool {
	switch s.Status {
	case "COMPLETED", "CANCELLED", "EXPIRED", "FAILED":
		return true
	default:
		return false
	}
}

type ChunkReceipt struct {
	Index            int    `json:"index"`
	Accepted         bool   `json:"accepted"`
	TransferredBytes int64  `json:"transferred_bytes"`
	CompletedChunks  int    `json:"completed_chunks"`
	TotalChunks      int    `json:"total_chunks"`
	Status           string `json:"status"`
}

type HistoryRecord struct {
	UUID         string    `json:"uuid"`
	SessionCode  string    `json:"session_code"`
	Direction    string    `json:"direction"`
	PeerName     string    `json:"peer_name"`
	FileName     string    `json:"file_name"`
	FileSize     int64     `json:"file_size"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type HistoryPage struct {
	Records []HistoryRecord `json:"records"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

type DirectionStats struct {
	Count      int64 `json:"count"`
	Successful int64 `json:"successful"`
	Bytes      int64 `json:"bytes"`
}

type Stats struct {
	Sent         DirectionStats `json:"sent"`
	Received     DirectionStats `json:"received"`
	Total        int64          `json:"total"`
	Successful   int64          `json:"successful"`
	SuccessRatio float64        `json:"success_ratio"`
}

type CreateSessionRequest struct {
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	MimeType   string `json:"mime_type,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var session Session
	resp, err := c.rc.R().SetContext(ctx).SetBody(req).SetResult(&session).Post("/sessions")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &session, nil
}

func (c *Client) JoinSession(ctx context.Context, code, device string) (*Session, error) {
	var session Session
	resp, err := c.rc.R().SetContext(ctx).
		SetPathParam("code", code).
		SetBody(map[string]string{"device": device}).
		SetResult(&session).
		Post("/sessions/{code}/join")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &session, nil
}

func (c *Client) GetStatus(ctx context.Context, code string) (*Status, error) {
	var status Status
	resp, err := c.rc.R().SetContext(ctx).SetPathParam("code", code).SetResult(&status).Get("/sessions/{code}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &status, nil
}

func (c *Client) CancelSession(ctx context.Context, code string) (*Session, error) {
	var session Session
	resp, err := c.rc.R().SetContext(ctx).SetPathParam("code", code).SetResult(&session).Post("/sessions/{code}/cancel")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &session, nil
}

// UploadChunk sends data as chunk index. hash, when not empty, is checked by the
// server.
func (c *Client) UploadChunk(ctx context.Context, code string, index int, data []byte, hash string) (*ChunkReceipt, error) {
	var receipt ChunkReceipt
	req := c.rc.R().SetContext(ctx).
		SetPathParams(map[string]string{"code": code, "index": strconv.Itoa(index)}).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		SetResult(&receipt)
	if hash != "" {
		req.SetHeader(ChunkHashHeader, hash)
	}

	resp, err := req.Put("/sessions/{code}/chunks/{index}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &receipt, nil
}

// DownloadChunk returns the bytes of chunk index and the hash the server reported
// for them.
func (c *Client) DownloadChunk(ctx context.Context, code string, index int) ([]byte, string, error) {
	resp, err := c.rc.R().SetContext(ctx).
		SetPathParams(map[string]string{"code": code, "index": strconv.Itoa(index)}).
		Get("/sessions/{code}/chunks/{index}")
	if err := checkResponse(resp, err); err != nil {
		return nil, "", err
	}

	return resp.Body(), resp.Header().Get(ChunkHashHeader), nil
}

// DownloadFile streams the completed file into w and returns the bytes written.
func (c *Client) DownloadFile(ctx context.Context, code string, w io.Writer) (int64, error) {
	resp, err := c.rc.R().SetContext(ctx).
		SetPathParam("code", code).
		SetDoNotParseResponse(true).
		Get("/sessions/{code}/file")
	if err != nil {
		return 0, err
	}

	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		raw, _ := io.ReadAll(body)
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return 0, apiErr
	}

	return io.Copy(w, body)
}

// GetHistory returns one page of history. direction may be empty, SEND or RECEIVE.
func (c *Client) GetHistory(ctx context.Context, direction string, page, perPage int) (*HistoryPage, error) {
	var result HistoryPage
	req := c.rc.R().SetContext(ctx).SetResult(&result)
	if direction != "" {
		req.SetQueryParam("direction", direction)
	}
	if page > 0 {
		req.SetQueryParam("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		req.SetQueryParam("per_page", strconv.Itoa(perPage))
	}

	resp, err := req.Get("/history")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	resp, err := c.rc.R().SetContext(ctx).SetResult(&stats).Get("/history/stats")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return &stats, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}

	if resp.IsError() {
		return toErrorFromResponse(resp)
	}

	return nil
}
