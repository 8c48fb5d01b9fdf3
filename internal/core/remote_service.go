package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/surge-downloader/fetchd/internal/engine/types"
)

// APIError is a non-2xx reply from the daemon. It unwraps to the engine
// error the status code stands for, so callers can use errors.Is on both
// sides of the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error %d", e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusBadRequest:
		return types.ErrInvalidURL
	case http.StatusConflict:
		if strings.Contains(e.Message, types.ErrNotCompleted.Error()) {
			return types.ErrNotCompleted
		}
		return types.ErrIllegalTransition
	}
	return nil
}

// RemoteDownloadService implements DownloadService for a running daemon.
type RemoteDownloadService struct {
	BaseURL string
	Client  *http.Client
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRemoteDownloadService creates a new remote service instance.
func NewRemoteDownloadService(baseURL string) *RemoteDownloadService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteDownloadService{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *RemoteDownloadService) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, s.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return nil, apiErr
	}

	return resp, nil
}

// call performs a request and decodes a JSON reply into out, if given.
func (s *RemoteDownloadService) call(method, path string, body, out any) error {
	resp, err := s.doRequest(method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func downloadPath(id string, action ...string) string {
	p := "/api/downloads/" + url.PathEscape(id)
	for _, a := range action {
		p += "/" + a
	}
	return p
}

// List returns the status of every download, oldest first.
func (s *RemoteDownloadService) List() ([]types.DownloadStatus, error) {
	var statuses []types.DownloadStatus
	if err := s.call(http.MethodGet, "/api/downloads", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// GetStatus returns a status for a single download by id.
func (s *RemoteDownloadService) GetStatus(id string) (*types.DownloadStatus, error) {
	var status types.DownloadStatus
	if err := s.call(http.MethodGet, downloadPath(id), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Add queues a new download.
func (s *RemoteDownloadService) Add(rawURL string) (*types.DownloadStatus, error) {
	var status types.DownloadStatus
	req := map[string]string{"url": rawURL}
	if err := s.call(http.MethodPost, "/api/downloads", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Pause pauses an active download.
func (s *RemoteDownloadService) Pause(id string) error {
	return s.call(http.MethodPost, downloadPath(id, "pause"), nil, nil)
}

// Resume restarts a paused download.
func (s *RemoteDownloadService) Resume(id string) error {
	return s.call(http.MethodPost, downloadPath(id, "resume"), nil, nil)
}

// Delete cancels and removes a download.
func (s *RemoteDownloadService) Delete(id string) error {
	return s.call(http.MethodDelete, downloadPath(id), nil, nil)
}

type removedReply struct {
	Removed int `json:"removed"`
}

func (s *RemoteDownloadService) DeleteCompleted() (int, error) {
	var reply removedReply
	err := s.call(http.MethodDelete, "/api/downloads/completed", nil, &reply)
	return reply.Removed, err
}

func (s *RemoteDownloadService) DeleteAll() (int, error) {
	var reply removedReply
	err := s.call(http.MethodDelete, "/api/downloads", nil, &reply)
	return reply.Removed, err
}

// Open asks the daemon to reveal a completed download.
func (s *RemoteDownloadService) Open(id string) error {
	return s.call(http.MethodPost, downloadPath(id, "open"), nil, nil)
}

func (s *RemoteDownloadService) Health() (*Health, error) {
	var h Health
	if err := s.call(http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Shutdown cancels requests in flight. The daemon keeps running.
func (s *RemoteDownloadService) Shutdown() error {
	s.cancel()
	return nil
}
