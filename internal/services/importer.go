// HTTP client for the import server
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/mdximport/internal/shared"
)

const (
	followPath         = "/api/follow"
	progressPath       = "/api/progress"
	queuePath          = "/api/queue"
	queueSubscribePath = "/api/queue/subscribe"
	cancelPath         = "/api/cancel"

	// UploadField is the multipart field carrying the manga list.
	UploadField = "manga_list"
)

// ImportService makes requests against an import server.
type ImportService struct {
	baseURL    string
	httpClient *http.Client
}

// NewImportService creates a new service for the server at baseURL.
func NewImportService(baseURL string, client *http.Client) *ImportService {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:39039"
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &ImportService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// BaseURL returns the server root requests are made against.
func (s *ImportService) BaseURL() string { return s.baseURL }

// ProgressURL is the event stream for one session's progress.
func (s *ImportService) ProgressURL(sessionID string) string {
	return s.endpoint(progressPath, sessionID)
}

// QueueSubscribeURL is the shared queue broadcast stream.
func (s *ImportService) QueueSubscribeURL() string {
	return s.baseURL + queueSubscribePath
}

// Submit uploads credentials and the manga list, returning the server-assigned session.
func (s *ImportService) Submit(ctx context.Context, creds Credentials, upload Upload) (*SubmitResponse, error) {
	creds = creds.Normalize()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, field := range [][2]string{
		{"username", creds.Username},
		{"password", creds.Password},
		{"client_id", creds.ClientID},
		{"client_secret", creds.ClientSecret},
	} {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", field[0], err)
		}
	}

	part, err := mw.CreateFormFile(UploadField, upload.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	resp, err := s.send(ctx, http.MethodPost, s.baseURL+followPath, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}

	var out SubmitResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDecode, err)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("%w: no session id returned by server", shared.ErrMissingArgument)
	}

	return &out, nil
}

// Cancel asks the server to drop the session's job.
func (s *ImportService) Cancel(ctx context.Context, sessionID string) error {
	resp, err := s.send(ctx, http.MethodPost, s.endpoint(cancelPath, sessionID), "", nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	return nil
}

// QueueStatus polls the session's place in the queue.
func (s *ImportService) QueueStatus(ctx context.Context, sessionID string) (*QueueStatus, error) {
	resp, err := s.send(ctx, http.MethodGet, s.endpoint(queuePath, sessionID), "", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var out QueueStatus
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDecode, err)
	}
	return &out, nil
}

func (s *ImportService) endpoint(path, sessionID string) string {
	return s.baseURL + path + "?" + url.Values{"session_id": {sessionID}}.Encode()
}

func (s *ImportService) send(ctx context.Context, method, fullURL, contentType string, body io.Reader) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", shared.ErrAPIRequest, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrAPIRequest, err)
	}

	return &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}
