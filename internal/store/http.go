package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPStore talks to the interview backend's REST API. All failures are
// wrapped in ErrPersistence except 404 lookups, which map to ErrNotFound.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
	token  string
}

// HTTPOption customizes an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		s.client = c
	}
}

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) HTTPOption {
	return func(s *HTTPStore) {
		s.token = token
	}
}

// NewHTTPStore returns a store backed by the REST API at baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPOption) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse base URL: %w", err)
	}
	s := &HTTPStore{
		base:   u,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPStore) CreateSession(ctx context.Context, sess Session) error {
	return s.do(ctx, http.MethodPost, "/api/sessions", sess, nil)
}

func (s *HTTPStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &sess)
	return sess, err
}

func (s *HTTPStore) GetSessionByTarget(ctx context.Context, targetID string) (Session, error) {
	var sess Session
	path := "/api/targets/" + url.PathEscape(targetID) + "/session"
	err := s.do(ctx, http.MethodGet, path, nil, &sess)
	return sess, err
}

func (s *HTTPStore) UpdateSession(ctx context.Context, id string, u StatusUpdate) error {
	return s.do(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(id), u, nil)
}

func (s *HTTPStore) AppendEntries(ctx context.Context, sessionID string, entries []TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/transcript"
	return s.do(ctx, http.MethodPost, path, entries, nil)
}

func (s *HTTPStore) GetTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	var entries []TranscriptEntry
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/transcript"
	if err := s.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *HTTPStore) ClearTranscript(ctx context.Context, sessionID string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/transcript"
	return s.do(ctx, http.MethodDelete, path, nil, nil)
}

func (s *HTTPStore) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("store: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	u := *s.base
	u.Path, _ = url.JoinPath(s.base.Path, path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrPersistence, method, path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrPersistence, method, path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrPersistence, err)
		}
	}
	return nil
}
