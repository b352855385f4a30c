package store_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/admitly/viva/internal/store"
)

func TestHTTPStore_CreateSessionPostsJSON(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody store.Session
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	sess := store.Session{ID: "s1", TargetID: "t1", Status: store.StateReady, CreatedAt: time.Now().UTC()}
	if err := s.CreateSession(t.Context(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/sessions" {
		t.Errorf("request = %s %s, want POST /api/sessions", gotMethod, gotPath)
	}
	if gotBody.ID != "s1" || gotBody.Status != store.StateReady {
		t.Errorf("posted session = %+v", gotBody)
	}
}

func TestHTTPStore_GetSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	_, err = s.GetSession(t.Context(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession error = %v, want ErrNotFound", err)
	}
}

func TestHTTPStore_ServerErrorWrapsErrPersistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	if err := s.UpdateSession(t.Context(), "s1", store.StatusUpdate{Status: store.StateCompleted}); !errors.Is(err, store.ErrPersistence) {
		t.Errorf("UpdateSession error = %v, want ErrPersistence", err)
	}
}

func TestHTTPStore_GetTranscriptDecodesEntries(t *testing.T) {
	entries := []store.TranscriptEntry{
		{ID: "e1", Speaker: store.SpeakerUser, Text: "hi", Sequence: 1},
		{ID: "e2", Speaker: store.SpeakerAgent, Text: "hello", Sequence: 2},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s1/transcript" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(entries)
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	got, err := s.GetTranscript(t.Context(), "s1")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e1" || got[1].Speaker != store.SpeakerAgent {
		t.Errorf("GetTranscript = %+v", got)
	}
}

func TestHTTPStore_AuthTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(store.Session{ID: "s1"})
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL, store.WithAuthToken("secret"))
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	if _, err := s.GetSession(t.Context(), "s1"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestHTTPStore_AppendNoEntriesIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	if err := s.AppendEntries(t.Context(), "s1", nil); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	if called {
		t.Error("empty append hit the server")
	}
}

func TestHTTPStore_GetSessionByTarget(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewEncoder(w).Encode(store.Session{ID: "s1", TargetID: "t-1", Status: store.StateInterrupted})
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	sess, err := s.GetSessionByTarget(t.Context(), "t-1")
	if err != nil {
		t.Fatalf("GetSessionByTarget: %v", err)
	}
	if gotMethod != http.MethodGet || gotPath != "/api/targets/t-1/session" {
		t.Errorf("request = %s %s, want GET /api/targets/t-1/session", gotMethod, gotPath)
	}
	if sess.ID != "s1" || sess.Status != store.StateInterrupted {
		t.Errorf("session = %+v", sess)
	}
}

func TestHTTPStore_ClearTranscriptSendsDelete(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	s, err := store.NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	if err := s.ClearTranscript(t.Context(), "s1"); err != nil {
		t.Fatalf("ClearTranscript: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/sessions/s1/transcript" {
		t.Errorf("request = %s %s, want DELETE /api/sessions/s1/transcript", gotMethod, gotPath)
	}
}
