package sessionstore

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "session.db"))
	if err := s.Open(); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestLoadUnknownURIReturnsZero(t *testing.T) {
	s := openTestStore(t)

	pos, err := s.Load("file:///never-played.mp4")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 0 {
		t.Errorf("position = %v, want 0 for an unknown uri", pos)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	uri := "file:///movie.mkv"

	if err := s.Save(uri, 90*time.Second); err != nil {
		t.Fatalf("save: %v", err)
	}
	pos, err := s.Load(uri)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 90*time.Second {
		t.Errorf("position = %v, want 90s", pos)
	}
}

func TestSaveReplacesPreviousPosition(t *testing.T) {
	s := openTestStore(t)
	uri := "file:///movie.mkv"

	if err := s.Save(uri, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(uri, 2*time.Minute); err != nil {
		t.Fatalf("save again: %v", err)
	}

	pos, err := s.Load(uri)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 2*time.Minute {
		t.Errorf("position = %v, want the replaced 2m", pos)
	}
}

func TestForgetRemovesPosition(t *testing.T) {
	s := openTestStore(t)
	uri := "file:///movie.mkv"

	if err := s.Save(uri, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Forget(uri); err != nil {
		t.Fatalf("forget: %v", err)
	}

	pos, err := s.Load(uri)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 0 {
		t.Errorf("position = %v after forget, want 0", pos)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	uri := "file:///movie.mkv"

	s := New(path)
	if err := s.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(uri, 45*time.Second); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = New(path)
	if err := s.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	pos, err := s.Load(uri)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pos != 45*time.Second {
		t.Errorf("position = %v after reopen, want 45s", pos)
	}
}
