package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestDownload(t *testing.T) {
	t.Parallel()

	payload := []byte("#!/bin/sh\necho skaffold\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/skaffold-linux-amd64" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "bin", "skaffold")
	dl := New(WithLogger(zaptest.NewLogger(t)), WithProgressInterval(0))

	if err := dl.Download(context.Background(), srv.URL+"/skaffold-linux-amd64", dest, 0o755); err != nil {
		t.Fatalf("Download returned error: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected content %q", got)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat download: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected executable mode, got %v", info.Mode())
	}

	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final file, found %d entries", len(entries))
	}
}

func TestDownloadUnexpectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "skaffold")
	err := New().Download(context.Background(), srv.URL, dest, 0o755)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file on failure, stat err = %v", statErr)
	}
}
