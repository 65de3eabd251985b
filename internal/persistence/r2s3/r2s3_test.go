package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"voxelmind/internal/logging"
	"voxelmind/internal/trainer"
)

func TestClientPutFileSignsRequest(t *testing.T) {
	var (
		mu   sync.Mutex
		got  *http.Request
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, body = r, b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Options{Endpoint: srv.URL, Bucket: "brains", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "shared-000000000010.ckpt.zst")
	if err := os.WriteFile(local, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.PutFile(context.Background(), "run a/shared-000000000010.ckpt.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Method != http.MethodPut || got.URL.EscapedPath() != "/brains/run%20a/shared-000000000010.ckpt.zst" {
		t.Fatalf("request %s %s", got.Method, got.URL.EscapedPath())
	}
	if string(body) != "weights" {
		t.Fatalf("body=%q", body)
	}
	sum := sha256.Sum256([]byte("weights"))
	if got.Header.Get("x-amz-content-sha256") != hex.EncodeToString(sum[:]) {
		t.Fatalf("payload hash=%q", got.Header.Get("x-amz-content-sha256"))
	}
	if got.Header.Get("x-amz-date") != "20260301T120000Z" {
		t.Fatalf("date=%q", got.Header.Get("x-amz-date"))
	}
	auth := got.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AK/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("authorization=%q", auth)
	}
}

func TestClientPutReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := New(Options{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Put(context.Background(), "k", strings.NewReader("x"), 1)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err=%v want status=403", err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Options{Endpoint: "acct.r2.cloudflarestorage.com", Bucket: "b"}); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err=%v want ErrIncomplete", err)
	}
	c, err := New(Options{Endpoint: "acct.r2.cloudflarestorage.com", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil || c.endpoint != "https://acct.r2.cloudflarestorage.com" {
		t.Fatalf("client=%+v err=%v", c, err)
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirrorUploadsRecordedCheckpoints(t *testing.T) {
	root := t.TempDir()
	ck := filepath.Join(root, "checkpoints", "shared-000000000010.ckpt.zst")
	if err := os.MkdirAll(filepath.Dir(ck), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ck, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "elsewhere.ckpt.zst")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{fails: 1}
	m := NewMirror(up, root, MirrorOptions{Prefix: "/runs/", Log: logging.Discard()})
	m.backoff = func(int) time.Duration { return 0 }
	var idx trainer.Index = m
	idx.RecordCheckpoint(trainer.CheckpointInfo{Name: "shared", Path: ck})
	idx.RecordCheckpoint(trainer.CheckpointInfo{Name: "stray", Path: outside})
	idx.RecordEpisode(trainer.EpisodeSummary{AgentID: "a"})
	m.Close()
	m.Enqueue(ck)

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.keys) != 1 || up.keys[0] != "runs/checkpoints/shared-000000000010.ckpt.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirrorGivesUpAfterAttempts(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "a.ckpt.zst")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	up := &fakeUploader{fails: 5}
	m := NewMirror(up, root, MirrorOptions{Attempts: 2, Log: logging.Discard()})
	m.backoff = func(int) time.Duration { return 0 }
	m.Enqueue(p)
	m.Close()
	if st := m.Stats(); st.UploadFailTotal != 1 || st.LastErrorUnix == 0 {
		t.Fatalf("stats=%+v", st)
	}
	if up.fails != 3 {
		t.Fatalf("attempts made=%d want 2", 5-up.fails)
	}
}
