package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/xmlgate/internal/config"
	"github.com/dharsanguruparan/xmlgate/internal/ingest"
	"github.com/dharsanguruparan/xmlgate/internal/notify"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
	"github.com/dharsanguruparan/xmlgate/internal/signing"
	"github.com/dharsanguruparan/xmlgate/internal/storage"
)

type memQueue struct {
	mu       sync.Mutex
	payloads []queue.ProcessPayload
}

func (q *memQueue) EnqueueProcess(_ context.Context, p queue.ProcessPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return nil
}

type presigner struct{}

func (presigner) PresignURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://archive.local/" + objectKey, nil
}

type env struct {
	cfg    *config.Config
	store  *storage.MemoryStore
	queue  *memQueue
	writer *notify.Writer
	srv    *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{
		InputDir:     t.TempDir(),
		OutputDir:    t.TempDir(),
		MaxFileSize:  1 << 10,
		SignedURLTTL: time.Minute,
	}
	e := &env{cfg: cfg, store: storage.NewMemoryStore(), queue: &memQueue{}, writer: notify.NewWriter(cfg.OutputDir)}
	s := New(cfg, Deps{
		Ledger:  e.store,
		Scanner: ingest.NewScanner(cfg.InputDir, e.store, e.queue, nil, nil),
		Archive: presigner{},
		Outputs: e.writer,
		Signer:  signing.NewSigner([]byte("secret")),
		Metrics: http.NotFoundHandler(),
	})
	e.srv = httptest.NewServer(s.Routes())
	t.Cleanup(e.srv.Close)
	return e
}

func upload(t *testing.T, base, name, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp, err := http.Post(base+"/inputs", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadEnqueues(t *testing.T) {
	e := newEnv(t)
	resp := upload(t, e.srv.URL, "R.1.xml", "<Message><Version>3.0</Version></Message>")
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, e.queue.payloads, 1)
	assert.Equal(t, "R.1.xml", e.queue.payloads[0].FileName)
	_, err := os.Stat(filepath.Join(e.cfg.InputDir, "R.1.xml"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(e.cfg.InputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp upload removed")

	again := upload(t, e.srv.URL, "R.1.xml", "<Message/>")
	defer again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestUploadRejectsNonXML(t *testing.T) {
	e := newEnv(t)
	resp := upload(t, e.srv.URL, "notes.txt", "hello")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadRejectsOversized(t *testing.T) {
	e := newEnv(t)
	resp := upload(t, e.srv.URL, "big.xml", string(bytes.Repeat([]byte("a"), 2<<10)))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, e.queue.payloads)
}

func TestProcessAndScanTriggers(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.cfg.InputDir, "a.xml"), []byte("<a/>"), 0o644))

	resp, err := http.Post(e.srv.URL+"/inputs/a.xml/process", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(e.srv.URL+"/inputs/missing.xml/process", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(e.srv.URL+"/scan", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var report ingest.ScanReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 1, report.Discovered)
}

func TestJobAndSignedDownload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.store.Register(ctx, "k1", "a.xml")
	require.NoError(t, err)

	resp, err := http.Get(e.srv.URL + "/jobs/k1/notification-url")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no notification yet")

	_, err = e.writer.Write("a.AcceptingNotification.xml", []byte("<Notification/>"))
	require.NoError(t, err)
	require.NoError(t, e.store.MarkArchived(ctx, "k1"))
	require.NoError(t, e.store.Complete(ctx, "k1", "a.AcceptingNotification.xml"))

	resp, err = http.Get(e.srv.URL + "/jobs/k1")
	require.NoError(t, err)
	var job map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close()
	assert.Equal(t, "completed", job["status"])

	resp, err = http.Get(e.srv.URL + "/jobs/k1/archive-url")
	require.NoError(t, err)
	var archived map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&archived))
	resp.Body.Close()
	assert.Equal(t, "https://archive.local/k1/a.xml", archived["url"])

	resp, err = http.Get(e.srv.URL + "/jobs/k1/notification-url")
	require.NoError(t, err)
	var link map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&link))
	resp.Body.Close()

	resp, err = http.Get(e.srv.URL + link["url"])
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<Notification/>", string(data))

	u, err := url.Parse(link["url"])
	require.NoError(t, err)
	q := u.Query()
	q.Set("name", "other.xml")
	resp, err = http.Get(e.srv.URL + "/download?" + q.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownJob(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/jobs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
