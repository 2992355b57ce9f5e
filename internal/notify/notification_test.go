package notify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

func fixedBuilder() *Builder {
	return &Builder{Now: func() time.Time {
		return time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("MSK", 3*3600))
	}}
}

func TestBuildAccepted(t *testing.T) {
	header := model.Header{Version: "3.0", TimeStamp: "2024-02-29T10:00:00", Signature: "c2lnbmF0dXJl"}
	n := fixedBuilder().Build("REPORT.12345.xml", header, model.DecisionAccepted)

	assert.Equal(t, model.DecisionAccepted, n.Status)
	assert.Equal(t, "12345", n.DocumentID)
	assert.Equal(t, "2024-02-29T10:00:00", n.TimeStamp)
	assert.Equal(t, "c2lnbmF0dXJl", n.Signature)
	assert.Equal(t, "3.0", n.Details.Version)
	assert.Equal(t, "2024-03-01T09:30:00Z", n.Details.ProcessingTime)
	assert.Equal(t, MessageAccepted, n.Details.Message)
}

func TestBuildRejected(t *testing.T) {
	n := fixedBuilder().Build("a.b.xml", model.Header{Version: "1.0"}, model.DecisionRejected)
	assert.Equal(t, model.DecisionRejected, n.Status)
	assert.Equal(t, MessageRejected, n.Details.Message)
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "HDR-1", DocumentID("REPORT.12345.xml", model.Header{DocumentID: " HDR-1 "}))
	assert.Equal(t, "12345", DocumentID("in/REPORT.12345.xml", model.Header{}))
	assert.Equal(t, "xml", DocumentID("report.xml", model.Header{}))
	assert.Equal(t, "report", DocumentID("report", model.Header{}))
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "REPORT.12345.AcceptingNotification.xml", FileName("REPORT.12345.xml", model.DecisionAccepted))
	assert.Equal(t, "REPORT.12345.DeniedNotification.xml", FileName("/in/REPORT.12345.xml", model.DecisionRejected))
	assert.Equal(t, "broken.ErrorNotification.xml", ErrorFileName("broken.XML"))
}

func TestRenderNotification(t *testing.T) {
	header := model.Header{Version: "3.0", TimeStamp: "ts", Signature: "sig"}
	out, err := Render(fixedBuilder().Build("R.1.xml", header, model.DecisionAccepted))
	require.NoError(t, err)

	doc := string(out)
	assert.True(t, strings.HasPrefix(doc, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<Notification>"))
	assert.Contains(t, doc, "<Status>Accepted</Status>")
	assert.Contains(t, doc, "<DocumentID>1</DocumentID>")
	assert.Contains(t, doc, "<SignedData>\n    <Signature>sig</Signature>\n  </SignedData>")
	assert.Contains(t, doc, "<Message>Document successfully validated and processed.</Message>")
}

func TestRenderErrorNotification(t *testing.T) {
	n := fixedBuilder().BuildError("broken.xml", &model.ParseError{Reason: "missing Version"})
	out, err := Render(n)
	require.NoError(t, err)

	doc := string(out)
	assert.Contains(t, doc, `<Notification type="ERROR">`)
	assert.Contains(t, doc, "<OriginalMessage>broken.xml</OriginalMessage>")
	assert.Contains(t, doc, "<Errors>\n    <Error>")
	assert.Contains(t, doc, "missing Version")
}

func TestBuildErrorWithoutCause(t *testing.T) {
	n := fixedBuilder().BuildError("x.xml", nil)
	assert.Equal(t, []string{"unknown error"}, n.Errors)
}

func TestWriterReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	path, err := w.Write("a.AcceptingNotification.xml", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.AcceptingNotification.xml"), path)

	_, err = w.Write("a.AcceptingNotification.xml", []byte("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriterMissingDir(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "missing"))
	_, err := w.Write("a.xml", []byte("x"))
	assert.Error(t, err)
}
