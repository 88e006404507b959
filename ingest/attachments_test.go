package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/messagesd/internal/httpclient"
	"github.com/teranos/messagesd/platform"
)

const helloHash = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// localFetcher swaps in the test server's client so fetches may reach
// loopback addresses, which the production client refuses.
func localFetcher(t *testing.T, srv *httptest.Server) *AttachmentFetcher {
	t.Helper()
	f := NewAttachmentFetcher(t.TempDir(), nil)
	f.client = httpclient.WrapClient(srv.Client())
	f.getter.Client = srv.Client()
	return f
}

func TestFetchStoresInlineData(t *testing.T) {
	f := NewAttachmentFetcher(t.TempDir(), nil)

	blob, err := f.Fetch(context.Background(), platform.Attachment{
		Filename:    "voice note.ogg",
		ContentType: "audio/ogg",
		Data:        []byte("hello world"),
	})
	require.NoError(t, err)

	assert.Equal(t, helloHash, blob.Hash)
	assert.Equal(t, int64(11), blob.SizeBytes)
	assert.Equal(t, "voice%20note.ogg", blob.Filename)
	assert.Equal(t, "audio/ogg", blob.ContentType)
	assert.Greater(t, blob.FetchedAt, int64(0))

	// Content-addressed layout: <dir>/<hh>/<hash>
	assert.Equal(t, filepath.Join(f.dir, "b9", helloHash), blob.LocalPath)
	data, err := os.ReadFile(blob.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFetchDownloadsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("attachment body"))
	}))
	defer srv.Close()

	f := localFetcher(t, srv)
	blob, err := f.Fetch(context.Background(), platform.Attachment{URL: srv.URL + "/photos/cat.jpg"})
	require.NoError(t, err)

	assert.Equal(t, "baebb75e3b75608ff9c4483c5c93ae00b989a63378a9d0831fecc26f8c75f90e", blob.Hash)
	assert.Equal(t, "cat.jpg", blob.Filename)

	data, err := os.ReadFile(blob.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "attachment body", string(data))
}

func TestFetchDeduplicatesContent(t *testing.T) {
	f := NewAttachmentFetcher(t.TempDir(), nil)
	ctx := context.Background()

	first, err := f.Fetch(ctx, platform.Attachment{Data: []byte("hello world")})
	require.NoError(t, err)
	second, err := f.Fetch(ctx, platform.Attachment{Data: []byte("hello world")})
	require.NoError(t, err)

	assert.Equal(t, first.LocalPath, second.LocalPath)

	entries, err := os.ReadDir(filepath.Dir(first.LocalPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFetchRefusesPrivateURL(t *testing.T) {
	f := NewAttachmentFetcher(t.TempDir(), nil)

	_, err := f.Fetch(context.Background(), platform.Attachment{URL: "http://10.0.0.1/secret"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing attachment url")
}
