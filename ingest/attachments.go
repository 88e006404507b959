package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	getter "github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/internal/httpclient"
	"github.com/teranos/messagesd/platform"
)

const (
	// maxAttachmentBytes caps a single download.
	maxAttachmentBytes = 100 << 20

	attachmentFetchTimeout = 2 * time.Minute
)

// AttachmentFetcher downloads attachment URLs into the blob directory.
// URLs come from untrusted payloads, so every fetch goes through the
// SSRF-hardened client: no private addresses, validated redirects.
//
// Blobs are laid out content-addressed as <dir>/<hh>/<hash> where hh is
// the first two hex characters, so identical content downloads once.
type AttachmentFetcher struct {
	dir    string
	client *httpclient.SaferClient
	getter *getter.HttpGetter
	logger *zap.SugaredLogger
}

// NewAttachmentFetcher creates a fetcher storing blobs under dir.
func NewAttachmentFetcher(dir string, logger *zap.SugaredLogger) *AttachmentFetcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	client := httpclient.NewSaferClient(attachmentFetchTimeout)
	return &AttachmentFetcher{
		dir:    dir,
		client: client,
		getter: &getter.HttpGetter{
			Client:                client.Client,
			MaxBytes:              maxAttachmentBytes,
			XTerraformGetDisabled: true,
		},
		logger: logger,
	}
}

// Fetch downloads one attachment and returns its blob record. Inline
// attachments skip the network and are stored as-is. The caller
// persists the record; Fetch only touches the filesystem.
func (f *AttachmentFetcher) Fetch(ctx context.Context, att platform.Attachment) (*Blob, error) {
	var parsed *url.URL
	if att.Data == nil {
		var err error
		parsed, err = f.client.ValidateURL(att.URL)
		if err != nil {
			return nil, errors.Wrapf(err, "refusing attachment url %q", att.URL)
		}
	}

	tmpDir := filepath.Join(f.dir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create blob tmp dir")
	}
	tmp := filepath.Join(tmpDir, uuid.NewString())
	defer os.Remove(tmp)

	if att.Data != nil {
		if err := os.WriteFile(tmp, att.Data, 0o644); err != nil {
			return nil, errors.Wrap(err, "write inline blob")
		}
	} else {
		dl := &getter.Client{
			Ctx:  ctx,
			Src:  att.URL,
			Dst:  tmp,
			Mode: getter.ClientModeFile,
			Getters: map[string]getter.Getter{
				"http":  f.getter,
				"https": f.getter,
			},
		}
		if err := dl.Get(); err != nil {
			return nil, errors.Wrapf(err, "download %q", att.URL)
		}
	}

	hash, size, err := hashFile(tmp)
	if err != nil {
		return nil, err
	}

	final := filepath.Join(f.dir, hash[:2], hash)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, errors.Wrap(err, "create blob dir")
	}
	if _, err := os.Stat(final); os.IsNotExist(err) {
		if err := os.Rename(tmp, final); err != nil {
			return nil, errors.Wrapf(err, "store blob %s", hash)
		}
	}

	return &Blob{
		Hash:        hash,
		Filename:    blobFilename(att, parsed),
		ContentType: att.ContentType,
		SizeBytes:   size,
		LocalPath:   final,
		FetchedAt:   time.Now().UnixMilli(),
	}, nil
}

func hashFile(path string) (string, int64, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", 0, errors.Wrap(err, "open downloaded blob")
	}
	defer fh.Close()

	h := sha256.New()
	size, err := io.Copy(h, fh)
	if err != nil {
		return "", 0, errors.Wrap(err, "hash downloaded blob")
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// blobFilename keeps the platform's filename when given, else the URL
// path's base. Path separators are escaped, never truncated.
func blobFilename(att platform.Attachment, parsed *url.URL) string {
	name := att.Filename
	if name == "" && parsed != nil {
		name = filepath.Base(parsed.Path)
		if name == "." || name == "/" {
			name = ""
		}
	}
	return url.PathEscape(name)
}
