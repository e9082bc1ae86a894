package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore reads and writes document files in Google Cloud Storage. It
// assumes Application Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a storage client.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Fetch downloads the object behind a gs://bucket/path URI.
func (s *GCSStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// Upload copies a local file into the bucket and returns its gs:// URI.
func (s *GCSStore) Upload(ctx context.Context, bucketName, objectName, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("GCSStore.Upload: open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("GCSStore.Upload: copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("GCSStore.Upload: finalize upload: %w", err)
	}
	return "gs://" + bucketName + "/" + objectName, nil
}

// ParseGCSURI splits gs://bucket/path/to/file.pdf into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI returns the last path element of a storage URI,
// e.g. "gs://bucket/folder/file.pdf" gives "file.pdf".
func FilenameFromURI(uri string) string {
	_, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return path.Base(uri)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 {
		return rest
	}
	return path.Base(parts[1])
}

// ErrOutsideRoot is returned for file:// URIs that resolve outside the
// fetcher's root directory.
var ErrOutsideRoot = errors.New("path outside of allowed directory")

// FileFetcher reads file:// URIs from the local filesystem, limited to files
// under Root. Symlinks are resolved before the check.
type FileFetcher struct {
	Root string
}

func (f FileFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	if f.Root == "" {
		return nil, fmt.Errorf("FileFetcher.Fetch: no root directory configured")
	}
	root, err := filepath.EvalSymlinks(f.Root)
	if err != nil {
		return nil, fmt.Errorf("FileFetcher.Fetch: resolving root: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("FileFetcher.Fetch: resolving root: %w", err)
	}

	p := filepath.Clean(strings.TrimPrefix(uri, "file://"))
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return nil, fmt.Errorf("FileFetcher.Fetch: %w", err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("FileFetcher.Fetch: %w: %s", ErrOutsideRoot, p)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("FileFetcher.Fetch: %w", err)
	}
	return data, nil
}

var (
	_ Fetcher = (*GCSStore)(nil)
	_ Fetcher = FileFetcher{}
)
