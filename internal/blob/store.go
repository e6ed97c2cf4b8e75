package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxObjectSize bounds a single download. Source maps above this are rejected.
const MaxObjectSize = 32 << 20

// ErrNotFound is returned when the object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store reads release artifacts (source-map manifests and map files).
type Store interface {
	Get(ctx context.Context, bucket, path string) ([]byte, error)
}

// Backend names accepted by New.
const (
	BackendS3    = "s3"
	BackendLocal = "local"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Region   string
	Endpoint string
	LocalDir string
}

// New creates the store for the configured backend.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendS3:
		return NewS3Store(ctx, S3Config{Region: opts.Region, Endpoint: opts.Endpoint})
	case BackendLocal, "":
		return NewLocalStore(opts.LocalDir)
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", opts.Backend)
	}
}

// LocalStore serves objects from <baseDir>/<bucket>/<path>. It is meant for
// development and tests.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, errors.New("local blob directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving blob directory: %w", err)
	}
	return &LocalStore{baseDir: abs}, nil
}

func (s *LocalStore) Get(_ context.Context, bucket, path string) ([]byte, error) {
	full, err := s.resolve(bucket, path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, path, ErrNotFound)
		}
		return nil, fmt.Errorf("opening blob %s/%s: %w", bucket, path, err)
	}
	defer f.Close()

	return readLimited(f)
}

// resolve joins bucket and path under the base directory and refuses paths
// that escape it.
func (s *LocalStore) resolve(bucket, path string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(bucket), filepath.FromSlash(strings.TrimPrefix(path, "/")))
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob path %q escapes the store", path)
	}
	return full, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("blob exceeds %d bytes", MaxObjectSize)
	}
	return data, nil
}
