package intake

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	gos3 "talencor/pkg/s3"
)

// Object is a stored blob as seen by List.
type Object struct {
	Key  string
	Size int64
}

// Backend is the narrow storage contract every intake tier implements.
// Get and Delete report ErrNotFound for missing keys.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by backends that can hand out direct download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// FSBackend stores objects as files on an afero filesystem.
type FSBackend struct {
	fs afero.Fs
}

// NewMemoryBackend keeps objects in process memory.
func NewMemoryBackend() *FSBackend {
	return NewFSBackend(afero.NewMemMapFs())
}

// NewLocalBackend stores objects below dir on the local disk.
func NewLocalBackend(dir string) (*FSBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return NewFSBackend(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewFSBackend wraps an arbitrary afero filesystem.
func NewFSBackend(fsys afero.Fs) *FSBackend {
	return &FSBackend{fs: fsys}
}

func (b *FSBackend) Put(_ context.Context, key string, data []byte, _ string) error {
	name := "/" + key
	if err := b.fs.MkdirAll(path.Dir(name), 0o750); err != nil {
		return err
	}
	return afero.WriteFile(b.fs, name, data, 0o640)
}

func (b *FSBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, "/"+key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FSBackend) List(_ context.Context, prefix string) ([]Object, error) {
	root := "/" + strings.TrimSuffix(prefix, "/")
	if _, err := b.fs.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var out []Object
	err := afero.Walk(b.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		out = append(out, Object{Key: strings.TrimPrefix(p, "/"), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *FSBackend) Delete(_ context.Context, key string) error {
	err := b.fs.Remove("/" + key)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// S3Backend stores objects in an S3-compatible bucket.
type S3Backend struct {
	client *gos3.Client
	bucket string
}

// NewS3Backend wires the shared S3 client to one bucket.
func NewS3Backend(client *gos3.Client, bucket string) (*S3Backend, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	return &S3Backend{client: client, bucket: bucket}, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return b.client.PutObject(ctx, b.bucket, key, data, contentType)
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.GetObject(ctx, b.bucket, key)
	if gos3.IsNotFound(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]Object, error) {
	objs, err := b.client.ListObjects(ctx, b.bucket, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(objs))
	for _, o := range objs {
		out = append(out, Object{Key: o.Key, Size: o.Size})
	}
	return out, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	err := b.client.DeleteObject(ctx, b.bucket, key)
	if gos3.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}

func (b *S3Backend) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return b.client.PresignGet(ctx, b.bucket, key, ttl)
}
