// Package intake validates applicant uploads and stores them in a token-scoped namespace.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"talencor/services/portal/internal/metrics"
	"talencor/services/portal/internal/store"
)

var (
	ErrInvalidFileType    = errors.New("file type not allowed")
	ErrFileTooLarge       = errors.New("file exceeds size limit")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("file not found")
)

const (
	keyRoot   = "applications/"
	urlPrefix = "/api/files/"
)

// File is one upload as received from the client.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Rejection reports why one file of a batch was not stored.
type Rejection struct {
	Name string
	Err  error
}

// Intake accepts, stores and retrieves applicant uploads.
type Intake struct {
	backend Backend
	policy  Policy
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures an Intake.
type Option func(*Intake)

func WithPolicy(p Policy) Option {
	return func(in *Intake) { in.policy = p.withDefaults() }
}

func WithClock(now func() time.Time) Option {
	return func(in *Intake) {
		if now != nil {
			in.now = now
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(in *Intake) { in.log = l }
}

// New returns an Intake storing objects in backend.
func New(backend Backend, opts ...Option) (*Intake, error) {
	if backend == nil {
		return nil, errors.New("intake: backend is required")
	}
	in := &Intake{
		backend: backend,
		policy:  DefaultPolicy(),
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Policy returns the active limits.
func (in *Intake) Policy() Policy { return in.policy }

// Accept validates f and stores it under the namespace. Nothing is stored on failure.
func (in *Intake) Accept(ctx context.Context, namespace string, f File) (store.Attachment, error) {
	if !validNamespace(namespace) {
		return store.Attachment{}, fmt.Errorf("intake: invalid namespace %q", namespace)
	}

	contentType, err := in.policy.Check(f)
	if err != nil {
		metrics.Uploads.WithLabelValues(resultLabel(err)).Inc()
		return store.Attachment{}, err
	}

	key, err := in.objectKey(namespace, f.Name)
	if err != nil {
		return store.Attachment{}, err
	}

	if err := in.backend.Put(ctx, key, f.Data, contentType); err != nil {
		metrics.Uploads.WithLabelValues("storage_error").Inc()
		return store.Attachment{}, fmt.Errorf("%w: put %s: %w", ErrStorageUnavailable, key, err)
	}

	metrics.Uploads.WithLabelValues("accepted").Inc()
	metrics.UploadBytes.Observe(float64(len(f.Data)))

	return store.Attachment{
		ID:   key,
		Name: f.Name,
		URL:  URLFor(key),
		Size: int64(len(f.Data)),
		Type: contentType,
	}, nil
}

// AcceptBatch stores every acceptable file and reports the rest. One bad file
// never aborts the batch.
func (in *Intake) AcceptBatch(ctx context.Context, namespace string, files []File) ([]store.Attachment, []Rejection) {
	accepted := make([]store.Attachment, 0, len(files))
	var rejected []Rejection

	for _, f := range files {
		att, err := in.Accept(ctx, namespace, f)
		if err != nil {
			in.log.Warn().
				Err(err).
				Str("namespace", namespace).
				Str("file", f.Name).
				Int("bytes", len(f.Data)).
				Msg("upload rejected")
			rejected = append(rejected, Rejection{Name: f.Name, Err: err})
			continue
		}
		accepted = append(accepted, att)
	}
	return accepted, rejected
}

// Retrieve returns the bytes stored under ref.
func (in *Intake) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	if !validKey(ref) {
		return nil, ErrNotFound
	}
	data, err := in.backend.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %w", ErrStorageUnavailable, ref, err)
	}
	return data, nil
}

// PresignURL returns a direct download URL when the backend supports it.
// ok is false for backends that must be streamed through the portal.
func (in *Intake) PresignURL(ctx context.Context, ref string, ttl time.Duration) (url string, ok bool, err error) {
	p, isPresigner := in.backend.(Presigner)
	if !isPresigner {
		return "", false, nil
	}
	if !validKey(ref) {
		return "", true, ErrNotFound
	}
	url, err = p.PresignGet(ctx, ref, ttl)
	if err != nil {
		return "", true, fmt.Errorf("%w: presign %s: %w", ErrStorageUnavailable, ref, err)
	}
	return url, true, nil
}

// ListForToken returns references to every object stored for namespace.
func (in *Intake) ListForToken(ctx context.Context, namespace string) ([]store.Attachment, error) {
	if !validNamespace(namespace) {
		return nil, fmt.Errorf("intake: invalid namespace %q", namespace)
	}
	objs, err := in.backend.List(ctx, Prefix(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrStorageUnavailable, namespace, err)
	}

	out := make([]store.Attachment, 0, len(objs))
	for _, o := range objs {
		name := DisplayName(o.Key)
		out = append(out, store.Attachment{
			ID:   o.Key,
			Name: name,
			URL:  URLFor(o.Key),
			Size: o.Size,
			Type: TypeForName(name),
		})
	}
	return out, nil
}

// Delete removes the object stored under ref.
func (in *Intake) Delete(ctx context.Context, ref string) error {
	if !validKey(ref) {
		return ErrNotFound
	}
	if err := in.backend.Delete(ctx, ref); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: delete %s: %w", ErrStorageUnavailable, ref, err)
	}
	return nil
}

// DeleteForToken removes every object stored for namespace and returns how many were removed.
func (in *Intake) DeleteForToken(ctx context.Context, namespace string) (int, error) {
	objs, err := in.ListForToken(ctx, namespace)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, o := range objs {
		if err := in.Delete(ctx, o.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Prefix is the key prefix of a namespace.
func Prefix(namespace string) string {
	return keyRoot + namespace + "/"
}

// InNamespace reports whether ref is a key stored under namespace.
func InNamespace(ref, namespace string) bool {
	return validKey(ref) && strings.HasPrefix(ref, Prefix(namespace))
}

// URLFor is the retrieval path of a stored key.
func URLFor(key string) string {
	return urlPrefix + key
}

// objectKey builds applications/<namespace>/<unix-millis>-<nonce>-<sanitized name>.
func (in *Intake) objectKey(namespace, name string) (string, error) {
	nonce, err := gonanoid.Generate("0123456789abcdef", 6)
	if err != nil {
		return "", fmt.Errorf("intake: nonce: %w", err)
	}
	millis := strconv.FormatInt(in.now().UnixMilli(), 10)
	return Prefix(namespace) + millis + "-" + nonce + "-" + Sanitize(name), nil
}

// DisplayName recovers the sanitized original file name from a key.
func DisplayName(key string) string {
	base := key[strings.LastIndexByte(key, '/')+1:]
	parts := strings.SplitN(base, "-", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return base
}

func validKey(ref string) bool {
	if !strings.HasPrefix(ref, keyRoot) {
		return false
	}
	rest := strings.TrimPrefix(ref, keyRoot)
	ns, name, ok := strings.Cut(rest, "/")
	if !ok || !validNamespace(ns) || name == "" {
		return false
	}
	return !strings.Contains(name, "/") && name != "." && name != ".."
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFileType):
		return "invalid_type"
	case errors.Is(err, ErrFileTooLarge):
		return "too_large"
	default:
		return "error"
	}
}
