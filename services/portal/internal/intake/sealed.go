package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// Sealed encrypts objects to age recipients before handing them to the inner
// backend and decrypts them on the way out. Listed sizes are ciphertext sizes.
type Sealed struct {
	inner      Backend
	recipients []age.Recipient
	identities []age.Identity
}

// NewSealed parses newline separated age recipients ("age1...") and identities
// ("AGE-SECRET-KEY-1...") and wraps inner.
func NewSealed(inner Backend, recipients, identities string) (*Sealed, error) {
	if inner == nil {
		return nil, errors.New("inner backend is required")
	}
	rs, err := age.ParseRecipients(strings.NewReader(recipients))
	if err != nil {
		return nil, fmt.Errorf("parse age recipients: %w", err)
	}
	ids, err := age.ParseIdentities(strings.NewReader(identities))
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	return &Sealed{inner: inner, recipients: rs, identities: ids}, nil
}

func (s *Sealed) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipients...)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.Put(ctx, key, buf.Bytes(), "application/octet-stream")
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), s.identities...)
	if err != nil {
		return nil, fmt.Errorf("unseal %s: %w", key, err)
	}
	return io.ReadAll(r)
}

func (s *Sealed) List(ctx context.Context, prefix string) ([]Object, error) {
	return s.inner.List(ctx, prefix)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
