// Package export writes signed, self-contained bundles of a submitted application
// and its attachments, and reads them back with full verification.
package export

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"talencor/services/portal/internal/store"
)

const (
	manifestFileName    = "manifest.yaml"
	applicationFileName = "application.json"
	attachmentsPrefix   = "attachments"
)

// Applications loads the record being exported.
type Applications interface {
	Get(ctx context.Context, id uint64) (store.Application, error)
}

// Files loads attachment bytes by key.
type Files interface {
	Retrieve(ctx context.Context, ref string) ([]byte, error)
}

// Exporter assembles bundles.
type Exporter struct {
	apps   Applications
	files  Files
	signer *Signer
	now    func() time.Time
}

func New(apps Applications, files Files, signer *Signer) (*Exporter, error) {
	if apps == nil {
		return nil, errors.New("application store is required")
	}
	if files == nil {
		return nil, errors.New("file intake is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	return &Exporter{apps: apps, files: files, signer: signer, now: time.Now}, nil
}

type payload struct {
	entry Entry
	data  []byte
}

// Write streams the bundle for application id to w as tar.zst.
func (e *Exporter) Write(ctx context.Context, w io.Writer, id uint64) (*Manifest, error) {
	app, err := e.apps.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load application %d: %w", id, err)
	}

	record, err := json.MarshalIndent(app, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal application: %w", err)
	}
	files := []payload{{entry: entryFor(applicationFileName, "application", record), data: record}}

	seen := make(map[string]struct{}, len(app.Attachments))
	for _, att := range app.Attachments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := e.files.Retrieve(ctx, att.ID)
		if err != nil {
			return nil, fmt.Errorf("retrieve attachment %s: %w", att.ID, err)
		}
		name := path.Join(attachmentsPrefix, path.Base(att.ID))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		files = append(files, payload{entry: entryFor(name, "attachment", data), data: data})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].entry.Path < files[j].entry.Path })

	manifest := &Manifest{
		Version:          manifestVersion,
		ExportID:         uuid.NewString(),
		CreatedAt:        e.now().UTC().Truncate(time.Second),
		ApplicationID:    app.ID,
		Token:            app.Token,
		Signer:           e.signer.Recipient(),
		SigningPublicKey: e.signer.PublicKeyBase64(),
	}
	for _, f := range files {
		manifest.Entries = append(manifest.Entries, f.entry)
	}

	signing, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	if manifest.Signature, err = e.signer.Sign(signing); err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeArchive(w, manifestBytes, files, manifest.CreatedAt); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Build writes the bundle for application id to the file at output.
func (e *Exporter) Build(ctx context.Context, id uint64, output string) (*Manifest, error) {
	if output == "" {
		return nil, errors.New("output path is required")
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	manifest, err := e.Write(ctx, file, id)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(output)
		return nil, err
	}
	return manifest, nil
}

func entryFor(name, kind string, data []byte) Entry {
	sum := sha256.Sum256(data)
	return Entry{Path: name, Kind: kind, Size: int64(len(data)), SHA256: hex.EncodeToString(sum[:])}
}

func writeArchive(w io.Writer, manifest []byte, files []payload, modTime time.Time) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	write := func(name string, data []byte) error {
		header := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  modTime,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %q: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %q: %w", name, err)
		}
		return nil
	}

	if err := write(manifestFileName, manifest); err != nil {
		return err
	}
	for _, f := range files {
		if err := write(f.entry.Path, f.data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

// Bundle is a verified bundle read back into memory.
type Bundle struct {
	Manifest    Manifest
	Application store.Application
	Files       map[string][]byte
}

// Read decodes a bundle, checks the manifest signature, and verifies every entry's
// size and digest.
func Read(ctx context.Context, r io.Reader, signer *Signer) (*Bundle, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var (
		manifestBytes []byte
		files         = map[string][]byte{}
	)
	tr := tar.NewReader(decoder)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", header.Name, err)
		}
		if header.Name == manifestFileName {
			manifestBytes = data
			continue
		}
		files[path.Clean(header.Name)] = data
	}

	if len(manifestBytes) == 0 {
		return nil, errors.New("bundle missing manifest.yaml")
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		return nil, errors.New("manifest missing signature")
	}
	signing, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := signer.Verify(signing, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	for _, entry := range manifest.Entries {
		data, ok := files[entry.Path]
		if !ok {
			return nil, fmt.Errorf("bundle missing %s", entry.Path)
		}
		sum := sha256.Sum256(data)
		if int64(len(data)) != entry.Size || hex.EncodeToString(sum[:]) != entry.SHA256 {
			return nil, fmt.Errorf("checksum mismatch for %s", entry.Path)
		}
	}

	b := &Bundle{Manifest: manifest, Files: files}
	record, ok := files[applicationFileName]
	if !ok {
		return nil, fmt.Errorf("bundle missing %s", applicationFileName)
	}
	if err := json.NewDecoder(bytes.NewReader(record)).Decode(&b.Application); err != nil {
		return nil, fmt.Errorf("decode application: %w", err)
	}
	return b, nil
}
