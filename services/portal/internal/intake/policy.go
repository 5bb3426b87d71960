package intake

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultMaxBytes is the per-file size cap.
	DefaultMaxBytes int64 = 5 << 20
	// DefaultMaxFiles is the per-request file count cap.
	DefaultMaxFiles = 5
)

// extension -> canonical content type
var extensionTypes = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

var allowedTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

var sniffOrder = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/msword",
	"image/jpeg",
	"image/png",
}

// Policy bounds what File Intake accepts.
type Policy struct {
	MaxBytes int64
	MaxFiles int
}

// DefaultPolicy returns the 5 MiB / 5 file policy.
func DefaultPolicy() Policy {
	return Policy{MaxBytes: DefaultMaxBytes, MaxFiles: DefaultMaxFiles}
}

func (p Policy) withDefaults() Policy {
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultMaxBytes
	}
	if p.MaxFiles <= 0 {
		p.MaxFiles = DefaultMaxFiles
	}
	return p
}

// Check validates f against the allow-lists and size cap and returns the
// content type the object will be stored with.
func (p Policy) Check(f File) (string, error) {
	ext := Extension(f.Name)
	canonical, ok := extensionTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: extension %q not allowed", ErrInvalidFileType, ext)
	}

	contentType := normalizeType(f.ContentType)
	switch {
	case contentType == "" || contentType == "application/octet-stream":
		contentType = sniff(f.Data, canonical)
	case !allowedTypes[contentType]:
		return "", fmt.Errorf("%w: content type %q not allowed", ErrInvalidFileType, contentType)
	}

	if int64(len(f.Data)) > p.withDefaults().MaxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(f.Data), p.withDefaults().MaxBytes)
	}
	return contentType, nil
}

// sniff resolves a missing or generic declared type from the content, falling back
// to the extension's canonical type.
func sniff(data []byte, canonical string) string {
	detected := mimetype.Detect(data)
	for _, t := range sniffOrder {
		if detected.Is(t) {
			return t
		}
	}
	return canonical
}

func normalizeType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// TypeForName maps a file name to its canonical content type.
func TypeForName(name string) string {
	if t, ok := extensionTypes[Extension(name)]; ok {
		return t
	}
	return "application/octet-stream"
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.\-]`)

// Sanitize replaces every character outside [A-Za-z0-9.-] with an underscore.
func Sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return unsafeChars.ReplaceAllString(name, "_")
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func validNamespace(ns string) bool {
	return namespacePattern.MatchString(ns)
}
