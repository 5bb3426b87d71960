package export

import (
	"time"

	"gopkg.in/yaml.v3"
)

const manifestVersion = "1"

// Manifest is the signed index written at the head of every bundle.
type Manifest struct {
	Version          string    `yaml:"version"`
	ExportID         string    `yaml:"export_id"`
	CreatedAt        time.Time `yaml:"created_at"`
	ApplicationID    uint64    `yaml:"application_id"`
	Token            string    `yaml:"token"`
	Signer           string    `yaml:"signer,omitempty"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
	Entries          []Entry   `yaml:"entries"`
}

// SigningBytes marshals the manifest without its signature.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// Entry describes one file inside the bundle.
type Entry struct {
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}
