package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
)

// EncryptedFormat tags a whole-export encrypted backup.
const EncryptedFormat = "encrypted-backup"

// EncryptedBackup wraps a complete export sealed with a password.
type EncryptedBackup struct {
	Version   string `json:"version"`
	Format    string `json:"format"`
	Created   string `json:"created"`
	Encrypted bool   `json:"encrypted"`
	Payload   string `json:"payload"`
}

// Seal encrypts f with password.
func Seal(f *File, password string, now time.Time) (*EncryptedBackup, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal backup: %w", err)
	}
	env, err := cryptox.EncryptWithPassword(string(data), password)
	if err != nil {
		return nil, err
	}
	return &EncryptedBackup{
		Version:   Version,
		Format:    EncryptedFormat,
		Created:   common.FormatTimestamp(now),
		Encrypted: true,
		Payload:   env,
	}, nil
}

// Open decrypts an encrypted backup and parses the export inside it.
func Open(b *EncryptedBackup, password string) (*File, error) {
	if b == nil || !b.Encrypted {
		return nil, ErrNotEncrypted
	}
	plain, err := cryptox.DecryptWithPassword(b.Payload, password)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(plain))
}

// IsEncryptedBackup reports whether data is an EncryptedBackup document.
func IsEncryptedBackup(data []byte) bool {
	var probe struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Format == EncryptedFormat
}

// ParseEncrypted decodes an EncryptedBackup document.
func ParseEncrypted(data []byte) (*EncryptedBackup, error) {
	var b EncryptedBackup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if b.Format != EncryptedFormat {
		return nil, fmt.Errorf("%w: format %q", ErrMalformed, b.Format)
	}
	if MajorVersion(b.Version) > 4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, b.Version)
	}
	return &b, nil
}
