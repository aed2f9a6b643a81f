package encryption

import (
	"fmt"

	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
)

// NewEncryptorFromConfig creates the bundle Encryptor selected by the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (ctrack.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewBundleKeyring(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
