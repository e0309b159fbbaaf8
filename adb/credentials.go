package adb

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrUnauthorized means the device has not approved this host's key.
var ErrUnauthorized = errors.New("device unauthorized")

// CredentialStore supplies the host identity used for ADB authentication.
type CredentialStore interface {
	PrivateKeyPath() (string, error)
}

const adbKeyBits = 2048

// FileCredentialStore keeps an adbkey-style private key in Dir, generating
// one on first use.
type FileCredentialStore struct {
	Dir string

	once sync.Once
	path string
	err  error
}

func NewFileCredentialStore(dir string) *FileCredentialStore {
	return &FileCredentialStore{Dir: dir}
}

func (s *FileCredentialStore) PrivateKeyPath() (string, error) {
	s.once.Do(func() {
		s.path, s.err = s.ensureKey()
	})
	return s.path, s.err
}

func (s *FileCredentialStore) ensureKey() (string, error) {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create credential directory: %w", err)
	}

	keyPath := filepath.Join(s.Dir, "adbkey")
	if _, err := os.Stat(keyPath); err == nil {
		return keyPath, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	key, err := rsa.GenerateKey(rand.Reader, adbKeyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate adb key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode adb key: %w", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(keyPath, pemBytes, 0600); err != nil {
		return "", fmt.Errorf("failed to write adb key: %w", err)
	}
	return keyPath, nil
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	Serial          string
	Connection      Connection
	CredentialStore CredentialStore
	Timeout         time.Duration
	PollInterval    time.Duration
}

// Authenticate waits for the device behind opts.Connection to accept the
// host key. It returns ErrUnauthorized if the device still has not approved
// the key when the timeout expires. The credential store is only checked
// for a usable key here; the adb server presents it to the device after
// ADBClient.UseCredentials.
func Authenticate(ctx context.Context, opts AuthOptions) (Connection, error) {
	if opts.Connection == nil {
		return nil, errors.New("authenticate: nil connection")
	}
	if opts.Connection.Serial() != opts.Serial {
		return nil, fmt.Errorf("authenticate: connection serial %q does not match %q", opts.Connection.Serial(), opts.Serial)
	}
	if opts.CredentialStore != nil {
		if _, err := opts.CredentialStore.PrivateKeyPath(); err != nil {
			return nil, err
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lastState := ""
	for {
		state, err := opts.Connection.State(ctx)
		if err == nil && state == StateDevice {
			return opts.Connection, nil
		}
		if err == nil {
			lastState = state
		}

		select {
		case <-ctx.Done():
			if lastState == StateUnauthorized {
				return nil, fmt.Errorf("%s: %w", opts.Serial, ErrUnauthorized)
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", opts.Serial, err)
			}
			return nil, fmt.Errorf("%s: device not ready (state %q): %w", opts.Serial, lastState, ctx.Err())
		case <-time.After(interval):
		}
	}
}
