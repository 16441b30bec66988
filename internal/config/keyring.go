package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
)

const (
	keyringBackendAuto   = "auto"
	keyringBackendFile   = "file"
	keyringBackendSystem = "system"
)

// openKeyring is replaced in tests to use an in-memory keyring.
var openKeyring = func(cfg keyring.Config) (keyring.Keyring, error) {
	return keyring.Open(cfg)
}

var userConfigDir = os.UserConfigDir

var stdinHasTTY = func() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// SetOpenKeyring replaces the keyring opener and returns a func restoring
// the previous one.
func SetOpenKeyring(fn func(keyring.Config) (keyring.Keyring, error)) func() {
	original := openKeyring
	openKeyring = fn
	return func() { openKeyring = original }
}

var backendAliases = map[string]string{
	"file":   keyringBackendFile,
	"system": keyringBackendSystem,
	"os":     keyringBackendSystem,
	"native": keyringBackendSystem,
}

// keyringBackendMode reads INBOX_KEYRING_BACKEND; unknown values mean auto.
func keyringBackendMode() string {
	if mode, ok := backendAliases[strings.ToLower(envValue(envKeyringBackend))]; ok {
		return mode
	}
	return keyringBackendAuto
}

func keyringConfig() keyring.Config {
	cfg := keyring.Config{ServiceName: serviceName}
	backend := keyringBackendMode()
	if backend == keyringBackendSystem {
		return cfg
	}
	// Auto mode may still fall through to the encrypted file store.
	cfg.FileDir = keyringFileDir()
	cfg.FilePasswordFunc = keyringFilePassword
	if shouldForceFileBackend(runtime.GOOS, backend, os.Getenv("DBUS_SESSION_BUS_ADDRESS")) {
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
	}
	return cfg
}

// shouldForceFileBackend is true for an explicit file backend and for auto
// mode on headless Linux, which has no secret service.
func shouldForceFileBackend(goos, backend, dbusAddr string) bool {
	switch backend {
	case keyringBackendFile:
		return true
	case keyringBackendAuto:
		return goos == "linux" && strings.TrimSpace(dbusAddr) == ""
	}
	return false
}

func keyringFileDir() string {
	candidates := []func() string{
		func() string { return envValue(envCredentialsDir) },
		func() string {
			if dir, err := userConfigDir(); err == nil && strings.TrimSpace(dir) != "" {
				return filepath.Join(dir, serviceName)
			}
			return ""
		},
		func() string {
			if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
				return filepath.Join(home, ".config", serviceName)
			}
			return ""
		},
	}
	for _, candidate := range candidates {
		if base := candidate(); base != "" {
			return filepath.Join(base, "keyring")
		}
	}
	return filepath.Join(os.TempDir(), serviceName, "keyring")
}

func keyringFilePassword(prompt string) (string, error) {
	if password := envValue(envKeyringPassword); password != "" {
		return os.Getenv(envKeyringPassword), nil
	}
	if !stdinHasTTY() {
		return "", fmt.Errorf("set %s when using file keyring in non-interactive environments", envKeyringPassword)
	}
	return keyring.TerminalPrompt(prompt)
}
