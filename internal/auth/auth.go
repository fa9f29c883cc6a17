// Package auth resolves and validates the Gemini API key used for damage
// analysis.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv = "GEMINI_API_KEY"
	// PassphraseFileEnv overrides the GPG passphrase file location.
	PassphraseFileEnv = "CLAIM_GPG_PASSPHRASE_FILE"

	credentialDir  = ".vehicle-claim-estimator"
	credentialFile = "credentials.gpg"
)

// ErrNoAPIKey is returned when no key source yields a key.
var ErrNoAPIKey = errors.New("API key not found")

// GetAPIKey resolves the API key from, in order:
//  1. the GEMINI_API_KEY environment variable
//  2. the GPG-encrypted file ~/.vehicle-claim-estimator/credentials.gpg
func GetAPIKey(ctx context.Context) (string, error) {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := getFromGPG(ctx)
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Debug().Err(err).Msg("No API key available")
	return "", &ValidationError{
		Type:    ErrTypeNoKey,
		Message: fmt.Sprintf("set %s or store the key in ~/%s/%s", APIKeyEnv, credentialDir, credentialFile),
		Err:     ErrNoAPIKey,
	}
}

// getFromGPG decrypts the key file with the local gpg binary.
func getFromGPG(ctx context.Context) (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file not found at %s: %w", credPath, err)
	}

	args := []string{"--decrypt", "--quiet", "--batch"}
	if pp := passphraseFile(); pp != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pp)
	}
	args = append(args, credPath)

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	output, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// passphraseFile returns a usable passphrase file path, or "" if none exists.
// Files readable by group or others are ignored.
func passphraseFile() string {
	candidates := []string{os.Getenv(PassphraseFileEnv)}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".gpg-passphrase"))
	}

	for _, path := range candidates {
		if path == "" {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.Mode().Perm()&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", path).
				Str("permissions", fmt.Sprintf("%04o", fi.Mode().Perm())).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return path
	}
	return ""
}
