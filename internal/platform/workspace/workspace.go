// Package workspace maps a self-asserted user email to the directory and
// working file that hold that user's copy of the case collection.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// WorkingFileName is the per-user case collection file.
const WorkingFileName = "working.json"

// ErrInvalidEmail is returned when an identity does not look like user@domain.tld.
var ErrInvalidEmail = errors.New("please enter a valid email address (user@domain.tld)")

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail trims and lowercases an email so that the same person always
// lands in the same workspace.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail normalizes email and checks its shape. Identity is not
// verified beyond that.
func ValidateEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// UserID returns the 16 hex character directory name derived from the
// SHA-256 of the normalized email.
func UserID(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])[:16]
}

// Resolver derives workspace paths below a base directory.
type Resolver struct {
	baseDir string
}

// NewResolver creates a Resolver rooted at baseDir.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{baseDir: baseDir}
}

// BaseDir returns the root all workspaces live under.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// Path returns the working file path for email without touching the disk.
func (r *Resolver) Path(email string) string {
	return filepath.Join(r.baseDir, UserID(email), WorkingFileName)
}

// Dir returns the workspace directory for email, creating it if needed.
func (r *Resolver) Dir(email string) (string, error) {
	dir := filepath.Join(r.baseDir, UserID(email))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}
	return dir, nil
}

// WorkingFile returns the working file path for email, creating the
// workspace directory if needed. The file itself may not exist yet.
func (r *Resolver) WorkingFile(email string) (string, error) {
	dir, err := r.Dir(email)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, WorkingFileName), nil
}
