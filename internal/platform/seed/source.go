// Package seed holds the dataset new workspaces start from and keeps it in
// sync with the file on disk.
package seed

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/annotator/internal/domain/cases"
)

// Source is the in-memory copy of the seed dataset file. It is safe for
// concurrent use.
type Source struct {
	path   string
	logger zerolog.Logger

	mu    sync.RWMutex
	data  []byte
	cases int
}

func NewSource(path string, logger zerolog.Logger) *Source {
	return &Source{path: path, logger: logger}
}

// Path returns the seed file location.
func (s *Source) Path() string {
	return s.path
}

// Bytes returns the last successfully loaded dataset, or nil.
func (s *Source) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Len returns the number of cases in the loaded dataset.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cases
}

// Reload reads and validates the seed file. A missing file is not an error
// on first load; it leaves the source empty. On any failure the previously
// loaded dataset is kept.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && s.Bytes() == nil {
			s.logger.Warn().Str("path", s.path).Msg("seed dataset not found, new workspaces start empty")
			return nil
		}
		return fmt.Errorf("read seed dataset: %w", err)
	}
	col, err := cases.Parse(data)
	if err != nil {
		return fmt.Errorf("seed dataset %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.data = data
	s.cases = col.Len()
	s.mu.Unlock()

	s.logger.Info().Str("path", s.path).Int("cases", col.Len()).Msg("seed dataset loaded")
	return nil
}
