package seed

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Source whenever its file changes on disk.
type Watcher struct {
	source *Source
	logger zerolog.Logger
}

func NewWatcher(source *Source, logger zerolog.Logger) *Watcher {
	return &Watcher{source: source, logger: logger}
}

// Run watches the seed file's directory until ctx is done. Watching the
// directory rather than the file keeps working across editors that save by
// writing a new file and renaming it into place.
func (w *Watcher) Run(ctx context.Context) error {
	target := filepath.Clean(w.source.Path())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	w.logger.Info().Str("path", target).Msg("watching seed dataset")

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.source.Reload(); err != nil {
				w.logger.Error().Err(err).Str("path", target).Msg("seed reload failed, keeping previous dataset")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("seed watcher error")
		}
	}
}
