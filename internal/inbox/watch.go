package inbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultSettle is how long a file must stay unchanged after its last write
// event before the watcher triggers a scan.
const DefaultSettle = 2 * time.Second

// Watch scans the inbox whenever an input file has settled after being
// created or written. It blocks until ctx is done. The scheduled scan keeps
// running alongside and picks up anything the watcher misses.
func (s *Scanner) Watch(ctx context.Context, settle time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating inbox watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.opts.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.opts.Dir, err)
	}
	log.Info().Str("dir", s.opts.Dir).Dur("settle", settle).Msg("inbox watcher started")

	tick := settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isInput(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("dir", s.opts.Dir).Msg("inbox watcher error")

		case now := <-ticker.C:
			settled := false
			for name, last := range pending {
				if now.Sub(last) >= settle {
					delete(pending, name)
					settled = true
				}
			}
			if !settled {
				continue
			}
			result, err := s.Scan(ctx)
			if err != nil {
				log.Error().Err(err).Str("dir", s.opts.Dir).Msg("inbox scan failed")
				continue
			}
			if result.Processed > 0 || result.Failed > 0 || result.Rejected > 0 {
				log.Info().Msg(FormatScanSummary(result))
			}
		}
	}
}
