package prepare

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-merges the artifact repositories whenever a build output
// directory changes. It is meant for iterative development against a
// running prefix: rebuild a package locally and the merged repository
// picks it up without re-running the pipeline.
func (p *Pipeline) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := 0
	for _, b := range p.cfg.Builds {
		info, err := os.Stat(b.OutputDir)
		if err != nil {
			p.log.Warn().Err(err).Str("path", b.OutputDir).Msg("failed to stat build output for watching")
			continue
		}
		if !info.IsDir() {
			continue
		}
		if err := watchTree(watcher, b.OutputDir); err != nil {
			p.log.Warn().Err(err).Str("path", b.OutputDir).Msg("failed to watch build output")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return fmt.Errorf("no build output directories to watch")
	}

	go p.processEvents(ctx, watcher)

	p.log.Info().Int("dirs", watched).Msg("watching build outputs")
	return nil
}

// watchTree adds dir and every subdirectory to the watcher.
func watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// processEvents re-merges on package changes, debounced so one build
// dropping many files triggers a single merge.
func (p *Pipeline) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var mergeTimer *time.Timer
	mergeDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						p.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".rpm") {
				continue
			}

			p.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("build output changed")

			if mergeTimer != nil {
				mergeTimer.Stop()
			}
			mergeTimer = time.AfterFunc(mergeDelay, func() {
				if err := p.merge(); err != nil {
					p.log.Error().Err(err).Msg("failed to re-merge repositories")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn().Err(err).Msg("watcher error")
		}
	}
}
