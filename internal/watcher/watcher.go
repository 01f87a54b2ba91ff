// Package watcher monitors a knowledge base directory for file changes and
// triggers incremental reindexing. Reindexed entries are only enqueued onto
// embed_queue rather than embedded inline: writes must never block on model
// inference, so a slow or unreachable embedding provider can never stall
// the filesystem event loop.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pyrite-go/kbsearch/internal/config"
	"github.com/pyrite-go/kbsearch/internal/git"
	"github.com/pyrite-go/kbsearch/internal/indexer"
	"github.com/pyrite-go/kbsearch/internal/store"
	"github.com/pyrite-go/kbsearch/internal/worker"
)

// debounceDelay is the window over which rapid successive writes to the
// same file(s) are collapsed into a single reindex pass.
const debounceDelay = 2 * time.Second

// Watch watches root for markdown changes under kbName, reindexing on
// write/create/rename and removing on delete. It blocks until the
// fsnotify watcher's channels close or an unrecoverable setup error
// occurs. w may be nil to skip queuing embedding work (keyword-only
// deployments).
func Watch(db *store.DB, w *worker.Worker, kbName, root string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dirs := walkDirs(root)
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			fmt.Fprintf(os.Stderr, "same: warning: could not watch %s: %v\n", d, err)
		}
	}

	fmt.Fprintf(os.Stderr, "same: watching %d directories under %s\n", len(dirs), root)

	attr := git.Attributor{}

	var (
		mu      sync.Mutex
		pending = make(map[string]bool)
		timer   *time.Timer
	)

	flush := func() {
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]bool)
		mu.Unlock()

		if len(paths) == 0 {
			return
		}
		fmt.Fprintf(os.Stderr, "same: reindexing %d changed file(s)\n", len(paths))
		reindexFiles(db, w, kbName, attr, paths)
	}

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if !strings.HasSuffix(event.Name, ".md") || config.SkipFiles[filepath.Base(event.Name)] {
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if !config.SkipDirs[filepath.Base(event.Name)] {
							fw.Add(event.Name)
						}
					}
				}
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				mu.Lock()
				pending[event.Name] = true
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, flush)
				mu.Unlock()
			}

			if event.Has(fsnotify.Remove) {
				id := entryIDForPath(event.Name)
				if err := db.DeleteEntry(id, kbName); err != nil {
					fmt.Fprintf(os.Stderr, "same: warning: remove %s from index: %v\n", id, err)
				} else {
					fmt.Fprintf(os.Stderr, "same: removed from index: %s\n", id)
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "same: warning: watch error: %v\n", err)
		}
	}
}

// reindexFiles re-ingests each changed file and, if w is non-nil, enqueues
// its entry for embedding rather than computing the vector inline.
func reindexFiles(db *store.DB, w *worker.Worker, kbName string, attr indexer.Attributor, paths []string) {
	for _, fp := range paths {
		id, err := indexer.IngestFile(db, kbName, fp, attr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "same: error: %s: %v\n", fp, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "same: indexed %s\n", id)
		if w != nil {
			if err := w.Enqueue(id, kbName); err != nil {
				fmt.Fprintf(os.Stderr, "same: warning: enqueue %s: %v\n", id, err)
			}
		}
	}
}

// entryIDForPath derives the best-effort entry id for a file that can no
// longer be read (it was just deleted): the same basename-stem fallback
// indexer.BuildEntry uses when frontmatter omits an explicit id.
func entryIDForPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".md")
}

func walkDirs(root string) []string {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if config.SkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}
