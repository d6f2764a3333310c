package lua

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay is how long Watch waits for further changes before
// reloading modules.
const DefaultReloadDelay = 100 * time.Millisecond

// Watch reloads file-backed modules when a .lua file below any runtime path
// lua/ directory changes. It blocks until ctx is done and returns nil then.
//
// Writes only matter to files a loaded module came from. Creating, removing
// or renaming any .lua file reloads, since it can change what require finds.
// Bursts of events are coalesced: modules are reloaded once no further event
// has arrived for DefaultReloadDelay. Directories created while watching are
// watched as well.
func (r *Runtime) Watch(ctx context.Context) error {
	return r.watch(ctx, DefaultReloadDelay, nil)
}

// watch is Watch with a configurable delay and an optional hook called with
// the names of reloaded modules.
func (r *Runtime) watch(ctx context.Context, delay time.Duration, onReload func([]string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	roots := 0
	for _, dir := range r.RuntimePath() {
		root := filepath.Join(dir, "lua")
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			continue
		}
		if err := addTree(w, root); err != nil {
			return err
		}
		roots++
	}
	r.log.Debug().Int("roots", roots).Msg("watching lua runtime path")

	timer := time.NewTimer(delay)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	var written []string
	structural := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						r.log.Warn().Str("dir", ev.Name).Err(err).Msg("cannot watch directory")
					}
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, ".lua") || ev.Op == fsnotify.Chmod {
				continue
			}
			r.log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("lua file changed")
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				structural = true
			} else {
				written = append(written, ev.Name)
			}
			if !pending {
				timer.Reset(delay)
				pending = true
			}

		case <-timer.C:
			pending = false
			var names []string
			var err error
			if structural {
				names, err = r.Reload(ctx)
			} else {
				names, err = r.reloadFiles(ctx, written)
			}
			written, structural = written[:0], false
			if err != nil {
				if errors.Is(err, context.Canceled) || IsClosedErr(err) {
					return nil
				}
				r.log.Warn().Err(err).Msg("reloading lua modules failed")
				continue
			}
			if len(names) > 0 {
				r.log.Info().Str("modules", strings.Join(names, ",")).Msg("reloaded lua modules")
			}
			if onReload != nil {
				onReload(names)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("lua watcher error")
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
