package stag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"

	"github.com/tstromberg/stag/pkg/xmp"
)

// WatchSettle is how long a file must be left alone before it is tagged.
var WatchSettle = 2 * time.Second

// watchDirs returns root and every non-hidden directory below it, along with the candidate assets found.
func watchDirs(c *Config, root string) (dirs []string, files []string, err error) {
	err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path != root && (hidden(de.Name()) || c.ignored(path)) {
				return godirwalk.SkipThis
			}
			if de.IsDir() {
				dirs = append(dirs, path)
				return nil
			}
			if !xmp.IsSidecar(path) {
				files = append(files, path)
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			klog.Warningf("not watching %s: %v", path, err)
			return godirwalk.SkipNode
		},
	})
	return dirs, files, err
}

// Watch tags photos as they are added to or changed below the configured root, until ctx is cancelled.
func Watch(ctx context.Context, p *Pipeline) error {
	c := p.Config
	root := filepath.Clean(c.Root)

	if !c.Simulate {
		unlock, err := lockRoot(root)
		if err != nil {
			return err
		}
		defer unlock()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	pending := map[string]time.Time{}

	// add watches dir and its subdirectories. Files already inside are queued when queue is set,
	// as a directory moved into the tree produces no events for its contents.
	add := func(dir string, queue bool) {
		ds, fs, err := watchDirs(c, dir)
		if err != nil {
			klog.Errorf("walk %s: %v", dir, err)
		}
		for _, d := range ds {
			if err := w.Add(d); err != nil {
				klog.Errorf("watch %s: %v", d, err)
			}
		}
		if queue {
			now := time.Now()
			for _, f := range fs {
				pending[f] = now
			}
		}
		klog.Infof("watching %d dirs below %s ...", len(ds), dir)
	}
	add(root, false)

	tick := time.NewTicker(WatchSettle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			klog.Infof("stopped watching %s", root)
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			klog.V(1).Infof("event: %v", event)
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if hidden(filepath.Base(event.Name)) || xmp.IsSidecar(event.Name) || c.ignored(event.Name) {
				continue
			}

			st, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if st.IsDir() {
				add(event.Name, true)
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)

		case now := <-tick.C:
			ready := []string{}
			for path, t := range pending {
				if now.Sub(t) >= WatchSettle {
					ready = append(ready, path)
				}
			}
			slices.Sort(ready)

			for _, path := range ready {
				if ctx.Err() != nil {
					break
				}
				delete(pending, path)
				o := p.Process(ctx, path)
				klog.Infof("%s: %s %s", path, o.Status, o.Reason)
			}
		}
	}
}
