package stag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// ErrLocked is returned when another run is already writing below the same root.
var ErrLocked = errors.New("root is locked by another run")

// lockName is hidden so that walks never treat it as a photo.
const lockName = ".stag.lock"

// lockRoot takes an advisory lock on root, returning a function that releases it and removes the lock file.
//
// A root that cannot hold the lock file (read-only, or not ours) is processed unlocked.
func lockRoot(root string) (func(), error) {
	path := filepath.Join(root, lockName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS) {
		klog.Warningf("cannot lock %s, continuing without a lock: %v", root, err)
		return func() {}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return func() {
		if err := os.Remove(path); err != nil {
			klog.Warningf("remove %s: %v", path, err)
		}
		if err := fl.Unlock(); err != nil {
			klog.Warningf("unlock %s: %v", path, err)
		}
	}, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Walk runs the pipeline over every file below the configured root, in lexical order within each directory.
//
// ctx is checked before each entry; once it is cancelled the walk stops and returns the partial
// summary along with the context's error.
func Walk(ctx context.Context, p *Pipeline) (*Summary, error) {
	c := p.Config
	root := filepath.Clean(c.Root)
	s := &Summary{}

	if !c.Simulate {
		unlock, err := lockRoot(root)
		if err != nil {
			return s, err
		}
		defer unlock()
	}

	klog.Infof("Entering %s", root)
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if path == root {
				return nil
			}

			if hidden(de.Name()) || c.ignored(path) {
				klog.V(1).Infof("skipping %s", path)
				return godirwalk.SkipThis
			}

			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil {
				return err
			}
			if isDir {
				klog.V(1).Infof("Entering %s", path)
				return nil
			}

			s.Add(p.Process(ctx, path))
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if ctx.Err() != nil {
				return godirwalk.Halt
			}
			klog.Errorf("skipping %s: %v", path, err)
			return godirwalk.SkipNode
		},
	})

	if err != nil && ctx.Err() != nil {
		klog.Infof("Tagging cancelled.")
		return s, ctx.Err()
	}
	return s, err
}
