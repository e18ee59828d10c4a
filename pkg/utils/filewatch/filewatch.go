package filewatch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrModified is the cause of contexts canceled by a modification.
var ErrModified = fmt.Errorf("file is modified")

// UntilModified returns a context that is canceled
// when one of files is modified (= written, created, removed, or renamed).
//
// Directories containing files are watched, so replacing a file by rename is detected, too.
// Modifications of other files in those directories are ignored.
//
// # Args
//
// - ctx: parent context.
//
// - files ...string: file paths to be watched. They need not exist, but their directories must.
//
// # Returns
//
// - context.Context: context canceled on a modification. Its cause wraps ErrModified.
//
// - func(): cancel function. It stops watching.
//
// - error: error caused when it fails to start watching files.
// If error is not nil, both of the context and the cancel function are nil.
func UntilModified(ctx context.Context, files ...string) (context.Context, func(), error) {
	targets := map[string]bool{}
	dirs := map[string]bool{}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, nil, err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return nil, nil, err
		}
	}

	cctx, cancel := context.WithCancelCause(ctx)
	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(fmt.Errorf("filewatch: %w", err))
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
					continue
				}
				name, err := filepath.Abs(event.Name)
				if err != nil || !targets[name] {
					continue
				}
				cancel(fmt.Errorf("%w: %s (%s)", ErrModified, event.Name, event.Op))
				return
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
