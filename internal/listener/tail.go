package listener

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/debugtail/internal/wire"
)

// maxChunksPerPoll bounds how much of a backlog one poll consumes, so a
// huge file cannot hold the loop away from the socket for long.
const maxChunksPerPoll = 256

// tail follows an append-only file by remembering the last read offset.
type tail struct {
	path   string
	file   *os.File
	offset int64
	split  wire.Splitter
	buf    []byte

	// watcher is nil when fsnotify is unavailable; the ticker alone then
	// drives polling.
	watcher *fsnotify.Watcher
}

func openTail(path string, fromStart bool, chunk int) (*tail, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("listener: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("listener: open %s: %w", path, err)
	}

	t := &tail{path: path, file: f, buf: make([]byte, chunk)}
	if !fromStart {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("listener: stat %s: %w", path, err)
		}
		t.offset = info.Size()
	}
	return t, nil
}

// watch subscribes to changes in the file's directory so the loop can poll
// as soon as a producer appends. The directory is watched rather than the
// file so rotation by rename is noticed.
func (t *tail) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		_ = w.Close()
		return err
	}
	t.watcher = w
	return nil
}

// relevant reports whether a watcher event concerns the tailed file.
func (t *tail) relevant(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == t.path &&
		ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename)
}

// poll reads newly appended data in buffer-sized chunks, up to
// maxChunksPerPoll of them, and passes complete fragments to emit. When the file shrank, or the path now names a
// different file, the offset is reset to zero and reading resumes from the
// start on the next poll.
func (t *tail) poll(emit func([]byte)) (reset bool, err error) {
	info, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if cur, err := t.file.Stat(); err == nil && !os.SameFile(cur, info) {
		f, err := os.Open(t.path)
		if err != nil {
			return false, err
		}
		_ = t.file.Close()
		t.file = f
		t.rewind()
		return true, nil
	}

	size := info.Size()
	switch {
	case size < t.offset:
		t.rewind()
		return true, nil
	case size == t.offset:
		return false, nil
	}

	for i := 0; i < maxChunksPerPoll && t.offset < size; i++ {
		want := size - t.offset
		if want > int64(len(t.buf)) {
			want = int64(len(t.buf))
		}
		n, err := t.file.ReadAt(t.buf[:want], t.offset)
		if n > 0 {
			t.offset += int64(n)
			for _, frag := range t.split.Feed(t.buf[:n]) {
				emit(frag)
			}
		}
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

func (t *tail) rewind() {
	t.offset = 0
	t.split.Reset()
}

func (t *tail) close() {
	if t.watcher != nil {
		_ = t.watcher.Close()
	}
	_ = t.file.Close()
}
