// Package watcher tails an append-only log file and emits line events,
// per spec §4.7. Grounded on the teacher's internal/watchdog.Watchdog
// lifecycle shape (ctx/cancel/wg-gated Start/Stop around a background
// loop) generalized from a periodic telemetry poll into a debounced
// fsnotify subscription, and on the event/error channel shape the
// fsnotify-watching example under other_examples/Nehonix-Team-XyPriss
// demonstrates (Events/Errors channels drained by a single consumer
// goroutine) — structure only, no code or text carried over.
package watcher

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Line is one newline-terminated line emitted after start(), with the
// wall-clock time it was read.
type Line struct {
	Text      string
	Timestamp time.Time
}

// Watcher tails path, emitting newly appended lines only (§4.7:
// "existing content is ignored"). Zero value is not usable; use New.
type Watcher struct {
	path     string
	debounce time.Duration

	Lines  chan Line
	Errors chan error

	fsw    *fsnotify.Watcher
	done   chan struct{}
	wg     sync.WaitGroup
	stopMu sync.Mutex
	stopped bool

	lastSize  int64
	partial   []byte
}

// New constructs a Watcher over path. debounce <= 0 uses the §4.7
// default of 100ms.
func New(path string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	w := &Watcher{
		path:     path,
		debounce: debounce,
		Lines:    make(chan Line, 64),
		Errors:   make(chan error, 8),
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	return w, nil
}

// Start records the file's current size, subscribes to filesystem
// change events, and begins the debounced flush loop (§4.7 algorithm).
// The watch is registered on the file path itself, not its directory. If
// the file does not exist yet, Start still succeeds but no watch is
// registered, so a file created later produces no events.
func (w *Watcher) Start() error {
	if fi, err := os.Stat(w.path); err == nil {
		w.lastSize = fi.Size()
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", w.path, err)
	}

	if err := w.fsw.Add(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends the watch, closing Lines and Errors after the loop goroutine
// exits. Safe to call once; a second call is a no-op.
func (w *Watcher) Stop() error {
	w.stopMu.Lock()
	if w.stopped {
		w.stopMu.Unlock()
		return nil
	}
	w.stopped = true
	w.stopMu.Unlock()

	close(w.done)
	w.wg.Wait()
	err := w.fsw.Close()
	close(w.Lines)
	close(w.Errors)
	return err
}

// loop is the single-threaded cooperative debounce: one timer live at a
// time, a flush runs to completion before the next batch is considered
// (§5 Concurrency).
func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				resetTimer()
			}
			if ev.Op&fsnotify.Remove != 0 {
				// Watched path removed out from under us: try re-adding
				// it. This succeeds only if the file has already been
				// recreated; otherwise the path stays unwatched.
				_ = w.fsw.Add(w.path)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
			}

		case <-timerC:
			timerC = nil
			w.flush()
		}
	}
}

// flush implements §4.7's stat-and-read step.
func (w *Watcher) flush() {
	fi, err := os.Stat(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.reportErr(err)
		}
		return
	}

	size := fi.Size()
	if size < w.lastSize {
		// Truncation: reset and drop any buffered partial line.
		w.lastSize = 0
		w.partial = nil
	}
	if size == w.lastSize {
		return
	}
	w.readRange(w.lastSize, size)
	w.lastSize = size
}

func (w *Watcher) readRange(from, to int64) {
	f, err := os.Open(w.path)
	if err != nil {
		w.reportErr(err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		w.reportErr(err)
		return
	}

	r := bufio.NewReader(io.LimitReader(f, to-from))
	for {
		chunk, err := r.ReadBytes('\n')
		if len(chunk) > 0 {
			w.partial = append(w.partial, chunk...)
		}
		if err != nil {
			break
		}
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *Watcher) emit(buf []byte) {
	text := string(buf)
	if len(text) > 0 && text[len(text)-1] == '\n' {
		text = text[:len(text)-1]
	}
	if len(text) > 0 && text[len(text)-1] == '\r' {
		text = text[:len(text)-1]
	}
	select {
	case w.Lines <- Line{Text: text, Timestamp: time.Now()}:
	case <-w.done:
	}
}

func (w *Watcher) reportErr(err error) {
	select {
	case w.Errors <- err:
	default:
	}
}
