package app

import (
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2/data/binding"
)

const logDebounceInterval = 150 * time.Millisecond

// logCapture is an io.Writer that keeps the last lines written and pushes
// them into a binding. Binding updates are debounced so a burst of log lines
// costs one redraw.
type logCapture struct {
	mu       sync.Mutex
	lines    []string
	limit    int
	binding  binding.String
	updateCh chan struct{}
}

func newLogCapture(b binding.String, limit int) *logCapture {
	l := &logCapture{binding: b, limit: limit, updateCh: make(chan struct{}, 1)}
	go l.updateLoop()
	return l
}

func (l *logCapture) Write(p []byte) (int, error) {
	text := strings.ReplaceAll(string(p), "\r\n", "\n")
	l.mu.Lock()
	for _, part := range strings.Split(text, "\n") {
		if part == "" {
			continue
		}
		l.lines = append(l.lines, part)
	}
	if len(l.lines) > l.limit {
		l.lines = l.lines[len(l.lines)-l.limit:]
	}
	l.mu.Unlock()

	select {
	case l.updateCh <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (l *logCapture) updateLoop() {
	timer := time.NewTimer(logDebounceInterval)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-l.updateCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(logDebounceInterval)
		case <-timer.C:
			l.flush()
		}
	}
}

func (l *logCapture) flush() {
	l.mu.Lock()
	text := strings.Join(l.lines, "\n")
	l.mu.Unlock()
	_ = l.binding.Set(text)
}
