package consumer

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Watchdog kills the process when no heartbeat arrives within its timeout.
// A supervisor is expected to restart it from the last committed offset.
type Watchdog struct {
	log     *logrus.Entry
	timeout time.Duration
	beats   chan struct{}

	mu   sync.Mutex
	last time.Time

	now  func() time.Time
	kill func()
}

func NewWatchdog(log *logrus.Entry, timeout time.Duration) *Watchdog {
	return &Watchdog{
		log:     log,
		timeout: timeout,
		beats:   make(chan struct{}, 1),
		last:    time.Now(),
		now:     time.Now,
		kill:    killSelf,
	}
}

// Beat resets the timer. It never blocks.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	w.last = w.now()
	w.mu.Unlock()

	select {
	case w.beats <- struct{}{}:
	default:
	}
}

func (w *Watchdog) LastBeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Run blocks until ctx is done or the timeout expires, in which case the
// process is killed.
func (w *Watchdog) Run(ctx context.Context) {
	t := time.NewTimer(w.timeout)
	defer t.Stop()

	w.log.WithField("timeout", w.timeout).Info("starting watchdog")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.beats:
			t.Reset(w.timeout)
		case <-t.C:
			w.log.WithFields(logrus.Fields{
				"timeout":  w.timeout,
				"lastBeat": w.LastBeat(),
			}).Error("no event received within the deadlock interval, killing process")
			w.kill()
			return
		}
	}
}

func killSelf() {
	p, err := os.FindProcess(os.Getpid())
	if err == nil {
		err = p.Kill()
	}
	if err != nil {
		os.Exit(2)
	}
	// SIGKILL is delivered asynchronously
	select {}
}
