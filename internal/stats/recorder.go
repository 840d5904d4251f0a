package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/abelbrown/spoilerguard/internal/logging"
)

const recorderChanSize = 1024

// Hit is one masked sentence.
type Hit struct {
	TitleID string
	Time    time.Time
}

// Recorder writes hits to a Store on a background goroutine. Record never
// blocks; hits arriving while the queue is full are dropped and counted.
type Recorder struct {
	store     *Store
	ch        chan Hit
	done      chan struct{}
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	logger    *log.Logger
}

// NewRecorder starts a recorder for store.
func NewRecorder(store *Store) *Recorder {
	r := &Recorder{
		store:  store,
		ch:     make(chan Hit, recorderChanSize),
		done:   make(chan struct{}),
		logger: logging.WithPrefix("stats"),
	}
	go r.drain()
	return r
}

// Record queues a hit.
func (r *Recorder) Record(h Hit) {
	defer func() {
		if recover() != nil {
			r.dropped.Add(1)
		}
	}()
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	if h.Time.IsZero() {
		h.Time = time.Now()
	}
	select {
	case r.ch <- h:
	default:
		r.dropped.Add(1)
	}
}

// drain batches whatever is queued into one Add per title and day.
func (r *Recorder) drain() {
	defer close(r.done)
	for h := range r.ch {
		type key struct{ day, title string }
		batch := map[key]int{{h.Time.Local().Format(dayLayout), h.TitleID}: 1}
		at := map[key]time.Time{{h.Time.Local().Format(dayLayout), h.TitleID}: h.Time}
	more:
		for {
			select {
			case next, ok := <-r.ch:
				if !ok {
					break more
				}
				k := key{next.Time.Local().Format(dayLayout), next.TitleID}
				batch[k]++
				at[k] = next.Time
			default:
				break more
			}
		}
		for k, n := range batch {
			if err := r.store.Add(at[k], k.title, n); err != nil {
				r.logger.Warn("record failed", "title", k.title, "error", err)
			}
		}
	}
}

// Dropped returns how many hits were lost.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Close flushes queued hits. The store stays open.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.ch)
		<-r.done
	})
}
