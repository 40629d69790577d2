package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-backend/internal/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	// MaxRetries is how many failed replays an item survives. The next
	// failure drops it.
	MaxRetries int
	Backoff    Backoff
	Clock      clock.Clock
	Logger     *zap.Logger
	Monitor    *Monitor
	// OnFailure is called for every item dropped for good.
	OnFailure func(Failure)
}

// Failure is an item that will not be retried again.
type Failure struct {
	Item Item
	Err  error
}

// Report summarizes one Drain.
type Report struct {
	Succeeded []Item
	Failed    []Failure
	Requeued  int
	// Interrupted is set when connectivity dropped before the queue was
	// worked through.
	Interrupted bool
}

type Queue struct {
	mu    sync.Mutex
	items []Item
	seq   uint64

	drainMu sync.Mutex

	journal Journal
	exec    Executor
	opts    Options
}

// Open loads the journal and returns a queue that replays through exec.
func Open(journal Journal, exec Executor, opts Options) (*Queue, error) {
	if journal == nil || exec == nil {
		return nil, errors.New("offline: journal and executor are required")
	}
	if opts.MaxRetries < 0 {
		return nil, errors.New("offline: negative MaxRetries")
	}
	if opts.Backoff == nil {
		opts.Backoff = Exponential{Base: time.Second, Max: time.Minute, Jitter: 0.2}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Monitor == nil {
		opts.Monitor = NewMonitor(true)
	}

	items, err := journal.Load()
	if err != nil {
		return nil, err
	}
	q := &Queue{items: items, journal: journal, exec: exec, opts: opts}
	for _, it := range items {
		if it.Seq > q.seq {
			q.seq = it.Seq
		}
	}
	if len(items) > 0 {
		opts.Logger.Info("offline queue restored", zap.Int("items", len(items)))
	}
	return q, nil
}

func (q *Queue) Monitor() *Monitor { return q.opts.Monitor }

// Enqueue parks an action. Higher priority items replay first.
func (q *Queue) Enqueue(a Action, priority int) (Item, error) {
	if err := a.validate(); err != nil {
		return Item{}, err
	}
	now := q.opts.Clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	it := Item{
		ID:            uuid.New().String(),
		Seq:           q.seq,
		Action:        a,
		Priority:      priority,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
	q.items = append(q.items, it)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return Item{}, err
	}
	q.opts.Logger.Info("action queued",
		zap.String("item_id", it.ID),
		zap.String("kind", string(a.Kind)),
		zap.Int("priority", priority))
	return it, nil
}

// Submit runs the action right away when online. If the network turns out
// to be down the action is queued instead and queued is true.
func (q *Queue) Submit(ctx context.Context, a Action, priority int) (queued bool, err error) {
	if err := a.validate(); err != nil {
		return false, err
	}
	if q.opts.Monitor.Online() {
		err := q.exec.Execute(ctx, a)
		if !errors.Is(err, ErrUnavailable) {
			return false, err
		}
		q.opts.Monitor.SetOnline(false)
	}
	if _, err := q.Enqueue(a, priority); err != nil {
		return false, err
	}
	return true, nil
}

// Drain replays due items, highest priority first and oldest first within
// a priority. It stops early if the executor reports the network gone.
func (q *Queue) Drain(ctx context.Context) (Report, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report Report
	tried := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !q.opts.Monitor.Online() {
			report.Interrupted = true
			return report, nil
		}
		it, ok := q.next(tried)
		if !ok {
			return report, nil
		}
		tried[it.ID] = true

		err := q.exec.Execute(ctx, it.Action)
		if errors.Is(err, ErrUnavailable) {
			q.opts.Monitor.SetOnline(false)
			report.Interrupted = true
			q.opts.Logger.Info("connectivity lost while draining", zap.Int("remaining", q.Len()))
			return report, nil
		}
		if err := q.settle(it, err, &report); err != nil {
			return report, err
		}
	}
}

// settle records the outcome of one replay.
func (q *Queue) settle(it Item, execErr error, report *Report) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(it.ID)
	if idx < 0 {
		return nil
	}

	var failure *Failure
	switch {
	case execErr == nil:
		q.removeLocked(idx)
		report.Succeeded = append(report.Succeeded, it)
	case IsPermanent(execErr):
		q.removeLocked(idx)
		failure = &Failure{Item: it, Err: execErr}
	default:
		it.RetryCount++
		it.LastError = execErr.Error()
		if it.RetryCount > q.opts.MaxRetries {
			q.removeLocked(idx)
			failure = &Failure{Item: it, Err: execErr}
			break
		}
		wait := q.opts.Backoff.Delay(it.RetryCount)
		if w := minWait(execErr); w > wait {
			wait = w
		}
		it.NextAttemptAt = q.opts.Clock.Now().Add(wait)
		q.items[idx] = it
		report.Requeued++
		q.opts.Logger.Warn("queued action failed, will retry",
			zap.String("item_id", it.ID),
			zap.Int("retry_count", it.RetryCount),
			zap.Duration("wait", wait),
			zap.Error(execErr))
	}

	if failure != nil {
		report.Failed = append(report.Failed, *failure)
		q.opts.Logger.Error("queued action dropped",
			zap.String("item_id", it.ID),
			zap.String("kind", string(it.Action.Kind)),
			zap.Int("retry_count", it.RetryCount),
			zap.Error(execErr))
		if q.opts.OnFailure != nil {
			q.opts.OnFailure(*failure)
		}
	}
	return q.saveLocked()
}

// next picks the due item that goes first and has not been tried in this
// drain yet.
func (q *Queue) next(tried map[string]bool) (Item, bool) {
	now := q.opts.Clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Item
	for i := range q.items {
		it := &q.items[i]
		if tried[it.ID] || it.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || before(*it, *best) {
			best = it
		}
	}
	if best == nil {
		return Item{}, false
	}
	return *best, true
}

func before(a, b Item) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

// Run drains whenever connectivity returns and whenever a retry comes due,
// until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	restored, stop := q.opts.Monitor.Subscribe()
	defer stop()

	for {
		if q.opts.Monitor.Online() {
			report, err := q.Drain(ctx)
			if err != nil && ctx.Err() == nil {
				q.opts.Logger.Error("drain offline queue", zap.Error(err))
			}
			if n := len(report.Succeeded) + len(report.Failed); n > 0 {
				q.opts.Logger.Info("offline queue drained",
					zap.Int("succeeded", len(report.Succeeded)),
					zap.Int("failed", len(report.Failed)),
					zap.Int("requeued", report.Requeued))
			}
		}

		var due <-chan time.Time
		if at, ok := q.nextDue(); ok && q.opts.Monitor.Online() {
			due = q.opts.Clock.After(at.Sub(q.opts.Clock.Now()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-restored:
		case <-due:
		}
	}
}

func (q *Queue) nextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var at time.Time
	for _, it := range q.items {
		if at.IsZero() || it.NextAttemptAt.Before(at) {
			at = it.NextAttemptAt
		}
	}
	return at, len(q.items) > 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns the queued items in replay order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	out := append([]Item(nil), q.items...)
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

func (q *Queue) indexLocked(id string) int {
	for i, it := range q.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(i int) {
	q.items = append(q.items[:i], q.items[i+1:]...)
}

func (q *Queue) saveLocked() error {
	if err := q.journal.Save(q.items); err != nil {
		return fmt.Errorf("offline: persist queue: %w", err)
	}
	return nil
}
