package positioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// feed fans backend reports out to one-shot requests and watches. Publishing
// never blocks on a slow subscriber; each subscriber has its own ordered queue.
type feed struct {
	clock clockwork.Clock

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	last   *Report
}

func newFeed(clock clockwork.Clock) *feed {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &feed{clock: clock, subs: make(map[uint64]*subscriber)}
}

type subscriber struct {
	id      uint64
	opts    Options
	feed    *feed
	deliver func(Report)

	mu     sync.Mutex
	queue  []Report
	signal chan struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func (f *feed) subscribe(opts Options, deliver func(Report)) *subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	s := &subscriber{
		id:      f.nextID,
		opts:    opts,
		feed:    f,
		deliver: deliver,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	f.subs[s.id] = s
	go s.run()
	return s
}

func (f *feed) publish(r Report) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Err == nil {
		last := r
		f.last = &last
	}
	for _, s := range f.subs {
		if accepts(s.opts, r) {
			s.enqueue(r)
		}
	}
}

func (f *feed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func (f *feed) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// requested folds the options of all live subscribers into the most demanding
// combination. ok is false when nothing is subscribed.
func (f *feed) requested() (opts Options, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subs {
		if !ok {
			opts, ok = s.opts, true
			continue
		}
		opts.EnableHighAccuracy = opts.EnableHighAccuracy || s.opts.EnableHighAccuracy
		opts.Timeout = minPositive(opts.Timeout, s.opts.Timeout)
		if s.opts.MaximumAge < opts.MaximumAge {
			opts.MaximumAge = s.opts.MaximumAge
		}
	}
	return opts, ok
}

// getPosition serves a cached fix within opts.MaximumAge, or waits for the
// next matching report up to opts.Timeout.
func (f *feed) getPosition(ctx context.Context, opts Options) (domain.Position, error) {
	if opts.MaximumAge > 0 {
		f.mu.Lock()
		last := f.last
		f.mu.Unlock()
		if last != nil && accepts(opts, *last) && last.Position.Age(f.clock.Now()) <= opts.MaximumAge {
			return last.Position, nil
		}
	}

	result := make(chan Report, 1)
	sub := f.subscribe(opts, func(r Report) {
		select {
		case result <- r:
		default:
		}
	})
	defer sub.Stop()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := f.clock.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.Chan()
	}

	select {
	case r := <-result:
		if r.Err != nil {
			return domain.Position{}, r.Err
		}
		return r.Position, nil
	case <-timeout:
		return domain.Position{}, domain.NewPositionError(domain.Timeout,
			fmt.Sprintf("no position fix within %s", opts.Timeout))
	case <-ctx.Done():
		return domain.Position{}, fmt.Errorf("get position: %w", ctx.Err())
	}
}

func (f *feed) watch(opts Options, onUpdate func(domain.Position), onError func(error)) WatchHandle {
	return f.subscribe(opts, func(r Report) {
		if r.Err != nil {
			if onError != nil {
				onError(r.Err)
			}
			return
		}
		if onUpdate != nil {
			onUpdate(r.Position)
		}
	})
}

func (s *subscriber) enqueue(r Report) {
	s.mu.Lock()
	s.queue = append(s.queue, r)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, r := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(r)
		}
	}
}

// Stop unsubscribes. Reports still queued are dropped; a callback already
// running completes. Safe to call from within the callback.
func (s *subscriber) Stop() {
	s.stopOnce.Do(func() {
		s.feed.remove(s.id)
		close(s.done)
	})
}

func minPositive(a, b time.Duration) time.Duration {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case b < a:
		return b
	default:
		return a
	}
}
