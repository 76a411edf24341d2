package rtc

import (
	"fmt"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"
	protoutils "github.com/livekit/protocol/utils"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/telemetry/prometheus"
	"github.com/livekit/room-coordinator/pkg/utils"
)

const (
	DefaultSubscriberQueueSize = 64

	subscriptionPrefix = "SUB_"
)

type EventBusParams struct {
	// pending notifications kept per subscriber, the oldest is dropped beyond it
	QueueSize int
	Logger    logger.Logger
}

// EventBus fans notifications out to subscribers. Each subscriber has its own bounded queue
// drained by its own goroutine, so a slow subscriber never blocks Publish or other subscribers.
type EventBus struct {
	params EventBusParams

	lock   sync.RWMutex
	subs   map[string]*Subscription
	closed core.Fuse

	// serialises Publish so queues see notifications in sequence order
	publishLock sync.Mutex
	seq         uint64

	overflowLogger utils.CountedLogger
}

func NewEventBus(params EventBusParams) *EventBus {
	if params.QueueSize <= 0 {
		params.QueueSize = DefaultSubscriberQueueSize
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &EventBus{
		params: params,
		subs:   make(map[string]*Subscription),
		overflowLogger: utils.NewExponentialLogger(params.Logger, utils.CountedLoggerLevelWarn, utils.ExponentialLoggerParams{
			Base: 10,
		}),
	}
}

// Subscribe registers handler. Notifications are delivered in sequence order on a goroutine
// owned by the subscription.
func (b *EventBus) Subscribe(handler types.NotificationHandler) *Subscription {
	sub := newSubscription(protoutils.NewGuid(subscriptionPrefix), handler, b)

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed.IsBroken() {
		sub.Cancel()
		return sub
	}
	b.subs[sub.id] = sub
	go sub.worker()
	return sub
}

// Unsubscribe stops delivery to sub. Once it returns the handler is not running and will not
// be called again. It must not be called from sub's own handler, use Cancel there.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.lock.Lock()
	delete(b.subs, sub.id)
	b.lock.Unlock()

	sub.Cancel()
	// wait out an in-flight delivery
	sub.deliverLock.Lock()
	sub.deliverLock.Unlock()
}

// Publish queues n for every subscriber and returns its sequence number.
// A zero or non-increasing n.Seq is replaced with the next sequence number.
func (b *EventBus) Publish(n types.Notification) uint64 {
	if b.closed.IsBroken() {
		return 0
	}

	b.publishLock.Lock()
	defer b.publishLock.Unlock()

	if n.Seq <= b.seq {
		n.Seq = b.seq + 1
	}
	b.seq = n.Seq

	b.lock.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.lock.RUnlock()

	for _, sub := range subs {
		if sub.enqueue(n, b.params.QueueSize) {
			prometheus.SubscriberQueueOverflow()
			b.overflowLogger.Log("subscriber queue overflow, dropped oldest notification",
				"subscription", sub.id,
				"seq", n.Seq,
			)
		}
	}
	prometheus.NotificationPublished(n.Cause.String())
	return n.Seq
}

func (b *EventBus) LastSeq() uint64 {
	b.publishLock.Lock()
	defer b.publishLock.Unlock()
	return b.seq
}

func (b *EventBus) NumSubscribers() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.subs)
}

// Close cancels every subscription. It does not wait for in-flight deliveries.
func (b *EventBus) Close() {
	b.lock.Lock()
	b.closed.Break()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.lock.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// -----------------------------------

type queuedNotification struct {
	notification types.Notification
	generation   uint64
}

// Subscription is the handle returned by Subscribe
type Subscription struct {
	id      string
	handler types.NotificationHandler
	logger  logger.Logger

	// bumped by Cancel, queued notifications from an older generation are never delivered
	generation atomic.Uint64
	cancelled  core.Fuse

	lock   sync.Mutex
	queue  deque.Deque[queuedNotification]
	notify chan struct{}

	deliverLock sync.Mutex
	dropped     atomic.Uint64
	delivered   atomic.Uint64
}

func newSubscription(id string, handler types.NotificationHandler, b *EventBus) *Subscription {
	return &Subscription{
		id:      id,
		handler: handler,
		logger:  b.params.Logger.WithValues("subscription", id),
		notify:  make(chan struct{}, 1),
	}
}

func (s *Subscription) ID() string {
	return s.id
}

// Cancel stops delivery without waiting for an in-flight handler call.
// Safe to call from the subscription's own handler.
func (s *Subscription) Cancel() {
	s.generation.Inc()
	s.cancelled.Break()

	s.lock.Lock()
	s.queue.Clear()
	s.lock.Unlock()
}

func (s *Subscription) IsCancelled() bool {
	return s.cancelled.IsBroken()
}

// Dropped returns the number of notifications dropped due to overflow
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Delivered() uint64 {
	return s.delivered.Load()
}

// enqueue appends n, dropping the oldest pending notification when full.
// Returns true if a notification was dropped.
func (s *Subscription) enqueue(n types.Notification, capacity int) bool {
	if s.cancelled.IsBroken() {
		return false
	}

	generation := s.generation.Load()
	dropped := false

	s.lock.Lock()
	for s.queue.Len() >= capacity {
		s.queue.PopFront()
		dropped = true
	}
	s.queue.PushBack(queuedNotification{notification: n, generation: generation})
	s.lock.Unlock()

	if dropped {
		s.dropped.Inc()
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) worker() {
	done := s.cancelled.Watch()
	for {
		select {
		case <-done:
			return
		case <-s.notify:
			s.drain()
		}
	}
}

func (s *Subscription) drain() {
	for {
		s.lock.Lock()
		if s.queue.Len() == 0 {
			s.lock.Unlock()
			return
		}
		item := s.queue.PopFront()
		s.lock.Unlock()

		s.deliver(item)
	}
}

func (s *Subscription) deliver(item queuedNotification) {
	s.deliverLock.Lock()
	defer s.deliverLock.Unlock()

	if item.generation != s.generation.Load() || s.cancelled.IsBroken() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("notification handler panicked", fmt.Errorf("%v", r), "seq", item.notification.Seq)
		}
	}()
	s.handler(item.notification)
	s.delivered.Inc()
}
