package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/testutils"
)

type recorder struct {
	lock sync.Mutex
	seqs []uint64
}

func (r *recorder) handle(n types.Notification) {
	r.lock.Lock()
	r.seqs = append(r.seqs, n.Seq)
	r.lock.Unlock()
}

func (r *recorder) get() []uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func TestEventBus(t *testing.T) {
	t.Run("delivers in sequence order", func(t *testing.T) {
		b := NewEventBus(EventBusParams{QueueSize: 100})
		defer b.Close()

		var r1, r2 recorder
		b.Subscribe(r1.handle)
		b.Subscribe(r2.handle)

		for i := 0; i < 50; i++ {
			require.Equal(t, uint64(i+1), b.Publish(types.Notification{}))
		}

		expected := make([]uint64, 50)
		for i := range expected {
			expected[i] = uint64(i + 1)
		}
		for _, r := range []*recorder{&r1, &r2} {
			testutils.WithTimeout(t, func() string {
				if len(r.get()) != 50 {
					return "notifications not delivered"
				}
				return ""
			})
			require.Equal(t, expected, r.get())
		}
	})

	t.Run("keeps increasing sequence numbers", func(t *testing.T) {
		b := NewEventBus(EventBusParams{})
		defer b.Close()

		require.Equal(t, uint64(10), b.Publish(types.Notification{Seq: 10}))
		require.Equal(t, uint64(11), b.Publish(types.Notification{Seq: 3}))
		require.Equal(t, uint64(12), b.Publish(types.Notification{}))
		require.Equal(t, uint64(12), b.LastSeq())
	})

	t.Run("slow subscriber drops oldest and never blocks", func(t *testing.T) {
		b := NewEventBus(EventBusParams{QueueSize: 4})
		defer b.Close()

		release := make(chan struct{})
		blocked := make(chan struct{})
		var once sync.Once
		var slow recorder
		sub := b.Subscribe(func(n types.Notification) {
			once.Do(func() { close(blocked) })
			<-release
			slow.handle(n)
		})
		var fast recorder
		b.Subscribe(fast.handle)

		b.Publish(types.Notification{})
		<-blocked

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 20; i++ {
				b.Publish(types.Notification{})
			}
		}()
		select {
		case <-done:
		case <-time.After(testutils.SyncTimeout):
			t.Fatal("publish blocked on a slow subscriber")
		}

		testutils.WithTimeout(t, func() string {
			if len(fast.get()) != 21 {
				return "fast subscriber missed notifications"
			}
			return ""
		})
		require.Equal(t, uint64(16), sub.Dropped())

		close(release)
		testutils.WithTimeout(t, func() string {
			if len(slow.get()) != 5 {
				return "slow subscriber did not catch up"
			}
			return ""
		})
		// first notification was in flight, then the newest four
		require.Equal(t, []uint64{1, 18, 19, 20, 21}, slow.get())
	})

	t.Run("no delivery after unsubscribe returns", func(t *testing.T) {
		b := NewEventBus(EventBusParams{})
		defer b.Close()

		for i := 0; i < 100; i++ {
			var unsubscribed atomic.Bool
			var late atomic.Int32
			sub := b.Subscribe(func(n types.Notification) {
				if unsubscribed.Load() {
					late.Inc()
				}
			})
			b.Publish(types.Notification{})
			b.Unsubscribe(sub)
			unsubscribed.Store(true)
			b.Publish(types.Notification{})

			time.Sleep(time.Millisecond)
			require.Zero(t, late.Load())
			require.True(t, sub.IsCancelled())
		}
		require.Zero(t, b.NumSubscribers())
	})

	t.Run("unsubscribe waits for in-flight delivery", func(t *testing.T) {
		b := NewEventBus(EventBusParams{})
		defer b.Close()

		entered := make(chan struct{})
		var finished atomic.Bool
		sub := b.Subscribe(func(n types.Notification) {
			close(entered)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
		})
		b.Publish(types.Notification{})
		<-entered

		b.Unsubscribe(sub)
		require.True(t, finished.Load())
	})

	t.Run("cancel from own handler", func(t *testing.T) {
		b := NewEventBus(EventBusParams{})
		defer b.Close()

		var calls atomic.Int32
		var sub *Subscription
		ready := make(chan struct{})
		sub = b.Subscribe(func(n types.Notification) {
			<-ready
			calls.Inc()
			sub.Cancel()
		})
		close(ready)
		b.Publish(types.Notification{})
		b.Publish(types.Notification{})

		testutils.WithTimeout(t, func() string {
			if !sub.IsCancelled() {
				return "not cancelled"
			}
			return ""
		})
		time.Sleep(10 * time.Millisecond)
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("handler panic does not stop delivery", func(t *testing.T) {
		b := NewEventBus(EventBusParams{})
		defer b.Close()

		var r recorder
		b.Subscribe(func(n types.Notification) {
			r.handle(n)
			if n.Seq == 1 {
				panic("boom")
			}
		})
		b.Publish(types.Notification{})
		b.Publish(types.Notification{})
		testutils.WithTimeout(t, func() string {
			if len(r.get()) != 2 {
				return "delivery stopped"
			}
			return ""
		})
	})

	t.Run("closed bus", func(t *testing.T) {
		b := NewEventBus(EventBusParams{})
		sub := b.Subscribe(func(n types.Notification) {})
		b.Close()

		require.True(t, sub.IsCancelled())
		require.Zero(t, b.Publish(types.Notification{}))
		require.True(t, b.Subscribe(func(n types.Notification) {}).IsCancelled())
	})
}
