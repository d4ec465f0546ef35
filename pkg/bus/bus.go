// Package bus provides a small generic pub/sub bus used for status
// notifications and variable change events. Publishing never blocks on a
// slow subscriber: subscriber channels are buffered and messages to a full
// subscriber are dropped with a log entry.
package bus

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

type Message[K comparable, M any] struct {
	Key     K
	Message M
}

type Publisher[M any] func(ctx context.Context, msg M)
type Subscriber[K comparable, M any] func(ctx context.Context) <-chan Message[K, M]

type Bus[K comparable, M any] struct {
	log *zap.Logger

	keySubs    *xsync.MapOf[K, *xsync.MapOf[chan Message[K, M], struct{}]]
	globalSubs *xsync.MapOf[chan Message[K, M], struct{}]
}

func NewBus[K comparable, M any](log *zap.Logger) *Bus[K, M] {
	return &Bus[K, M]{
		log:        log,
		keySubs:    xsync.NewMapOf[K, *xsync.MapOf[chan Message[K, M], struct{}]](),
		globalSubs: xsync.NewMapOf[chan Message[K, M], struct{}](),
	}
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	m := Message[K, M]{Key: key, Message: msg}
	if subs, ok := b.keySubs.Load(key); ok {
		subs.Range(func(ch chan Message[K, M], _ struct{}) bool {
			b.send(ch, m)
			return true
		})
	}
	b.globalSubs.Range(func(ch chan Message[K, M], _ struct{}) bool {
		b.send(ch, m)
		return true
	})
}

func (b *Bus[K, M]) send(ch chan Message[K, M], m Message[K, M]) {
	select {
	case ch <- m:
	default:
		b.log.Warn("Dropping bus message: subscriber is not keeping up")
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

// Subscribe returns a channel receiving messages for the given keys, or for
// every key when none are given. The subscription ends when ctx is done.
func (b *Bus[K, M]) Subscribe(ctx context.Context, keys ...K) <-chan Message[K, M] {
	ch := make(chan Message[K, M], subscriberBuffer)
	if len(keys) == 0 {
		b.globalSubs.Store(ch, struct{}{})
	} else {
		for _, key := range keys {
			subs, _ := b.keySubs.LoadOrCompute(key, func() *xsync.MapOf[chan Message[K, M], struct{}] {
				return xsync.NewMapOf[chan Message[K, M], struct{}]()
			})
			subs.Store(ch, struct{}{})
		}
	}
	go func() {
		<-ctx.Done()
		if len(keys) == 0 {
			b.globalSubs.Delete(ch)
		} else {
			for _, key := range keys {
				if subs, ok := b.keySubs.Load(key); ok {
					subs.Delete(ch)
				}
			}
		}
	}()
	return ch
}

func (b *Bus[K, M]) CreateSubscriber(keys ...K) Subscriber[K, M] {
	return func(ctx context.Context) <-chan Message[K, M] {
		return b.Subscribe(ctx, keys...)
	}
}
