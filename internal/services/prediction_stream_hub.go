package services

import (
	"context"
	"sync"
	"time"

	"github.com/racewise/backend/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	hubChannelSize        = 1024
	subscriberChannelSize = 64
	resubscribeDelay      = time.Second
)

// PredictionStreamHub multiplexes one Redis subscription to many SSE
// clients instead of opening a subscription per HTTP request.
type PredictionStreamHub struct {
	redis       *redis.Client
	channelName string

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}

	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPredictionStreamHub(rdb *redis.Client, channel string) *PredictionStreamHub {
	ctx, cancel := context.WithCancel(context.Background())
	hub := &PredictionStreamHub{
		redis:       rdb,
		channelName: channel,
		subscribers: make(map[chan []byte]struct{}),
		ready:       make(chan struct{}),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go hub.run(ctx)

	return hub
}

func (h *PredictionStreamHub) run(ctx context.Context) {
	defer close(h.done)

	for ctx.Err() == nil {
		pubsub := h.redis.Subscribe(ctx, h.channelName)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() == nil {
				logger.Warn("prediction stream subscribe failed: %v", err)
				h.wait(ctx)
			}
			continue
		}
		h.readyOnce.Do(func() { close(h.ready) })

		ch := pubsub.Channel(redis.WithChannelSize(hubChannelSize))
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				h.broadcast([]byte(msg.Payload))
			}
		}
		_ = pubsub.Close()

		// Avoid tight loop if Redis connection drops
		h.wait(ctx)
	}
}

func (h *PredictionStreamHub) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(resubscribeDelay):
	}
}

func (h *PredictionStreamHub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		select {
		case sub <- payload:
		default:
			// Slow subscriber: drop its oldest message
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- payload:
			default:
			}
		}
	}
}

// Ready is closed once the Redis subscription is confirmed.
func (h *PredictionStreamHub) Ready() <-chan struct{} {
	return h.ready
}

// Subscribe registers a new listener and returns a channel plus cleanup function.
func (h *PredictionStreamHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberChannelSize)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}

	return ch, unsubscribe
}

// Close stops the Redis subscription and disconnects every listener.
func (h *PredictionStreamHub) Close() {
	h.cancel()
	<-h.done

	h.mu.Lock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.mu.Unlock()
}
