package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"rental-marketplace/internal/models"
	"rental-marketplace/internal/redisclient"
	"rental-marketplace/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ChannelPattern matches every user's notification channel.
const ChannelPattern = "notifications:*"

const subscriberBuffer = 16

// Publisher publishes raw payloads on a pub/sub channel
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Hub hands notifications to the SSE streams open on this instance. With a
// publisher set, Push goes through redis so every instance sees it and
// delivery happens in Listen.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]map[chan models.Notification]struct{}
	pub    Publisher
	logger *zap.Logger
	closed bool
}

// NewHub creates a hub. pub may be nil for single-instance delivery.
func NewHub(pub Publisher) *Hub {
	return &Hub{
		subs:   make(map[int64]map[chan models.Notification]struct{}),
		pub:    pub,
		logger: util.GetLogger(),
	}
}

// Subscribe registers a stream for userID. The returned cancel func must be
// called when the stream ends. After Close the channel is returned closed.
func (h *Hub) Subscribe(userID int64) (<-chan models.Notification, func()) {
	ch := make(chan models.Notification, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan models.Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[userID][ch]; !ok {
			return
		}
		delete(h.subs[userID], ch)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		close(ch)
	}
}

// Close ends every open stream and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, chans := range h.subs {
		for ch := range chans {
			close(ch)
		}
	}
	h.subs = make(map[int64]map[chan models.Notification]struct{})
	h.closed = true
}

// Subscribers returns the number of open streams for userID
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Push delivers n to its user's streams, across instances when a publisher
// is configured.
func (h *Hub) Push(ctx context.Context, n *models.Notification) error {
	if h.pub == nil {
		h.deliver(*n)
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return h.pub.Publish(ctx, redisclient.NotificationChannel(n.UserID), payload)
}

// Listen delivers messages received on the notification channels until ctx
// is done or msgs is closed.
func (h *Hub) Listen(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.handle(msg)
		}
	}
}

func (h *Hub) handle(msg *redis.Message) {
	userID, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, "notifications:"), 10, 64)
	if err != nil {
		h.logger.Warn("Ignoring message on unexpected channel", zap.String("channel", msg.Channel))
		return
	}

	var n models.Notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		h.logger.Warn("Ignoring malformed notification", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if n.UserID != userID {
		return
	}
	h.deliver(n)
}

func (h *Hub) deliver(n models.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
			h.logger.Warn("Dropping notification for slow stream",
				zap.Int64("user_id", n.UserID),
				zap.Int64("notification_id", n.ID))
		}
	}
}
