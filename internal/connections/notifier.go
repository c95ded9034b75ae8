package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/text3d-worker/internal/framing"
	"github.com/adverant/nexus/text3d-worker/internal/models"
)

// ChannelPrefix prefixes the pub/sub channel of each connection
const ChannelPrefix = "text3d:conn:"

// ErrGone is returned when no gateway holds the connection any more
var ErrGone = errors.New("connection gone")

// Channel returns the pub/sub channel for connID
func Channel(connID string) string {
	return ChannelPrefix + connID
}

// ConnectionID extracts the connection id from a channel name
func ConnectionID(channel string) (string, bool) {
	if !strings.HasPrefix(channel, ChannelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, ChannelPrefix)
	return id, id != ""
}

// Notifier posts messages to client connections through Redis pub/sub.
// The gateway holding a socket subscribes to its channel for as long as the
// socket is open, so a publish nobody receives means the client is gone.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a notifier on rdb
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Post sends v as JSON to connID
func (n *Notifier) Post(ctx context.Context, connID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return n.PostRaw(ctx, connID, data)
}

// PostRaw sends an already encoded message to connID
func (n *Notifier) PostRaw(ctx context.Context, connID string, data []byte) error {
	if connID == "" {
		return ErrGone
	}
	receivers, err := n.rdb.Publish(ctx, Channel(connID), data).Result()
	if err != nil {
		return fmt.Errorf("failed to post to connection %s: %w", connID, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: %s", ErrGone, connID)
	}
	return nil
}

// SenderFor adapts the notifier to a frame sender bound to one connection
func (n *Notifier) SenderFor(connID string) framing.Sender {
	return framing.SenderFunc(func(ctx context.Context, frame framing.Frame) error {
		return n.Post(ctx, connID, frame)
	})
}

// Subscribe opens a subscription on the channels of connIDs. More
// connections can be added to it later with Subscribe on the PubSub.
func (n *Notifier) Subscribe(ctx context.Context, connIDs ...string) *redis.PubSub {
	channels := make([]string, len(connIDs))
	for i, id := range connIDs {
		channels[i] = Channel(id)
	}
	return n.rdb.Subscribe(ctx, channels...)
}

// ProgressChannel returns the channel carrying progress updates for jobID
func ProgressChannel(jobID string) string {
	return "text3d:progress:" + jobID
}

// PublishProgress broadcasts a progress update for dashboards and the gateway.
// Having no listeners is not an error.
func (n *Notifier) PublishProgress(ctx context.Context, update models.ProgressUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if err := n.rdb.Publish(ctx, ProgressChannel(update.JobID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish progress for job %s: %w", update.JobID, err)
	}
	return nil
}
