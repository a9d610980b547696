package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

// feedKeyAll subscribes a client to every capacity record.
const feedKeyAll = "*"

// CapacityFeed pushes committed capacity snapshots to connected viewers so
// slot pickers and the admin dashboard reflect remaining seats without
// polling. Delivery is best-effort and latest-wins: a slot that changes twice
// quickly may only deliver the final value, and each push is a full
// replacement of the slot's state. The feed never blocks a writer.
//
// When a redis client is attached, snapshots are also published on a pub/sub
// channel so other service instances rebroadcast them to their own
// subscribers.
type CapacityFeed struct {
	clients     map[string][]chan models.CapacityRecord
	clientMutex sync.RWMutex

	redisClient *redis.Client
	channel     string
	originID    string
	logger      *logger.Logger
}

// feedMessage is the cross-instance wire format. Origin lets an instance
// drop its own messages coming back from redis.
type feedMessage struct {
	Origin string                `json:"origin"`
	Record models.CapacityRecord `json:"record"`
}

// NewCapacityFeed creates a feed. redisClient may be nil for single-instance
// deployments and tests.
func NewCapacityFeed(redisClient *redis.Client, channel string, log *logger.Logger) *CapacityFeed {
	return &CapacityFeed{
		clients:     make(map[string][]chan models.CapacityRecord),
		redisClient: redisClient,
		channel:     channel,
		originID:    uuid.NewString(),
		logger:      log,
	}
}

// Subscribe registers interest in every capacity record. The subscription is
// torn down when ctx is cancelled; teardown is idempotent.
func (f *CapacityFeed) Subscribe(ctx context.Context) chan models.CapacityRecord {
	return f.subscribe(ctx, feedKeyAll)
}

// SubscribeSlot registers interest in a single slot's capacity record.
func (f *CapacityFeed) SubscribeSlot(ctx context.Context, slotID string) chan models.CapacityRecord {
	return f.subscribe(ctx, slotID)
}

func (f *CapacityFeed) subscribe(ctx context.Context, key string) chan models.CapacityRecord {
	clientChan := make(chan models.CapacityRecord, 8)

	f.clientMutex.Lock()
	f.clients[key] = append(f.clients[key], clientChan)
	f.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		f.removeClient(key, clientChan)
	}()

	return clientChan
}

// Publish broadcasts a committed capacity snapshot to local subscribers and,
// when redis is attached, to the other instances.
func (f *CapacityFeed) Publish(record models.CapacityRecord) {
	f.broadcast(record)

	if f.redisClient == nil {
		return
	}
	payload, err := json.Marshal(feedMessage{Origin: f.originID, Record: record})
	if err != nil {
		return
	}
	if err := f.redisClient.Publish(context.Background(), f.channel, payload).Err(); err != nil && f.logger != nil {
		f.logger.Warn("SSE", fmt.Sprintf("Failed to publish capacity snapshot to redis: %v", err))
	}
}

func (f *CapacityFeed) broadcast(record models.CapacityRecord) {
	f.clientMutex.RLock()
	targets := make([]chan models.CapacityRecord, 0, len(f.clients[feedKeyAll])+len(f.clients[record.SlotID]))
	targets = append(targets, f.clients[feedKeyAll]...)
	targets = append(targets, f.clients[record.SlotID]...)
	f.clientMutex.RUnlock()

	for _, clientChan := range targets {
		select {
		case clientChan <- record:
		default:
			// Slow subscriber: drop its oldest buffered snapshot so the
			// latest state still gets through.
			select {
			case <-clientChan:
			default:
			}
			select {
			case clientChan <- record:
			default:
			}
		}
	}
}

// Start runs the redis fan-in loop until ctx is cancelled. Snapshots
// published by other instances are rebroadcast to local subscribers; our own
// messages are dropped since broadcast already delivered them.
func (f *CapacityFeed) Start(ctx context.Context) {
	if f.redisClient == nil {
		return
	}
	sub := f.redisClient.Subscribe(ctx, f.channel)

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var fm feedMessage
				if err := json.Unmarshal([]byte(msg.Payload), &fm); err != nil {
					if f.logger != nil {
						f.logger.Warn("SSE", fmt.Sprintf("Dropping malformed feed message: %v", err))
					}
					continue
				}
				if fm.Origin == f.originID {
					continue
				}
				f.broadcast(fm.Record)
			}
		}
	}()
}

func (f *CapacityFeed) removeClient(key string, clientChan chan models.CapacityRecord) {
	f.clientMutex.Lock()
	defer f.clientMutex.Unlock()

	clients := f.clients[key]
	for i, ch := range clients {
		if ch == clientChan {
			f.clients[key] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(f.clients[key]) == 0 {
		delete(f.clients, key)
	}
}

// ClientCount returns the number of subscribers for a slot id, or for the
// whole feed when slotID is empty.
func (f *CapacityFeed) ClientCount(slotID string) int {
	f.clientMutex.RLock()
	defer f.clientMutex.RUnlock()
	if slotID == "" {
		return len(f.clients[feedKeyAll])
	}
	return len(f.clients[slotID])
}
