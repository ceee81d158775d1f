package pubsub

import (
	"context"
	"fmt"
	"sync"

	"tiktok-shop-finance-layer/internal/domain"

	"github.com/rs/zerolog"
)

// SyncEventStage marks where in a run an event was emitted.
type SyncEventStage string

const (
	StagePageFetched SyncEventStage = "page_fetched"
	StageCompleted   SyncEventStage = "completed"
	StageFailed      SyncEventStage = "failed"
)

// SyncEvent is one progress notification from a sync run.
type SyncEvent struct {
	ConnectionID string
	Stage        SyncEventStage
	Page         int
	Result       *domain.SyncResult
}

// SyncEventChannel represents a subscription channel.
type SyncEventChannel struct {
	ID     string
	Filter *SyncEventFilter
	Events chan *SyncEvent
	Done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// SyncEventFilter filters sync events.
type SyncEventFilter struct {
	ConnectionID string
	Stages       []SyncEventStage
}

// SyncPubSub fans sync-run progress out to in-process subscribers (status
// pollers, tests, future push surfaces).
type SyncPubSub struct {
	mu       sync.RWMutex
	channels map[string]*SyncEventChannel
	logger   zerolog.Logger
	nextID   int64
	idMu     sync.Mutex
}

// NewSyncPubSub creates a new sync pub/sub system.
func NewSyncPubSub(logger zerolog.Logger) *SyncPubSub {
	return &SyncPubSub{
		channels: make(map[string]*SyncEventChannel),
		logger:   logger,
	}
}

// Subscribe creates a new subscription channel.
func (ps *SyncPubSub) Subscribe(ctx context.Context, filter *SyncEventFilter) *SyncEventChannel {
	ps.idMu.Lock()
	ps.nextID++
	id := fmt.Sprintf("channel-%d", ps.nextID)
	ps.idMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)

	channel := &SyncEventChannel{
		ID:     id,
		Filter: filter,
		Events: make(chan *SyncEvent, 10),
		Done:   make(chan struct{}),
		ctx:    subCtx,
		cancel: cancel,
	}

	ps.mu.Lock()
	ps.channels[id] = channel
	ps.mu.Unlock()

	go func() {
		<-subCtx.Done()
		ps.Unsubscribe(id)
	}()

	return channel
}

// Unsubscribe removes a subscription channel.
func (ps *SyncPubSub) Unsubscribe(channelID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	channel, exists := ps.channels[channelID]
	if !exists {
		return
	}

	close(channel.Events)
	close(channel.Done)
	channel.cancel()
	delete(ps.channels, channelID)
}

// Publish broadcasts a sync event to all matching subscribers. Publishing
// never blocks a sync run: a full buffer drops the event.
func (ps *SyncPubSub) Publish(event *SyncEvent) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, channel := range ps.channels {
		if !matchesFilter(event, channel.Filter) {
			continue
		}
		select {
		case channel.Events <- event:
		case <-channel.ctx.Done():
		default:
			ps.logger.Warn().
				Str("channelId", channel.ID).
				Str("connection_id", event.ConnectionID).
				Msg("Channel buffer full, dropping sync event")
		}
	}
}

func matchesFilter(event *SyncEvent, filter *SyncEventFilter) bool {
	if filter == nil {
		return true
	}
	if filter.ConnectionID != "" && event.ConnectionID != filter.ConnectionID {
		return false
	}
	if len(filter.Stages) > 0 {
		match := false
		for _, s := range filter.Stages {
			if event.Stage == s {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
