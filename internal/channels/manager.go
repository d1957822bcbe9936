package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound replies to the correct channel.
type Manager struct {
	channels     map[string]Channel
	bus          bus.OutboundRouter
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager(router bus.OutboundRouter) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      router,
	}
}

// StartAll starts all registered channels and the outbound dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatchTask != nil {
		return fmt.Errorf("channels: already started")
	}
	dispatchCtx, cancel := context.WithCancel(ctx)
	task := &asyncTask{cancel: cancel, done: make(chan struct{})}
	m.dispatchTask = task
	go func() {
		defer close(task.done)
		m.dispatchOutbound(dispatchCtx)
	}()

	if len(m.channels) == 0 {
		slog.Warn("channels: no channels enabled")
		return nil
	}

	var started int
	for name, channel := range m.channels {
		slog.Info("channels: starting", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("channels: failed to start", "channel", name, "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("channels: none of %d channels started", len(m.channels))
	}
	return nil
}

// StopAll stops the outbound dispatch loop, waits for it, then stops every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	task := m.dispatchTask
	m.dispatchTask = nil
	m.mu.Unlock()

	if task != nil {
		task.cancel()
		<-task.done
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, channel := range m.channels {
		slog.Info("channels: stopping", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Warn("channels: error stopping", "channel", name, "error", err)
		}
	}
	return nil
}

// dispatchOutbound consumes replies from the bus and routes them to the
// channel named in the message.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Debug("channels: outbound dispatcher started")
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Debug("channels: outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("channels: unknown channel for outbound message", "channel", msg.Channel)
			continue
		}

		if err := channel.Send(ctx, msg); err != nil {
			slog.Warn("channels: send failed",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"error", err,
			)
		}
	}
}

// Status returns the running state of every channel.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.IsRunning()
	}
	return status
}

// EnabledChannels returns the sorted names of all registered channels.
func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.Name()] = channel
}

// SendToChannel delivers a message to a specific channel by name, bypassing the bus.
func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	m.mu.RLock()
	channel, exists := m.channels[channelName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}

	return channel.Send(ctx, bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: content,
	})
}
