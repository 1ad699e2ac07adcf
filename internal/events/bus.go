/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Player lifecycle
	EventPlayerReady   EventType = "player.ready"
	EventPlayerStarted EventType = "player.started"
	EventPlayerStopped EventType = "player.stopped"
	EventPlayerError   EventType = "player.error"
	EventProgress      EventType = "player.progress"
	EventVolumeChanged EventType = "player.volume_changed"

	// Mapper state
	EventActionExecuted  EventType = "mapper.action_executed"
	EventPageChanged     EventType = "mapper.page_changed"
	EventEncoderMode     EventType = "mapper.encoder_mode"
	EventMappingsLoaded  EventType = "mapper.mappings_loaded"
	EventMappingMissing  EventType = "mapper.mapping_missing"
	EventPlayLockEngaged EventType = "mapper.play_lock_engaged"

	// Cache activity
	EventPreloadDone   EventType = "cache.preload_done"
	EventPreloadFailed EventType = "cache.preload_failed"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events rather
// than stalling the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	// The read lock is held across the sends so Unsubscribe cannot close a
	// channel mid-publish. Sends never block, so the hold is brief.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
