// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_Subscribe(t *testing.T) {
	b := NewBroadcaster()

	sub, err := b.Subscribe(NameData)
	require.NoError(t, err)

	msg := New(NameData, "controller", "<Idle|MPos:0,0,0>")
	b.Publish(msg)

	select {
	case got := <-sub.C:
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "<Idle|MPos:0,0,0>", got.Payload)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestBroadcaster_GlobPattern(t *testing.T) {
	b := NewBroadcaster()

	all, err := b.Subscribe("cnc-*")
	require.NoError(t, err)
	custom, err := b.Subscribe("tool-changed")
	require.NoError(t, err)

	b.Publish(New(NameResponse, "controller", "ok"))
	b.Publish(New("tool-changed", "plugin:probe", `{"tool":2}`))

	got := <-all.C
	assert.Equal(t, NameResponse, got.Name)
	select {
	case extra := <-all.C:
		t.Fatalf("cnc-* must not receive %q", extra.Name)
	default:
	}

	got = <-custom.C
	assert.Equal(t, "tool-changed", got.Name)
}

func TestBroadcaster_InvalidPattern(t *testing.T) {
	b := NewBroadcaster()
	_, err := b.Subscribe("cnc-[")
	assert.Error(t, err)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	sub, err := b.Subscribe(NameData)
	require.NoError(t, err)

	sub.Close()
	sub.Close() // idempotent

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed")

	// Publishing after close must not panic or deliver.
	b.Publish(New(NameData, "controller", "x"))
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(WithBuffer(1))

	slow, err := b.Subscribe(NameData)
	require.NoError(t, err)

	// Overflowing the single-slot buffer must not block the publisher;
	// the overflow message is dropped for that subscriber.
	done := make(chan struct{})
	go func() {
		b.Publish(New(NameData, "controller", "one"))
		b.Publish(New(NameData, "controller", "two"))
		b.Publish(New(NameData, "controller", "three"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	assert.Equal(t, "one", (<-slow.C).Payload)
	select {
	case m := <-slow.C:
		t.Fatalf("unexpected second delivery to slow subscriber: %q", m.Payload)
	default:
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()

	s1, err := b.Subscribe(NameSystemMessage)
	require.NoError(t, err)
	s2, err := b.Subscribe(NameSystemMessage)
	require.NoError(t, err)

	b.Publish(New(NameSystemMessage, "controller", "[MSG:Reset to continue]"))

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case got := <-sub.C:
			assert.Equal(t, "[MSG:Reset to continue]", got.Payload)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for fan-out delivery")
		}
	}
}
