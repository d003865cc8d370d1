// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package hook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-cnc/gantry/internal/hook"
)

func TestRegistry_TransformOrder(t *testing.T) {
	r := hook.NewRegistry()
	var order []string
	var mu sync.Mutex

	for _, name := range []string{"first", "second", "third"} {
		name := name
		r.Register(hook.BeforeGcodeLine, name, func(_ context.Context, value string, _ hook.Meta) (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return value + "+" + name, nil
		})
	}

	out := r.Transform(context.Background(), hook.BeforeGcodeLine, "G0", hook.Meta{})
	assert.Equal(t, "G0+first+second+third", out)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRegistry_TransformUnchangedValue(t *testing.T) {
	r := hook.NewRegistry()
	r.Register(hook.BeforeGcodeLine, "passthrough", func(_ context.Context, value string, _ hook.Meta) (string, error) {
		return value, nil
	})
	r.Register(hook.BeforeGcodeLine, "rewriter", func(_ context.Context, value string, _ hook.Meta) (string, error) {
		return value + " F100", nil
	})

	out := r.Transform(context.Background(), hook.BeforeGcodeLine, "G1 X1", hook.Meta{})
	assert.Equal(t, "G1 X1 F100", out)
}

func TestRegistry_FaultIsolation(t *testing.T) {
	r := hook.NewRegistry()
	r.Register(hook.BeforeGcodeLine, "good", func(_ context.Context, value string, _ hook.Meta) (string, error) {
		return value + "+good", nil
	})
	r.Register(hook.BeforeGcodeLine, "broken", func(_ context.Context, _ string, _ hook.Meta) (string, error) {
		return "", errors.New("boom")
	})
	r.Register(hook.BeforeGcodeLine, "last", func(_ context.Context, value string, _ hook.Meta) (string, error) {
		return value + "+last", nil
	})

	// broken's output is discarded; last receives good's output.
	out := r.Transform(context.Background(), hook.BeforeGcodeLine, "G0", hook.Meta{})
	assert.Equal(t, "G0+good+last", out)

	faults := r.Faults()
	require.Len(t, faults, 1)
	assert.Equal(t, "broken", faults[0].Plugin)
	assert.Equal(t, hook.BeforeGcodeLine, faults[0].Event)
}

func TestRegistry_PanicIsolation(t *testing.T) {
	r := hook.NewRegistry()
	r.Register(hook.AfterGcodeLine, "panicky", func(_ context.Context, _ string, _ hook.Meta) (string, error) {
		panic("oh no")
	})
	called := false
	r.Register(hook.AfterGcodeLine, "observer", func(_ context.Context, _ string, _ hook.Meta) (string, error) {
		called = true
		return "", nil
	})

	r.Notify(context.Background(), hook.AfterGcodeLine, "G0", hook.Meta{})
	assert.True(t, called, "handler after a panicking one must still run")
	require.Len(t, r.Faults(), 1)
	assert.Equal(t, "panicky", r.Faults()[0].Plugin)
}

func TestRegistry_HandlerTimeout(t *testing.T) {
	r := hook.NewRegistry(hook.WithHandlerTimeout(20 * time.Millisecond))
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r.Register(hook.BeforeGcodeLine, "stuck", func(_ context.Context, _ string, _ hook.Meta) (string, error) {
		<-release
		return "never", nil
	})
	r.Register(hook.BeforeGcodeLine, "after", func(_ context.Context, value string, _ hook.Meta) (string, error) {
		return value + "+after", nil
	})

	out := r.Transform(context.Background(), hook.BeforeGcodeLine, "G0", hook.Meta{})
	assert.Equal(t, "G0+after", out, "timed-out handler resolves to no change")
	require.Len(t, r.Faults(), 1)
	assert.Equal(t, "stuck", r.Faults()[0].Plugin)
}

func TestRegistry_UnregisterPlugin(t *testing.T) {
	r := hook.NewRegistry()
	r.Register(hook.BeforeGcodeLine, "keep", func(_ context.Context, v string, _ hook.Meta) (string, error) { return v, nil })
	r.Register(hook.BeforeGcodeLine, "drop", func(_ context.Context, v string, _ hook.Meta) (string, error) { return v, nil })
	r.Register(hook.AfterJobEnd, "drop", func(_ context.Context, v string, _ hook.Meta) (string, error) { return v, nil })

	r.UnregisterPlugin("drop")

	assert.Equal(t, 1, r.Count(hook.BeforeGcodeLine))
	assert.Equal(t, 0, r.Count(hook.AfterJobEnd))
}

func TestRegistry_CopyOnInvoke(t *testing.T) {
	r := hook.NewRegistry()
	entered := make(chan struct{})
	proceed := make(chan struct{})

	r.Register(hook.BeforeGcodeLine, "slow", func(_ context.Context, value string, _ hook.Meta) (string, error) {
		close(entered)
		<-proceed
		return value + "+slow", nil
	})
	r.Register(hook.BeforeGcodeLine, "tail", func(_ context.Context, value string, _ hook.Meta) (string, error) {
		return value + "+tail", nil
	})

	done := make(chan string, 1)
	go func() {
		done <- r.Transform(context.Background(), hook.BeforeGcodeLine, "G0", hook.Meta{})
	}()

	// Unregister mid-invocation: the in-flight chain still runs the
	// snapshot it started with.
	<-entered
	r.UnregisterPlugin("tail")
	close(proceed)

	assert.Equal(t, "G0+slow+tail", <-done)
	assert.Equal(t, 1, r.Count(hook.BeforeGcodeLine))
}

func TestEvent_Transforms(t *testing.T) {
	assert.True(t, hook.BeforeJobStart.Transforms())
	assert.True(t, hook.BeforeGcodeLine.Transforms())
	assert.False(t, hook.AfterGcodeLine.Transforms())
	assert.False(t, hook.AfterJobEnd.Transforms())
}

func TestKnown(t *testing.T) {
	assert.True(t, hook.Known("onBeforeGcodeLine"))
	assert.False(t, hook.Known("onSomethingElse"))
}
