// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/gantry-cnc/gantry/internal/event"
	"github.com/gantry-cnc/gantry/internal/hook"
	plugins "github.com/gantry-cnc/gantry/internal/plugin"
	"github.com/gantry-cnc/gantry/internal/plugin/permission"
)

// Compile-time interface check.
var _ plugins.Host = (*Host)(nil)

// Engine sends single G-code lines outside of a streaming job.
type Engine interface {
	SendImmediate(ctx context.Context, line string) (string, error)
}

// Settings provides namespaced persistent key-value storage.
type Settings interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
}

// defaultDeliveryTimeout bounds a single event delivery into Lua.
const defaultDeliveryTimeout = 5 * time.Second

// instance is one loaded plugin: a persistent sandboxed state plus its
// live event subscriptions. The mutex serializes every entry into the
// state; gopher-lua states are not safe for concurrent use.
type instance struct {
	manifest *plugins.Manifest
	state    *lua.LState
	mu       sync.Mutex
	closed   bool

	subs    []*event.Subscription
	pumpCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Host manages Lua plugins. Each plugin keeps one persistent state for
// its whole lifetime so handlers can share upvalues and globals
// between invocations.
type Host struct {
	factory         *StateFactory
	hooks           *hook.Registry
	bus             *event.Broadcaster
	enforcer        *permission.Enforcer
	engine          Engine
	settings        Settings
	deliveryTimeout time.Duration

	plugins map[string]*instance
	mu      sync.RWMutex
	closed  bool
}

// HostOption configures the Host.
type HostOption func(*Host)

// WithEngine wires the G-code engine used by gantry.send_gcode.
func WithEngine(e Engine) HostOption {
	return func(h *Host) {
		h.engine = e
	}
}

// WithSettings wires the settings store used by gantry.get_setting and
// gantry.set_setting.
func WithSettings(s Settings) HostOption {
	return func(h *Host) {
		h.settings = s
	}
}

// WithDeliveryTimeout overrides the per-delivery timeout for
// subscription callbacks.
func WithDeliveryTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		if d > 0 {
			h.deliveryTimeout = d
		}
	}
}

// NewHost creates a Lua plugin host.
func NewHost(hooks *hook.Registry, bus *event.Broadcaster, enforcer *permission.Enforcer, opts ...HostOption) *Host {
	h := &Host{
		factory:         NewStateFactory(),
		hooks:           hooks,
		bus:             bus,
		enforcer:        enforcer,
		deliveryTimeout: defaultDeliveryTimeout,
		plugins:         make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load reads the plugin's entry script, runs it in a fresh sandboxed
// state, and calls on_load if the script defines it. Hook handlers and
// subscriptions registered during the run become live immediately.
func (h *Host) Load(ctx context.Context, manifest *plugins.Manifest, dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	errb := oops.In("lua").With("plugin", manifest.Name).With("operation", "load")

	if h.closed {
		return errb.New("host is closed")
	}
	if _, ok := h.plugins[manifest.Name]; ok {
		return errb.New("plugin already loaded")
	}

	entryPath := filepath.Join(dir, manifest.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return errb.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	if err := h.enforcer.Grant(manifest.Name, manifest.Permissions); err != nil {
		return errb.Hint("invalid permissions").Wrap(err)
	}

	L, err := h.factory.NewState(ctx)
	if err != nil {
		h.enforcer.Revoke(manifest.Name)
		return errb.Hint("failed to create state").Wrap(err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		manifest: manifest,
		state:    L,
		pumpCtx:  pumpCtx,
		cancel:   cancel,
	}
	h.registerAPI(L, inst)

	fail := func(err error) error {
		h.teardown(inst)
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := L.DoString(string(code)); err != nil {
		return fail(errb.With("entry", manifest.Entry).Hint("script error").Wrap(err))
	}

	if onLoad := L.GetGlobal("on_load"); onLoad.Type() != lua.LTNil {
		if err := L.CallByParam(lua.P{Fn: onLoad, NRet: 0, Protect: true}); err != nil {
			return fail(errb.With("operation", "on_load").Wrap(err))
		}
	}

	h.plugins[manifest.Name] = inst
	return nil
}

// Unload removes a plugin: its hook handlers are unregistered, its
// subscriptions closed, on_unload is called, and its state destroyed.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	inst, ok := h.plugins[name]
	delete(h.plugins, name)
	h.mu.Unlock()

	if !ok {
		return oops.In("lua").With("plugin", name).With("operation", "unload").New("plugin not loaded")
	}

	h.unload(inst)
	return nil
}

func (h *Host) unload(inst *instance) {
	name := inst.manifest.Name

	// New hook deliveries stop first; in-flight ones finish against a
	// still-open state.
	h.hooks.UnregisterPlugin(name)

	inst.cancel()
	inst.mu.Lock()
	for _, sub := range inst.subs {
		sub.Close()
	}
	inst.mu.Unlock()
	inst.wg.Wait()

	inst.mu.Lock()
	if onUnload := inst.state.GetGlobal("on_unload"); onUnload.Type() != lua.LTNil {
		if err := inst.state.CallByParam(lua.P{Fn: onUnload, NRet: 0, Protect: true}); err != nil {
			slog.Warn("plugin on_unload failed",
				"plugin", name,
				"error", err)
		}
	}
	inst.closed = true
	inst.state.Close()
	inst.mu.Unlock()

	h.enforcer.Revoke(name)
}

// teardown discards a partially-loaded instance. Caller holds inst.mu.
func (h *Host) teardown(inst *instance) {
	name := inst.manifest.Name
	h.hooks.UnregisterPlugin(name)
	inst.cancel()
	for _, sub := range inst.subs {
		sub.Close()
	}
	inst.closed = true
	inst.state.Close()
	h.enforcer.Revoke(name)
}

// Plugins returns names of loaded plugins, sorted.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down the host and unloads every plugin.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	instances := h.plugins
	h.plugins = make(map[string]*instance)
	h.closed = true
	h.mu.Unlock()

	for _, inst := range instances {
		h.unload(inst)
	}
	return nil
}

// hookHandler adapts a Lua function into a hook.Handler. A nil return
// from Lua keeps the threaded value unchanged; a string return
// replaces it. The call runs under the plugin's state mutex with the
// registry's deadline applied to the VM, so a runaway script aborts
// instead of wedging the state.
func (h *Host) hookHandler(inst *instance, fn *lua.LFunction) hook.Handler {
	return func(ctx context.Context, value string, meta hook.Meta) (string, error) {
		inst.mu.Lock()
		defer inst.mu.Unlock()

		errb := oops.In("lua").With("plugin", inst.manifest.Name)

		if inst.closed {
			return value, errb.New("plugin unloaded")
		}

		L := inst.state
		L.SetContext(ctx)
		defer L.RemoveContext()

		if err := L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, lua.LString(value), metaTable(L, meta)); err != nil {
			return value, errb.Wrap(err)
		}

		ret := L.Get(-1)
		L.Pop(1)

		switch ret.Type() {
		case lua.LTNil:
			return value, nil
		case lua.LTString:
			return string(ret.(lua.LString)), nil
		default:
			return value, errb.Errorf("handler returned %s, want string or nil", ret.Type())
		}
	}
}

// pump feeds one subscription into its Lua callback until the
// subscription closes or the plugin unloads.
func (h *Host) pump(inst *instance, fn *lua.LFunction, sub *event.Subscription) {
	defer inst.wg.Done()
	for {
		select {
		case <-inst.pumpCtx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			h.deliver(inst, fn, msg)
		}
	}
}

func (h *Host) deliver(inst *instance, fn *lua.LFunction, msg event.Message) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.deliveryTimeout)
	defer cancel()

	L := inst.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	t := L.NewTable()
	L.SetField(t, "id", lua.LString(msg.ID.String()))
	L.SetField(t, "name", lua.LString(msg.Name))
	L.SetField(t, "time", lua.LNumber(msg.Time.Unix()))
	L.SetField(t, "source", lua.LString(msg.Source))
	L.SetField(t, "payload", lua.LString(msg.Payload))

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, t); err != nil {
		slog.Warn("plugin event callback failed",
			"plugin", inst.manifest.Name,
			"event", msg.Name,
			"error", err)
	}
}

// metaTable builds the meta argument passed to hook handlers.
func metaTable(L *lua.LState, meta hook.Meta) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "job_id", lua.LString(meta.JobID))
	L.SetField(t, "source_id", lua.LString(meta.SourceID))
	L.SetField(t, "filename", lua.LString(meta.Filename))
	L.SetField(t, "file_path", lua.LString(meta.FilePath))
	L.SetField(t, "line_number", lua.LNumber(meta.LineNumber))
	L.SetField(t, "total_lines", lua.LNumber(meta.TotalLines))
	L.SetField(t, "response", lua.LString(meta.Response))
	L.SetField(t, "reason", lua.LString(meta.Reason))
	L.SetField(t, "error", lua.LString(meta.Err))
	return t
}
