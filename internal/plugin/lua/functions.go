// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package lua

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/gantry-cnc/gantry/internal/event"
	"github.com/gantry-cnc/gantry/internal/hook"
	"github.com/gantry-cnc/gantry/internal/plugin/permission"
)

// registerAPI installs the gantry.* host functions into a plugin's
// state. Functions that touch the machine, settings, or the event bus
// require the matching manifest permission; log, new_id, and on do not.
func (h *Host) registerAPI(L *lua.LState, inst *instance) {
	name := inst.manifest.Name
	mod := L.NewTable()

	L.SetField(mod, "log", L.NewFunction(logFn(name)))
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))
	L.SetField(mod, "on", L.NewFunction(h.onFn(inst)))

	L.SetField(mod, "subscribe", L.NewFunction(h.wrap(name, permission.EventsSubscribe, h.subscribeFn(inst))))
	L.SetField(mod, "broadcast", L.NewFunction(h.wrap(name, permission.EventsBroadcast, h.broadcastFn(name))))
	L.SetField(mod, "send_gcode", L.NewFunction(h.wrap(name, permission.GcodeSend, h.sendGcodeFn())))
	L.SetField(mod, "get_setting", L.NewFunction(h.wrap(name, permission.SettingsRead, h.getSettingFn(name))))
	L.SetField(mod, "set_setting", L.NewFunction(h.wrap(name, permission.SettingsWrite, h.setSettingFn(name))))

	L.SetGlobal("gantry", mod)
}

// wrap guards a host function behind a permission check.
func (h *Host) wrap(plugin, perm string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !h.enforcer.Check(plugin, perm) {
			L.RaiseError("permission denied: %s requires %s", plugin, perm)
			return 0
		}
		return fn(L)
	}
}

// callCtx returns the context attached to the running state, falling
// back to Background for calls made during script load.
func callCtx(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func logFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := slog.Default().With("plugin", pluginName)
		switch level {
		case "debug":
			logger.Debug(message)
		case "info":
			logger.Info(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

// onFn registers a Lua function as a hook handler. Handlers run in
// registration order when the engine reaches the hook point.
func (h *Host) onFn(inst *instance) lua.LGFunction {
	return func(L *lua.LState) int {
		eventName := L.CheckString(1)
		fn := L.CheckFunction(2)

		if !hook.Known(eventName) {
			L.RaiseError("unknown hook event: %s", eventName)
			return 0
		}

		h.hooks.Register(hook.Event(eventName), inst.manifest.Name, h.hookHandler(inst, fn))
		return 0
	}
}

// subscribeFn registers a Lua callback for broadcast events matching a
// glob pattern. Delivery is asynchronous and best-effort.
func (h *Host) subscribeFn(inst *instance) lua.LGFunction {
	return func(L *lua.LState) int {
		pattern := L.CheckString(1)
		fn := L.CheckFunction(2)

		sub, err := h.bus.Subscribe(pattern)
		if err != nil {
			L.RaiseError("subscribe %q: %s", pattern, err.Error())
			return 0
		}

		// The state mutex is held by whichever path is executing this
		// Lua code, so the subs slice needs no extra locking.
		inst.subs = append(inst.subs, sub)
		inst.wg.Add(1)
		go h.pump(inst, fn, sub)
		return 0
	}
}

func (h *Host) broadcastFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		payload := L.OptString(2, "")

		h.bus.Publish(event.New(name, "plugin:"+pluginName, payload))
		return 0
	}
}

// sendGcodeFn sends one line to the controller and returns its
// response, or nil plus an error message. Rejected while a job is
// streaming.
func (h *Host) sendGcodeFn() lua.LGFunction {
	return func(L *lua.LState) int {
		line := L.CheckString(1)

		if h.engine == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("engine not available"))
			return 2
		}

		resp, err := h.engine.SendImmediate(callCtx(L), line)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		L.Push(lua.LString(resp))
		return 1
	}
}

func (h *Host) getSettingFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if h.settings == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("settings store not available"))
			return 2
		}

		value, ok, err := h.settings.Get(callCtx(L), pluginName, key)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if !ok {
			L.Push(lua.LNil)
			return 1
		}

		L.Push(lua.LString(value))
		return 1
	}
}

func (h *Host) setSettingFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)

		if h.settings == nil {
			L.Push(lua.LString("settings store not available"))
			return 1
		}

		if err := h.settings.Set(callCtx(L), pluginName, key, value); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}
