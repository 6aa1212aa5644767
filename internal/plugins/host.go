package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/dohr-michael/cadre/internal/events"
)

// hostNamespace is the import module WASM plugins link host functions from.
const hostNamespace = "cadre"

// KVStore is the key-value space of one plugin.
type KVStore interface {
	// Get returns nil, nil for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// KVOpener returns the store of the named plugin.
type KVOpener func(plugin string) KVStore

// MemoryKV is a KVStore that lives as long as the process.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV { return &MemoryKV{data: make(map[string][]byte)} }

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key], nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// hostEnv is what the host functions of one plugin can reach.
type hostEnv struct {
	plugin string
	bus    *events.Bus
	kv     KVStore // nil without the kv capability
	config map[string]string
}

// hostCall is a host function body: JSON or text in, bytes out.
type hostCall func(ctx context.Context, in []byte) ([]byte, error)

// NewHostFunctions links log, get_config, kv_get, kv_set and emit_event
// into the "cadre" namespace. With a nil kv, reads come back empty and
// writes are refused.
func NewHostFunctions(pluginName string, bus *events.Bus, kv KVStore, pluginConfig map[string]string) []extism.HostFunction {
	env := &hostEnv{plugin: pluginName, bus: bus, kv: kv, config: pluginConfig}
	return []extism.HostFunction{
		env.export("log", env.log, false),
		env.export("get_config", env.getConfig, true),
		env.export("kv_get", env.kvGet, true),
		env.export("kv_set", env.kvSet, false),
		env.export("emit_event", env.emitEvent, false),
	}
}

// export adapts call to the extism stack convention: one pointer in and,
// when returns is set, one pointer out (0 on failure).
func (e *hostEnv) export(name string, call hostCall, returns bool) extism.HostFunction {
	ptr := []extism.ValueType{extism.ValueTypePTR}
	var results []extism.ValueType
	if returns {
		results = ptr
	}
	fn := extism.NewHostFunctionWithStack(name, func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
		in, err := p.ReadBytes(stack[0])
		var out []byte
		if err == nil {
			out, err = call(ctx, in)
		}
		if err != nil {
			slog.Warn("plugin host call failed", "plugin", e.plugin, "fn", name, "error", err)
		}
		if !returns {
			return
		}
		stack[0] = 0
		if err != nil {
			return
		}
		if off, werr := p.WriteBytes(out); werr == nil {
			stack[0] = off
		}
	}, ptr, results)
	fn.SetNamespace(hostNamespace)
	return fn
}

func (e *hostEnv) log(_ context.Context, in []byte) ([]byte, error) {
	var msg struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(in, &msg); err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(msg.Level))
	slog.Log(context.Background(), level, msg.Message, "plugin", e.plugin)
	return nil, nil
}

func (e *hostEnv) getConfig(_ context.Context, key []byte) ([]byte, error) {
	return []byte(e.config[string(key)]), nil
}

func (e *hostEnv) kvGet(ctx context.Context, key []byte) ([]byte, error) {
	if e.kv == nil {
		return []byte{}, nil
	}
	v, err := e.kv.Get(ctx, string(key))
	if v == nil {
		v = []byte{}
	}
	return v, err
}

func (e *hostEnv) kvSet(ctx context.Context, in []byte) ([]byte, error) {
	if e.kv == nil {
		return nil, fmt.Errorf("kv_set denied: no kv capability")
	}
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(in, &req); err != nil {
		return nil, fmt.Errorf("kv_set: %w", err)
	}
	if req.Key == "" {
		return nil, fmt.Errorf("kv_set: empty key")
	}
	return nil, e.kv.Set(ctx, req.Key, []byte(req.Value))
}

func (e *hostEnv) emitEvent(_ context.Context, in []byte) ([]byte, error) {
	var ev struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(in, &ev); err != nil {
		return nil, fmt.Errorf("emit_event: %w", err)
	}
	payload := make(map[string]any, len(ev.Payload)+2)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	payload["plugin"] = e.plugin
	payload["type"] = ev.Type
	e.bus.Publish(events.NewEvent(events.EventPlugin, events.SourcePlugin, payload))
	return nil, nil
}
