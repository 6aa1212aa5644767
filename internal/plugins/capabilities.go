package plugins

import (
	"log/slog"
	"time"

	extism "github.com/extism/go-sdk"
)

// GuestDocRoot is where the document root appears inside a plugin granted
// the documents capability.
const GuestDocRoot = "/docs"

// Document access levels.
const (
	DocsRead  = "read"
	DocsWrite = "write"
)

// CapabilitySet lists what a plugin may touch. Anything absent is denied.
type CapabilitySet struct {
	HTTP      *HTTPCapability `json:"http,omitempty"`
	KV        bool            `json:"kv"`
	Documents string          `json:"documents,omitempty"` // "", "read" or "write"
	Memory    *MemoryLimit    `json:"memory,omitempty"`
	Timeout   int             `json:"timeout,omitempty"` // milliseconds; 0 = Sandbox.Timeout
}

// HTTPCapability allows network access to specific hosts.
type HTTPCapability struct {
	AllowedHosts []string `json:"allowed_hosts"`
}

// MemoryLimit caps WASM linear memory.
type MemoryLimit struct {
	MaxPages uint32 `json:"max_pages"` // 1 page = 64 KiB
}

// Sandbox is the host side of the capability grant: where the documents
// live and how long a call may run when the manifest does not say.
type Sandbox struct {
	DocRoot string // local document root; empty when documents are not on disk
	Timeout time.Duration
}

// BuildExtismManifest turns a plugin manifest into an extism manifest under
// sb. The documents capability mounts only the document root, read-only
// unless write access is requested.
func BuildExtismManifest(m *PluginManifest, sb Sandbox) extism.Manifest {
	em := extism.Manifest{
		Wasm:   []extism.Wasm{extism.WasmFile{Path: m.WasmPath}},
		Config: m.Config,
	}

	caps := m.Capabilities
	if caps.HTTP != nil && len(caps.HTTP.AllowedHosts) > 0 {
		em.AllowedHosts = caps.HTTP.AllowedHosts
	}

	switch caps.Documents {
	case "":
	case DocsRead, DocsWrite:
		if sb.DocRoot == "" {
			slog.Warn("plugin documents capability ignored: no local document root", "plugin", m.Name)
			break
		}
		host := sb.DocRoot
		if caps.Documents == DocsRead {
			host = "ro:" + host
		}
		em.AllowedPaths = map[string]string{host: GuestDocRoot}
	default:
		slog.Warn("unknown documents capability", "plugin", m.Name, "value", caps.Documents)
	}

	if caps.Memory != nil && caps.Memory.MaxPages > 0 {
		em.Memory = &extism.ManifestMemory{MaxPages: caps.Memory.MaxPages}
	}

	switch {
	case caps.Timeout > 0:
		em.Timeout = uint64(caps.Timeout)
	case sb.Timeout > 0:
		em.Timeout = uint64(sb.Timeout.Milliseconds())
	}
	return em
}
