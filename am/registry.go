package am

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/tamerr"
)

// Handle identifies a registered Engine. It holds no per-relation state,
// and is immutable for the lifetime of its registration.
type Handle struct {
	Name   string
	Engine Engine
	// Capabilities of the Engine, fixed at registration.
	Capabilities Capabilities
}

var (
	registry   = make(map[string]*Handle)
	registryMu sync.RWMutex
)

// Register the Engine under |name|, as done when its extension loads.
// Registration is idempotent: registering the same Engine again returns
// its existing Handle. Registering a different Engine under a taken name
// is a ValidationError. Engines are compared with ==, and must be comparable.
func Register(name string, engine Engine) (*Handle, error) {
	if name == "" {
		return nil, tamerr.NewValidationError("", "access method name is empty")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if h, ok := registry[name]; ok {
		if h.Engine == engine {
			return h, nil
		}
		return nil, tamerr.NewValidationError("",
			"access method %q is already registered by a different engine", name)
	}

	var h = &Handle{Name: name, Engine: engine, Capabilities: engine.Capabilities()}
	registry[name] = h
	registeredEngines.Set(float64(len(registry)))

	log.WithFields(log.Fields{
		"name":         name,
		"capabilities": h.Capabilities.String(),
	}).Info("registered access method")

	return h, nil
}

// Unregister the Engine of |name|, as done when its extension unloads.
// It returns whether |name| was registered.
func Unregister(name string) bool {
	registryMu.Lock()
	defer registryMu.Unlock()

	var _, ok = registry[name]
	delete(registry, name)
	registeredEngines.Set(float64(len(registry)))

	return ok
}

// Lookup returns the Handle registered under |name|.
func Lookup(name string) (*Handle, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var h, ok = registry[name]
	return h, ok
}

// Handles returns all registered Handles, ordered on name.
func Handles() []*Handle {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var out = make([]*Handle, 0, len(registry))
	for _, h := range registry {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var registeredEngines = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "lakehouse_am_registered_engines",
	Help: "Number of registered access method engines",
})
