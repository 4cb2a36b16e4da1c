package stores

import (
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// registry maps URL schemes to Constructors, and store URLs to the
// ActiveStores built from them. Tablespaces sharing a store URL share
// its ActiveStore.
type registry struct {
	mu     sync.RWMutex
	ctors  map[string]Constructor
	active map[string]*ActiveStore
}

var defaultRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{
		ctors:  make(map[string]Constructor),
		active: make(map[string]*ActiveStore),
	}
}

// RegisterProviders adds or replaces the Constructors of URL schemes.
func RegisterProviders(providers map[string]Constructor) {
	var r = defaultRegistry
	r.mu.Lock()
	defer r.mu.Unlock()

	for scheme, ctor := range providers {
		r.ctors[scheme] = ctor
	}
}

// GetProviders returns a copy of registered Constructors, as used by tests
// to restore them.
func GetProviders() map[string]Constructor {
	var r = defaultRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out = make(map[string]Constructor, len(r.ctors))
	for scheme, ctor := range r.ctors {
		out[scheme] = ctor
	}
	return out
}

// Get returns the ActiveStore of |storeURL|, building it on first use.
// Construction errors aren't cached.
func Get(storeURL string) (*ActiveStore, error) {
	var r = defaultRegistry

	r.mu.RLock()
	var s, ok = r.active[storeURL]
	r.mu.RUnlock()

	if ok {
		return s, nil
	}
	return r.build(storeURL)
}

func (r *registry) build(storeURL string) (*ActiveStore, error) {
	var ep, err = url.Parse(storeURL)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing store URL")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.active[storeURL]; ok {
		return s, nil // Raced with another builder.
	}
	var ctor, ok = r.ctors[ep.Scheme]
	if !ok {
		return nil, errors.Errorf("unsupported store scheme: %q", ep.Scheme)
	}
	store, err := ctor(ep)
	if err != nil {
		return nil, err
	}

	var s = NewActiveStore(ep, store)
	r.active[storeURL] = s
	activeStores.Set(float64(len(r.active)))

	return s, nil
}

// Evict the ActiveStore of |storeURL|, returning whether it was built.
// Dropped tablespaces evict their store.
func Evict(storeURL string) bool {
	var r = defaultRegistry
	r.mu.Lock()
	defer r.mu.Unlock()

	var _, ok = r.active[storeURL]
	delete(r.active, storeURL)
	activeStores.Set(float64(len(r.active)))

	return ok
}

var (
	activeStores = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lakehouse_store_active",
		Help: "Number of built resource stores",
	})
	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lakehouse_store_operation_duration_seconds",
		Help:    "Duration of resource store operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"store", "operation", "status"})
	storeOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_store_operation_total",
		Help: "Count of resource store operations",
	}, []string{"store", "operation", "status"})
	storePutBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_store_put_bytes_total",
		Help: "Bytes written to resource stores",
	}, []string{"store", "encoding"})
)
