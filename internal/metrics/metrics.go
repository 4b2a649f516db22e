// Package metrics provides Prometheus metrics for the stackform server.
//
// Collectors are package-level so instrumented code can use them without
// plumbing; they reach the /metrics endpoint only once Init registers them
// on Registry.
package metrics

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "stackform"

var (
	// Registry is the registry served on /metrics.
	Registry = prometheus.NewRegistry()

	initOnce sync.Once
	initErr  error
)

// Init registers the runtime collectors and every stackform metric on
// Registry. Later calls return the first call's result.
func Init() error {
	initOnce.Do(func() {
		initErr = register(Registry,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if initErr == nil {
			initErr = register(Registry, all()...)
		}
	})
	return initErr
}

// MustInit is Init for server startup, where metrics are required.
func MustInit() {
	if err := Init(); err != nil {
		panic("failed to initialize metrics: " + err.Error())
	}
}

// RegisterDB exports connection pool statistics for db.
// Registering the same pool twice is not an error.
func RegisterDB(db *sql.DB) error {
	err := Registry.Register(collectors.NewDBStatsCollector(db, namespace))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

func all() []prometheus.Collector {
	var cs []prometheus.Collector
	cs = append(cs, httpCollectors()...)
	cs = append(cs, engineCollectors()...)
	return cs
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}
