// Package metrics exposes Prometheus collectors for the event layer.
//
// Collectors live on a private registry rather than the global default so
// tests can build independent instances. All Observe helpers accept a nil
// receiver, letting components run without metrics configured.
package metrics
