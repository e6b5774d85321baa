// Package metrics exposes navilinkd state to Prometheus.
//
// A Metrics value is passed to the coordinator as its navilink.Observer and
// receives link, poll, message and command events; the state sync worker
// feeds it device snapshots. Handler serves the private registry on the
// configured metrics path.
package metrics
