// Package api implements the HTTP REST API and WebSocket server for navilinkd.
//
// This package provides:
//   - REST endpoints for water heater snapshots, commands and polling opt-out
//   - State history reads backed by SQLite
//   - WebSocket hub for real-time device.state_changed broadcasts
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus exposition on /metrics
//
// # Architecture
//
// The server never touches the NaviLink session directly. It talks to a
// DeviceService (the coordinator behind an adapter in cmd/navilinkd) and a
// HistoryReader. State changes arrive through the statesync worker, which
// calls Hub.Broadcast.
//
// # Security
//
// A single operator account is configured under security.admin with an
// Argon2id password hash. POST /api/v1/auth/login issues an HS256 access
// token. WebSocket connections use single-use tickets so the token never
// appears in a URL.
package api
