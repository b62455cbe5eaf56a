// Package server provides the HTTP server for the fleet dashboard and API.
//
// This package is internal and handles all HTTP concerns:
//
//   - Dashboard serving: Serves the embedded HTML/CSS/JS dashboard at "/"
//   - REST API: JSON endpoint at "/api/stats" for the current stats snapshot
//   - Server-Sent Events: Real-time updates at "/api/sse"
//   - WebSocket: The same update stream at "/api/ws"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// The server is started by [walletfleet.Fleet.Run] when a dashboard port is
// configured.
package server
