// Package api implements the HTTP server for edgewatch.
//
// This package provides:
//   - The device websocket endpoint, handed to the session gateway
//   - The observer websocket endpoint streaming a user's notifications
//   - Read-only serving of locally stored detection media
//   - Health, JSON runtime metrics and the prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// Devices connect to {device_path}/{api_key}. The gateway authenticates the
// key, and the connection lives as a session until either side closes it.
// Observers connect to {observer_path}?token=<jwt>; the hub subscribes each
// one to its user's bus topic and forwards every notification published
// there.
package api
