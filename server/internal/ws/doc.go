// Package ws implements the WebSocket hub for relicwatch-server.
//
// Hub is a notify.Pusher: every alert or reading notification pushed to it is
// forwarded to the connected clients subscribed to its topic. On connect, and
// then on a configurable interval, each client also receives a snapshot of
// the currently active alerts.
//
// Clients choose topics with one or more ?topic= query parameters
// (comma-separated values are accepted). No topic means every topic.
//
// Messages sent to clients:
//
//	{"event": "snapshot",     "data": {"generated_at": "...", "active_alerts": [...]}}
//	{"event": "notification", "data": {"kind": "alert", "topic": "alerts", "sent_at": "...", "data": {...}}}
//
// A client whose outgoing buffer is full is disconnected rather than slowing
// down the push. The upgrader accepts all origins; apply CORS restrictions at
// the reverse proxy. The endpoint is mounted at /ws/stream by the server.
package ws
