// Package notify pushes alert and reading notifications to subscribers.
//
// A Dispatcher consults its Policy, then makes one bounded push attempt
// through a Pusher. Pushers include the WebSocket hub, the NATS publisher and
// the webhook targets in this package. Push failures are logged and counted
// but never roll back persisted state.
package notify
