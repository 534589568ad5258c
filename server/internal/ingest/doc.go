// Package ingest feeds transport messages into the reading pipeline.
//
// Receiver.Handle parses one (topic, payload) message and dispatches the
// resulting readings synchronously on the caller's goroutine. A malformed
// message is logged, counted and reported as a *parser.ParseError; it never
// stops the transport.
//
// KafkaSource and NATSSource are the long-running transports. KafkaSource
// runs a fixed number of consumer-group readers in parallel; NATSSource
// subscribes through the bus package. The HTTP transport lives in package
// api and calls Receiver.Handle directly.
package ingest
