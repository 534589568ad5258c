// Package scraper polls sensor gateways and turns each response into a Batch
// ready to forward to relicwatch-server.
//
// Two gateway formats are supported. json gateways already serve the server's
// wire format and are passed through after a shape check. prometheus gateways
// expose sensor values as gauges labelled with sensor_id (plus optional
// sensor_type, unit, location_id and relics_id); those samples are converted
// to wire readings.
//
// A poll that yields no readings returns a nil Batch and a nil error.
package scraper
