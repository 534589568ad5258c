// Package threshold holds the per-sensor-type operating ranges and derives a
// reading's status from them.
//
// Rules are immutable once registered: Register refuses to replace an
// existing sensor type, so a given (sensorType, value) pair always evaluates
// to the same status for the lifetime of the process. New sensor types may be
// registered at any time, from the REST API or a config hot-reload.
//
// Evaluation by type:
//
//	gas   WARNING if value > max (lower bound ignored)
//	temp  WARNING if value > max or value < min
//	hum   WARNING if value > max or value < min
//	other WARNING if value is outside [min, max]
//
// Unregistered types evaluate to UNSET; that is not an error.
package threshold
