// Package dispatch fans parsed readings out to an ordered set of observers.
//
// The observer set is copy-on-write: Register and Unregister publish a fresh
// slice, and a dispatch in flight keeps iterating the slice it loaded. An
// observer that errors or panics is logged and counted, and delivery to the
// rest of the batch and to the other observers continues.
package dispatch
