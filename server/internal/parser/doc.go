// Package parser turns raw (topic, payload) transport messages into
// readings.
//
// A Pipeline is a Decoder followed by an ordered list of Stages. The decoder
// produces readings with status UNSET; each stage receives the previous
// stage's output. ValidationStage is the standard stage: it stamps every
// reading with the status derived from the threshold registry and touches no
// other field.
//
// A message that does not match the wire shape fails as a whole with a
// *ParseError; no partial result is ever returned.
package parser
