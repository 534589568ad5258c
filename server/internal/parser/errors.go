package parser

import "fmt"

// ParseError reports an inbound message that could not be decoded.
type ParseError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %q: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %q: %s", e.Topic, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(topic, reason string, err error) *ParseError {
	return &ParseError{Topic: topic, Reason: reason, Err: err}
}
