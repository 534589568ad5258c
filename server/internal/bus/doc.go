// Package bus connects relicwatch to NATS. Publisher pushes notifications
// out as JSON envelopes; Subscriber delivers raw inbound reading messages to
// the ingest pipeline.
//
// Topics use "/" separators and NATS subjects use "."; TopicToSubject and
// SubjectToTopic convert between them.
package bus
