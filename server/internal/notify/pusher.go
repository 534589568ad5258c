package notify

import (
	"context"
	"errors"
)

// Pusher delivers a notification to one outward channel.
type Pusher interface {
	Push(ctx context.Context, topic string, n Notification) error
}

// PusherFunc adapts a function to Pusher.
type PusherFunc func(ctx context.Context, topic string, n Notification) error

func (f PusherFunc) Push(ctx context.Context, topic string, n Notification) error {
	return f(ctx, topic, n)
}

type multiPusher []Pusher

// Pushers fans a push out to every p in order. It attempts all of them and
// joins their errors.
func Pushers(ps ...Pusher) Pusher {
	out := make(multiPusher, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multiPusher) Push(ctx context.Context, topic string, n Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Push(ctx, topic, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
