// Package queue abstracts the message broker behind the dispatcher: receive
// one message at a time, settle it (complete or abandon), and send summary
// payloads. Message bodies are opaque bytes; the dispatcher owns the codec.
package queue

import (
	"context"
	"time"
)

// Message is one received message together with its settlement handle.
type Message struct {
	Body []byte

	// receipt is the broker-specific handle required to settle the message.
	receipt interface{}
}

// Receiver consumes messages from a single queue.
type Receiver interface {
	// Receive blocks up to maxWait for at most one message. Returning
	// (nil, nil) means the wait elapsed with nothing to process.
	Receive(ctx context.Context, maxWait time.Duration) (*Message, error)

	// Complete removes the message from the queue.
	Complete(ctx context.Context, msg *Message) error

	// Abandon returns the message to the queue for redelivery.
	Abandon(ctx context.Context, msg *Message) error

	Close(ctx context.Context) error
}

// Client owns the broker connection. It is constructed once, passed into the
// dispatcher explicitly and closed by its owner.
type Client interface {
	Receiver(queueName string) (Receiver, error)
	Send(ctx context.Context, queueName string, body []byte) error
	Close(ctx context.Context) error
}
