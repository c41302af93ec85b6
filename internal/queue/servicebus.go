package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// Credential selects how the Service Bus client authenticates. Exactly one
// mode applies: a static connection string, or the environment's Azure
// identity against a fully qualified namespace. The variant is resolved once
// at construction, never re-branched per call.
type Credential struct {
	ConnectionString string
	Namespace        string
}

// ServiceBusClient implements Client on top of Azure Service Bus.
type ServiceBusClient struct {
	client *azservicebus.Client

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewServiceBusClient builds a Service Bus client from the credential variant.
func NewServiceBusClient(cred Credential) (*ServiceBusClient, error) {
	var (
		client *azservicebus.Client
		err    error
	)
	switch {
	case cred.ConnectionString != "":
		client, err = azservicebus.NewClientFromConnectionString(cred.ConnectionString, nil)
	case cred.Namespace != "":
		var identity *azidentity.DefaultAzureCredential
		identity, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve azure identity: %w", err)
		}
		client, err = azservicebus.NewClient(cred.Namespace, identity, nil)
	default:
		return nil, errors.New("service bus credential requires a connection string or a namespace")
	}
	if err != nil {
		return nil, fmt.Errorf("create service bus client: %w", err)
	}
	return &ServiceBusClient{client: client, senders: make(map[string]*azservicebus.Sender)}, nil
}

func (c *ServiceBusClient) Receiver(queueName string) (Receiver, error) {
	receiver, err := c.client.NewReceiverForQueue(queueName, nil)
	if err != nil {
		return nil, fmt.Errorf("create receiver for %s: %w", queueName, err)
	}
	return &serviceBusReceiver{receiver: receiver}, nil
}

func (c *ServiceBusClient) Send(ctx context.Context, queueName string, body []byte) error {
	sender, err := c.sender(queueName)
	if err != nil {
		return err
	}
	if err := sender.SendMessage(ctx, &azservicebus.Message{Body: body}, nil); err != nil {
		return fmt.Errorf("send to %s: %w", queueName, err)
	}
	return nil
}

func (c *ServiceBusClient) sender(queueName string) (*azservicebus.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sender, ok := c.senders[queueName]; ok {
		return sender, nil
	}
	sender, err := c.client.NewSender(queueName, nil)
	if err != nil {
		return nil, fmt.Errorf("create sender for %s: %w", queueName, err)
	}
	c.senders[queueName] = sender
	return sender, nil
}

func (c *ServiceBusClient) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

type serviceBusReceiver struct {
	receiver *azservicebus.Receiver
}

// Receive asks for a single message so no prefetched work can be lost if the
// process dies mid-job.
func (r *serviceBusReceiver) Receive(ctx context.Context, maxWait time.Duration) (*Message, error) {
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	messages, err := r.receiver.ReceiveMessages(waitCtx, 1, nil)
	if err != nil {
		// An elapsed poll window is an empty poll, not a failure.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &Message{Body: messages[0].Body, receipt: messages[0]}, nil
}

func (r *serviceBusReceiver) Complete(ctx context.Context, msg *Message) error {
	received, err := r.receipt(msg)
	if err != nil {
		return err
	}
	return r.receiver.CompleteMessage(ctx, received, nil)
}

func (r *serviceBusReceiver) Abandon(ctx context.Context, msg *Message) error {
	received, err := r.receipt(msg)
	if err != nil {
		return err
	}
	return r.receiver.AbandonMessage(ctx, received, nil)
}

func (r *serviceBusReceiver) receipt(msg *Message) (*azservicebus.ReceivedMessage, error) {
	received, ok := msg.receipt.(*azservicebus.ReceivedMessage)
	if !ok {
		return nil, errors.New("message was not received by this client")
	}
	return received, nil
}

func (r *serviceBusReceiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}
