package stream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client subscribes to a Publisher.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for target. The connection is established
// lazily by the first Subscribe.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Subscription is an open frame stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a stream of frames from sensorType, or from all sensors
// if sensorType is empty. Cancel ctx to end the subscription.
func (c *Client) Subscribe(ctx context.Context, sensorType string) (*Subscription, error) {
	stream, err := c.conn.NewStream(ctx, &frameStreamDesc.Streams[0], streamFramesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if err := stream.SendMsg(wrapperspb.String(sensorType)); err != nil {
		return nil, fmt.Errorf("failed to send subscription: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send side: %w", err)
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next frame. It returns io.EOF when the publisher ends
// the stream cleanly.
func (s *Subscription) Recv() (*FrameMessage, error) {
	msg := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return DecodeFrame(msg.GetValue())
}
