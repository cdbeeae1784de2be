package transport

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"perceptlog/internal/ocsf"
)

type Client struct {
	cc *grpc.ClientConn
}

// Dial connects lazily; the first call establishes the connection.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc}, nil
}

// TransformRaw returns the record exactly as the server built it.
func (c *Client) TransformRaw(ctx context.Context, line string) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransformMethod, wrapperspb.String(line), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Transform(ctx context.Context, line string) (*ocsf.Event, error) {
	m, err := c.TransformRaw(ctx, line)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var ev ocsf.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate returns nil when source compiles on the server.
func (c *Client) Validate(ctx context.Context, source string) error {
	return c.cc.Invoke(ctx, ValidateMethod, wrapperspb.String(source), new(wrapperspb.BoolValue))
}

func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.cc).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) Close() error { return c.cc.Close() }
