package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"perceptlog/internal/script"
	"perceptlog/internal/telemetry"
	"perceptlog/internal/transform"
)

const sshdScript = "../../examples/scripts/sshd_auth.star"

func startBuf(t *testing.T) *Client {
	t.Helper()
	eng, err := transform.LoadEngine(sshdScript, script.Options{}, transform.Options{Workers: 2})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(lis, eng)
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTransform_RoundTrip(t *testing.T) {
	c := startBuf(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := c.Transform(ctx, "Accepted password for alice from 10.0.0.1 port 22 ssh2")
	require.NoError(t, err)
	require.NotNil(t, ev.User)
	assert.Equal(t, "alice", ev.User.Name)
	assert.Equal(t, int32(3002), ev.ClassUID)

	raw, err := c.TransformRaw(ctx, "Failed password for bob from 10.0.0.2 port 22 ssh2")
	require.NoError(t, err)
	assert.Equal(t, "Authentication", raw["class_name"])
}

func TestTransform_ScriptFailureIsInvalidArgument(t *testing.T) {
	c := startBuf(t)
	before := testutil.ToFloat64(telemetry.RPCs.WithLabelValues(TransformMethod, codes.InvalidArgument.String()))

	_, err := c.Transform(context.Background(), "kernel: nothing to see")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	after := testutil.ToFloat64(telemetry.RPCs.WithLabelValues(TransformMethod, codes.InvalidArgument.String()))
	assert.Equal(t, 1.0, after-before)
}

func TestValidate(t *testing.T) {
	c := startBuf(t)
	ctx := context.Background()

	assert.NoError(t, c.Validate(ctx, "def transform(event):\n    return event\n"))

	err := c.Validate(ctx, "def transform(event):\n    return (\n")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = c.Validate(ctx, "x = 1\n")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthy(t *testing.T) {
	c := startBuf(t)
	ok, err := c.Healthy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, codes.Canceled, status.Code(statusFor(context.Canceled)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(statusFor(context.DeadlineExceeded)))
	assert.Equal(t, codes.InvalidArgument, status.Code(statusFor(&transform.Error{Kind: transform.KindSchema, Err: errors.New("x")})))
	assert.Equal(t, codes.Internal, status.Code(statusFor(&transform.Error{Kind: transform.KindIO, Err: errors.New("disk")})))
}
