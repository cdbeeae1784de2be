package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"perceptlog/internal/logging"
	"perceptlog/internal/ocsf"
	"perceptlog/internal/telemetry"
	"perceptlog/internal/transform"
)

type Server struct {
	grpc   *grpc.Server
	lis    net.Listener
	health *health.Server
}

// StartServer listens on addr. Serve must be called to accept requests.
func StartServer(addr string, eng *transform.Engine) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(lis, eng), nil
}

// NewServer serves eng on an existing listener.
func NewServer(lis net.Listener, eng *transform.Engine) *Server {
	s := &Server{
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(observe)),
		lis:    lis,
		health: health.NewServer(),
	}
	RegisterTransformerServer(s.grpc, &transformer{eng: eng})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Serve() error {
	logging.L().Info("transform service listening", "addr", s.lis.Addr().String())
	return s.grpc.Serve(s.lis)
}

// Stop marks the service as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	telemetry.RPCs.WithLabelValues(info.FullMethod, code.String()).Inc()
	logging.L().Debug("rpc", "method", info.FullMethod, "code", code.String(), "elapsed", time.Since(start))
	return resp, err
}

/* ───────────────────────────── Transformer ────────────────────────────── */

type transformer struct {
	eng *transform.Engine
}

func (t *transformer) Transform(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	ev, err := t.eng.TransformLine(ctx, in.GetValue())
	if err != nil {
		return nil, statusFor(err)
	}
	m, err := eventMap(ev)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (t *transformer) Validate(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if err := transform.Validate("request", in.GetValue()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bool(true), nil
}

func eventMap(ev *ocsf.Event) (map[string]any, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func statusFor(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	switch transform.KindOf(err) {
	case transform.KindExecution, transform.KindSchema:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
