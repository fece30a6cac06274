// Package grpc serves the management API over gRPC with a JSON codec. It is
// the alternative to the httpjson transport for the same status and
// configure calls.
package grpc

import (
    "context"
    "crypto/tls"
    "log"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-raftstore/pkg/internal/logutil"
    "github.com/amirimatin/go-raftstore/pkg/observability/tracing"
    "github.com/amirimatin/go-raftstore/pkg/transport"
)

const (
    serviceName     = "raftstore.v1.Management"
    methodGetStatus = "/" + serviceName + "/GetStatus"
    methodConfigure = "/" + serviceName + "/Configure"
)

// Server implements transport.RPCServer over gRPC.
type Server struct {
    bind   string
    logger *log.Logger
    tlsCfg *tls.Config

    mu   sync.Mutex
    srv  *grpc.Server
    lis  net.Listener
    addr string
}

// NewServer binds to the given TCP address once started.
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logutil.Component(logger, "grpc")}
}

// UseTLS enables TLS for the server. Call before Start.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type empty struct{}

type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*transport.Status, error)
    Configure(ctx context.Context, in *transport.ConfigureRequest) (*transport.ConfigureResponse, error)
}

type mgmtImpl struct {
    status    transport.StatusFunc
    configure transport.ConfigureFunc
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*transport.Status, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    st, err := m.status(ctx)
    if err != nil { return nil, err }
    return &st, nil
}

// Configure reports failures inside the response so the leader hint reaches
// the caller.
func (m *mgmtImpl) Configure(ctx context.Context, in *transport.ConfigureRequest) (*transport.ConfigureResponse, error) {
    if in == nil { in = &transport.ConfigureRequest{} }
    if m.configure == nil { return &transport.ConfigureResponse{Error: "configure not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.configure")
    defer end()
    out, err := m.configure(ctx, *in)
    if err != nil {
        out.Accepted = false
        if out.Error == "" { out.Error = err.Error() }
    }
    return &out, nil
}

// hand-written service descriptor, no codegen required
var managementServiceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: getStatusHandler},
        {MethodName: "Configure", Handler: configureHandler},
    },
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func configureHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.ConfigureRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).Configure(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodConfigure}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).Configure(ctx, req.(*transport.ConfigureRequest))
    }
    return interceptor(ctx, in, info, handler)
}

// Start listens and serves until ctx is canceled or Stop is called.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, configure transport.ConfigureFunc) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    healthpb.RegisterHealthServer(srv, health.NewServer())
    srv.RegisterService(&managementServiceDesc, &mgmtImpl{status: status, configure: configure})

    s.mu.Lock()
    s.srv, s.lis, s.addr = srv, lis, lis.Addr().String()
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
            logutil.Errorf(s.logger, "server error: %v", err)
        }
    }()
    logutil.Infof(s.logger, "management gRPC listening at %s (status/configure/health)", s.addr)
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop drains in-flight calls, forcing the stop when ctx ends or after two
// seconds.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    done := make(chan struct{})
    go func() { srv.GracefulStop(); close(done) }()
    select {
    case <-done:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
