package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	api "github.com/nixpig/subprocd/api/v1"
	"github.com/nixpig/subprocd/internal/auth"
	"github.com/nixpig/subprocd/internal/subprocess"
	"github.com/nixpig/subprocd/internal/tlsconfig"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type loggerKey struct{}

type server struct {
	api.UnimplementedSubprocessServiceServer

	manager    *subprocess.Manager
	logger     *slog.Logger
	cfg        *config
	limiter    *rate.Limiter
	grpcServer *grpc.Server

	// NOTE: Completions are never removed, so a long-running daemon grows
	// without bound. Fine for now; a production system would expire settled
	// entries after a retention period.
	completions map[subprocess.Tag]*completion
	mu          sync.Mutex
}

// completion is the outcome of one Exec, settled exactly once by either the
// process exiting or CancelExec.
type completion struct {
	argv []string
	done chan struct{}
	once sync.Once

	returnCode int
	cancelled  bool
}

func newCompletion(argv []string) *completion {
	return &completion{argv: argv, done: make(chan struct{})}
}

func (c *completion) settle(returnCode int, cancelled bool) {
	c.once.Do(func() {
		c.returnCode = returnCode
		c.cancelled = cancelled
		close(c.done)
	})
}

func (c *completion) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func newServer(
	manager *subprocess.Manager,
	logger *slog.Logger,
	cfg *config,
) (*server, error) {
	s := &server{
		manager:     manager,
		logger:      logger,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		completions: make(map[subprocess.Tag]*completion),
	}

	if cfg.ExecRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ExecRate), cfg.ExecBurst)
	}

	tlsCreds, err := s.loadTLSCreds()
	if err != nil {
		return nil, fmt.Errorf("load TLS credentials: %w", err)
	}

	s.grpcServer = grpc.NewServer(
		grpc.Creds(tlsCreds),
		grpc.ChainUnaryInterceptor(
			s.requestLogUnaryInterceptor,
			contextCheckUnaryInterceptor,
			s.authUnaryInterceptor,
		),
	)

	api.RegisterSubprocessServiceServer(s.grpcServer, s)

	return s, nil
}

func (s *server) serve(listener net.Listener) error {
	return s.grpcServer.Serve(listener)
}

// shutdown stops accepting requests and waits up to timeout for in-flight
// requests, e.g. blocked Waits, before closing them.
func (s *server) shutdown(timeout time.Duration) {
	stopped := make(chan struct{})

	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		s.logger.Warn("graceful stop timed out, closing open requests")
		s.grpcServer.Stop()
		<-stopped
	}
}

func (s *server) Exec(
	ctx context.Context,
	req *structpb.Struct,
) (*wrapperspb.UInt32Value, error) {
	execReq, err := api.ParseExecRequest(req)
	if err != nil {
		return nil, s.mapError(ctx, "parse exec request", err)
	}

	if !s.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "exec rate exceeded")
	}

	c := newCompletion(execReq.Argv)

	// The callback settles c itself, so it may run before c is registered.
	tag, err := s.manager.ExecFlags(
		execReq.Argv,
		subprocess.SpawnFlags(execReq.Flags),
		func(returnCode int) {
			c.settle(returnCode, false)
		},
	)
	if err != nil {
		return nil, s.mapError(ctx, "exec", err)
	}

	s.mu.Lock()
	s.completions[tag] = c
	s.mu.Unlock()

	logFrom(ctx, s.logger).Info("exec", "tag", tag, "argv", execReq.Argv)

	return wrapperspb.UInt32(uint32(tag)), nil
}

func (s *server) Wait(
	ctx context.Context,
	req *wrapperspb.UInt32Value,
) (*wrapperspb.Int32Value, error) {
	c, err := s.completion(subprocess.Tag(req.GetValue()))
	if err != nil {
		return nil, s.mapError(ctx, "wait", err)
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	if c.cancelled {
		return nil, status.Error(codes.Aborted, "execution was cancelled")
	}

	return wrapperspb.Int32(int32(c.returnCode)), nil
}

func (s *server) CancelExec(
	ctx context.Context,
	req *wrapperspb.UInt32Value,
) (*emptypb.Empty, error) {
	tag := subprocess.Tag(req.GetValue())

	c, err := s.completion(tag)
	if err != nil {
		return nil, s.mapError(ctx, "cancel exec", err)
	}

	// A callback already claimed for dispatch settles c with the real return
	// code, so c is only settled as cancelled when one was detached.
	detached := s.manager.CancelExec(tag)
	if detached {
		c.settle(0, true)
	}

	logFrom(ctx, s.logger).Info("cancel exec", "tag", tag, "detached", detached)

	return &emptypb.Empty{}, nil
}

func (s *server) InFlight(
	ctx context.Context,
	req *emptypb.Empty,
) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.manager.SubprocessInFlight()), nil
}

func (s *server) Inspect(
	ctx context.Context,
	req *wrapperspb.UInt32Value,
) (*structpb.Struct, error) {
	tag := subprocess.Tag(req.GetValue())

	info, err := s.manager.Inspect(tag)
	if err == nil {
		return (&api.InspectResponse{
			Tag:   uint32(info.Tag),
			PID:   int64(info.PID),
			Argv:  info.Argv,
			State: info.State.String(),
			Armed: info.Armed,
		}).Struct(), nil
	}

	// The manager forgets an execution once it's dispatched, but its
	// completion is kept.
	c, cerr := s.completion(tag)
	if !errors.Is(err, subprocess.ErrTagNotFound) || cerr != nil || !c.settled() {
		return nil, s.mapError(ctx, "inspect", err)
	}

	return (&api.InspectResponse{
		Tag:   uint32(tag),
		Argv:  c.argv,
		State: subprocess.ExecStateDispatched.String(),
	}).Struct(), nil
}

func (s *server) SynchronousExec(
	ctx context.Context,
	req *structpb.Struct,
) (*structpb.Struct, error) {
	execReq, err := api.ParseExecRequest(req)
	if err != nil {
		return nil, s.mapError(ctx, "parse exec request", err)
	}

	if !s.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "exec rate exceeded")
	}

	returnCode, err := s.manager.SynchronousExecFlags(
		execReq.Argv,
		subprocess.SpawnFlags(execReq.Flags),
	)
	if err != nil {
		return nil, s.mapError(ctx, "synchronous exec", err)
	}

	logFrom(ctx, s.logger).Info(
		"synchronous exec",
		"argv", execReq.Argv,
		"status", subprocess.DescribeStatus(returnCode),
	)

	return (&api.SynchronousExecResponse{
		ReturnCode:  int64(returnCode),
		ExitCode:    int64(subprocess.ExitCodeFromStatus(returnCode)),
		Description: subprocess.DescribeStatus(returnCode),
	}).Struct(), nil
}

func (s *server) completion(tag subprocess.Tag) (*completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.completions[tag]
	if !exists {
		return nil, subprocess.ErrTagNotFound
	}

	return c, nil
}

// mapError translates subprocess and api errors to gRPC errors.
func (s *server) mapError(ctx context.Context, logMsg string, err error) error {
	logger := logFrom(ctx, s.logger)

	switch {
	case errors.Is(err, subprocess.ErrTagNotFound):
		logger.Warn(logMsg, "err", err)
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, subprocess.ErrEmptyCommand),
		errors.Is(err, subprocess.ErrInvalidFlags),
		errors.Is(err, api.ErrInvalidMessage):
		logger.Warn(logMsg, "err", err)
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.As(err, new(subprocess.SpawnError)):
		logger.Warn(logMsg, "err", err)
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		logger.Error(logMsg, "err", err)
		return status.Error(codes.Internal, "internal server error")
	}
}

// loadTLSCreds creates the gRPC transport credentials with mTLS enabled.
func (s *server) loadTLSCreds() (credentials.TransportCredentials, error) {
	tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
		CertPath:   s.cfg.CertPath,
		KeyPath:    s.cfg.KeyPath,
		CACertPath: s.cfg.CACertPath,
		Server:     true,
	})
	if err != nil {
		return nil, err
	}

	return credentials.NewTLS(tlsConfig), nil
}

func logFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}

	return fallback
}

// requestLogUnaryInterceptor tags each request with an id and logs its
// outcome.
func (s *server) requestLogUnaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	logger := s.logger.With(
		"request_id", uuid.NewString(),
		"method", info.FullMethod,
	)

	start := time.Now()

	resp, err := handler(context.WithValue(ctx, loggerKey{}, logger), req)

	logger.Debug(
		"handled request",
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)

	return resp, err
}

// contextCheckUnaryInterceptor rejects requests with a cancelled context.
func contextCheckUnaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if ctx.Err() != nil {
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	return handler(ctx, req)
}

// authUnaryInterceptor rejects requests from clients whose role doesn't
// permit the method.
func (s *server) authUnaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	logger := logFrom(ctx, s.logger)

	identity, err := auth.Authorise(ctx, info.FullMethod)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			logger.Warn("failed to get client identity", "err", err)
			return nil, status.Error(codes.Unauthenticated, "not authenticated")
		}

		logger.Warn(
			"failed to authorise client",
			"cn", identity.CommonName,
			"role", identity.Role,
			"err", err,
		)

		return nil, status.Error(codes.PermissionDenied, "not authorised")
	}

	logger = logger.With("cn", identity.CommonName, "role", identity.Role)
	logger.Debug("authorised client request")

	return handler(context.WithValue(ctx, loggerKey{}, logger), req)
}
