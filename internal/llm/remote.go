package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// CompletionServiceName is the gRPC service a remote completion backend exposes.
const CompletionServiceName = "gatekeeper.completion.v1.CompletionService"

const generateMethod = "/" + CompletionServiceName + "/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// CompletionServer is implemented by gRPC servers that answer Generate.
// Requests carry {"model", "max_tokens", "messages": [{"role","content"}]};
// responses carry {"content"}.
type CompletionServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// CompletionServiceDesc registers a CompletionServer on a grpc.Server.
var CompletionServiceDesc = grpc.ServiceDesc{
	ServiceName: CompletionServiceName,
	HandlerType: (*CompletionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Generate",
			Handler:    generateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gatekeeper/completion.proto",
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompletionServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompletionServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RemoteConfig holds configuration for the gRPC completion client.
type RemoteConfig struct {
	Address          string
	Model            string
	MaxTokens        int
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultRemoteConfig returns default configuration.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Remote forwards generation to a completion service over gRPC.
type Remote struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	cfg     RemoteConfig
	logger  *slog.Logger
	timeout time.Duration
}

// NewRemote dials the completion service and waits until it is reachable.
// Extra dial options are appended after the defaults.
func NewRemote(ctx context.Context, cfg RemoteConfig, logger *slog.Logger, opts ...grpc.DialOption) (*Remote, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultRemoteConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first player turn.
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("completion service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to completion service", "address", cfg.Address)

	return &Remote{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		cfg:     cfg,
		logger:  logger,
		timeout: cfg.RequestTimeout,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name returns the provider name.
func (r *Remote) Name() string { return ProviderRemote }

// Close closes the gRPC connection.
func (r *Remote) Close() error {
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("close completion connection: %w", err)
	}
	return nil
}

// Health asks the remote side for its serving status. A server without the
// health service is treated as serving.
func (r *Remote) Health(ctx context.Context) (bool, error) {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{Service: CompletionServiceName})
	if status.Code(err) == codes.Unimplemented {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Generate calls the remote Generate method.
func (r *Remote) Generate(ctx context.Context, messages []Message) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := encodeRequest(r.cfg.Model, r.cfg.MaxTokens, messages)
	if err != nil {
		return "", err
	}

	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, generateMethod, req, resp); err != nil {
		return "", fmt.Errorf("remote generate: %w", err)
	}

	content := strings.TrimSpace(resp.GetFields()["content"].GetStringValue())
	if content == "" {
		return "", fmt.Errorf("remote: %w", ErrEmptyCompletion)
	}
	return content, nil
}

func encodeRequest(model string, maxTokens int, messages []Message) (*structpb.Struct, error) {
	list := make([]any, 0, len(messages))
	for _, m := range messages {
		list = append(list, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	req, err := structpb.NewStruct(map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   list,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	return req, nil
}

// DecodeRequest extracts the conversation from a Generate request. Servers
// implementing CompletionServer use it to read the payload.
func DecodeRequest(req *structpb.Struct) []Message {
	values := req.GetFields()["messages"].GetListValue().GetValues()
	out := make([]Message, 0, len(values))
	for _, v := range values {
		fields := v.GetStructValue().GetFields()
		out = append(out, Message{
			Role:    Role(fields["role"].GetStringValue()),
			Content: fields["content"].GetStringValue(),
		})
	}
	return out
}

// EncodeResponse builds a Generate response carrying content.
func EncodeResponse(content string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"content": structpb.NewStringValue(content),
	}}
}
