package oracle

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// Messages travel as google.protobuf.Struct so no generated stubs are needed.
const (
	serviceName  = "ayni.judgment.v1.JudgmentOracle"
	submitMethod = "/" + serviceName + "/Submit"
)

// #region client
// GRPC is a judgment oracle reached over gRPC.
type GRPC struct {
	conn  grpc.ClientConnInterface
	close func() error
}

// NewGRPC connects to a remote judgment service.
func NewGRPC(addr string) (*GRPC, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPC{conn: conn, close: conn.Close}, nil
}

// NewGRPCWithConn creates a GRPC oracle over an existing connection.
func NewGRPCWithConn(conn grpc.ClientConnInterface) *GRPC {
	return &GRPC{conn: conn}
}

// Close shuts down the connection if this oracle owns it.
func (g *GRPC) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

// Submit sends one judgment request.
func (g *GRPC) Submit(ctx context.Context, req judgment.Request) (judgment.Response, error) {
	in, err := structpb.NewStruct(map[string]any{
		"layer_content": req.LayerContent,
		"layer_role":    string(req.LayerRole),
		"context":       req.Context,
		"template":      string(req.Template),
		"framing":       req.Framing,
	})
	if err != nil {
		return judgment.Response{}, fmt.Errorf("%w: encode request: %w", judgment.ErrOracleTransport, err)
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, submitMethod, in, out); err != nil {
		return judgment.Response{}, fromStatus(err)
	}
	return decodeResponse(out)
}

// #endregion client

// #region server
// JudgmentServer is the server side of the judgment service.
type JudgmentServer interface {
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterOracle exposes o on s under the judgment service name.
func RegisterOracle(s grpc.ServiceRegistrar, o judgment.Oracle) {
	s.RegisterService(&serviceDesc, &oracleServer{oracle: o})
}

type oracleServer struct {
	oracle judgment.Oracle
}

func (s *oracleServer) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	req := judgment.Request{
		LayerContent: f["layer_content"].GetStringValue(),
		LayerRole:    judgment.Role(f["layer_role"].GetStringValue()),
		Context:      f["context"].GetStringValue(),
		Template:     judgment.TemplateID(f["template"].GetStringValue()),
		Framing:      f["framing"].GetStringValue(),
	}
	resp, err := s.oracle.Submit(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"truth":         resp.Truth,
		"indeterminacy": resp.Indeterminacy,
		"falsehood":     resp.Falsehood,
		"reasoning":     resp.Reasoning,
		"exchange_type": resp.ExchangeType,
	})
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "encode judgment: %v", err)
	}
	return out, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*JudgmentServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Submit",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return srv.(JudgmentServer).Submit(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return srv.(JudgmentServer).Submit(ctx, req.(*structpb.Struct))
			})
		},
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ayni/judgment/v1/oracle.proto",
}

// #endregion server

// #region codec
func decodeResponse(out *structpb.Struct) (judgment.Response, error) {
	f := out.GetFields()
	num := func(name string) (float64, error) {
		v, ok := f[name]
		if !ok {
			return 0, fmt.Errorf("%w: response missing %s", judgment.ErrOracleMalformed, name)
		}
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return 0, fmt.Errorf("%w: %s is not a number", judgment.ErrOracleMalformed, name)
		}
		return v.GetNumberValue(), nil
	}

	var resp judgment.Response
	var err error
	if resp.Truth, err = num("truth"); err != nil {
		return judgment.Response{}, err
	}
	if resp.Indeterminacy, err = num("indeterminacy"); err != nil {
		return judgment.Response{}, err
	}
	if resp.Falsehood, err = num("falsehood"); err != nil {
		return judgment.Response{}, err
	}
	resp.Reasoning = f["reasoning"].GetStringValue()
	resp.ExchangeType = f["exchange_type"].GetStringValue()
	return resp, nil
}

// fromStatus maps a gRPC error onto the oracle failure kinds.
func fromStatus(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: submit rpc: %w", judgment.ErrOracleTimeout, err)
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: submit rpc: %w", judgment.ErrOracleTimeout, err)
	case codes.DataLoss, codes.InvalidArgument:
		return fmt.Errorf("%w: submit rpc: %w", judgment.ErrOracleMalformed, err)
	}
	return fmt.Errorf("%w: submit rpc: %w", judgment.ErrOracleTransport, err)
}

// toStatus is the inverse of fromStatus for the server side.
func toStatus(err error) error {
	switch {
	case errors.Is(err, judgment.ErrOracleTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, judgment.ErrOracleMalformed):
		return status.Error(codes.DataLoss, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

// #endregion codec
