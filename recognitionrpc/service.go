package recognitionrpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "recognitionrpc.RecognitionService"

// Server is implemented by the recognitiond process.
type Server interface {
	Recognize(context.Context, *RecognizeRequest) (*RecognizeReply, error)
	ReloadIndex(context.Context, *ReloadIndexRequest) (*ReloadIndexReply, error)
	Health(context.Context, *Empty) (*HealthStatus, error)
}

// RegisterServer wires srv into a *grpc.Server under the
// RecognitionService name, mirroring what protoc-gen-go-grpc emits for
// a unary-only service.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Recognize",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(RecognizeRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).Recognize(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Recognize"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(Server).Recognize(ctx, req.(*RecognizeRequest))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
		{
			MethodName: "ReloadIndex",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(ReloadIndexRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).ReloadIndex(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ReloadIndex"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(Server).ReloadIndex(ctx, req.(*ReloadIndexRequest))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
		{
			MethodName: "Health",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(Empty)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).Health(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Health"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(Server).Health(ctx, req.(*Empty))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "recognitionrpc.proto",
}

// Client is a thin wrapper over a *grpc.ClientConn dialed with the json
// codec, giving camera workers a typed call surface.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Recognize(ctx context.Context, req *RecognizeRequest) (*RecognizeReply, error) {
	out := new(RecognizeReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Recognize", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReloadIndex(ctx context.Context, req *ReloadIndexRequest) (*ReloadIndexReply, error) {
	out := new(ReloadIndexReply)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/ReloadIndex", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context, req *Empty) (*HealthStatus, error) {
	out := new(HealthStatus)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Health", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DialOption returns the grpc.DialOption that selects the json codec
// registered in codec.go; callers must pass this to grpc.Dial.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName))
}

// ServerOption returns the matching grpc.ServerOption for recognitiond.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}
