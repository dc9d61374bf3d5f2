package api

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/grpc"

	"feddfg"
)

// ExchangeService is the fully qualified grpc service name.
const ExchangeService = "feddfg.api.Exchange"

// ExchangeStream is one end of the bidirectional protocol stream.
type ExchangeStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	Context() context.Context
}

// ExchangeServer handles protocol streams on the serving side.
type ExchangeServer interface {
	Session(stream ExchangeStream) error
}

// ServiceDesc describes the Exchange service. It replaces generated stubs:
// the service carries opaque Frames, so the usual protoc plumbing would
// only wrap SendMsg and RecvMsg anyway.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ExchangeService,
	HandlerType: (*ExchangeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "api/feddfg.proto",
}

func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func sessionHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ExchangeServer).Session(&serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(f *Frame) error { return s.ServerStream.SendMsg(f) }

func (s *serverStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

var sessionStreamDesc = grpc.StreamDesc{
	StreamName:    "Session",
	ServerStreams: true,
	ClientStreams: true,
}

// NewExchangeStream opens the client end of a protocol stream. The call is
// pinned to the raw codec by content-subtype.
func NewExchangeStream(ctx context.Context, conn *grpc.ClientConn) (ExchangeStream, error) {
	cs, err := conn.NewStream(ctx, &sessionStreamDesc, "/"+ExchangeService+"/Session",
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return &clientStream{cs}, nil
}

type clientStream struct {
	grpc.ClientStream
}

func (s *clientStream) Send(f *Frame) error { return s.ClientStream.SendMsg(f) }

func (s *clientStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// StreamConduit adapts an ExchangeStream to the protocol's conduit
// interface. Messages for a different session are rejected at the
// transport boundary, before any content is inspected.
type StreamConduit struct {
	stream  ExchangeStream
	session []byte
}

func NewStreamConduit(stream ExchangeStream, session []byte) *StreamConduit {
	return &StreamConduit{stream: stream, session: session}
}

func (c *StreamConduit) Send(ctx context.Context, msg *feddfg.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := MarshalMessage(msg)
	if err != nil {
		return err
	}
	return c.stream.Send(&Frame{Data: data})
}

func (c *StreamConduit) Recv(ctx context.Context) (*feddfg.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := c.stream.Recv()
	if err != nil {
		return nil, err
	}
	msg, err := UnmarshalMessage(f.Data)
	if err != nil {
		return nil, err
	}
	if c.session != nil && !bytes.Equal(msg.Session, c.session) {
		return nil, fmt.Errorf("message for session %x on a conduit bound to session %x", msg.Session, c.session)
	}
	return msg, nil
}
