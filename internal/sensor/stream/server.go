package stream

import (
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/sensorframe/internal/sensor"
)

// The service is described by hand so the stream needs no generated code:
//
//	service FrameStream {
//	  // The request names a sensor type to filter on, or "" for all.
//	  rpc StreamFrames(google.protobuf.StringValue)
//	      returns (stream google.protobuf.BytesValue);
//	}
//
// Each BytesValue carries one frame encoded by EncodeFrame.
const (
	serviceName      = "sensorframe.v1.FrameStream"
	streamFramesName = "StreamFrames"
	streamFramesPath = "/" + serviceName + "/" + streamFramesName
)

// frameStreamServer is the server-side handler interface.
type frameStreamServer interface {
	StreamFrames(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

var frameStreamDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*frameStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamFramesName,
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "sensorframe/v1/stream.proto",
}

func registerFrameStream(s grpc.ServiceRegistrar, srv frameStreamServer) {
	s.RegisterService(&frameStreamDesc, srv)
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(frameStreamServer).StreamFrames(req, stream)
}

// server implements frameStreamServer on top of a Publisher.
type server struct {
	publisher *Publisher
}

// StreamFrames streams frames until the client goes away or the publisher
// stops.
func (s *server) StreamFrames(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	var filter *sensor.SensorType
	if name := req.GetValue(); name != "" {
		st, err := sensor.ParseSensorType(name)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "unknown sensor type %q", name)
		}
		filter = &st
	}

	client, ok := s.publisher.addClient(filter)
	if !ok {
		return status.Errorf(codes.ResourceExhausted, "too many subscribers (max %d)", s.publisher.config.MaxClients)
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	includePixels := s.publisher.config.IncludePixels
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.doneCh:
			return nil
		case frame := <-client.frameCh:
			msg := &wrapperspb.BytesValue{Value: EncodeFrame(frame, includePixels)}
			if err := stream.SendMsg(msg); err != nil {
				log.Printf("[Stream] Send error for client %s: %v", client.id, err)
				return err
			}
		}
	}
}
