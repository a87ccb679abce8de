package pb

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ReportCollector_ServiceName          = "gpudebug.ReportCollector"
	ReportCollector_SendWaveReport_Method = "/gpudebug.ReportCollector/SendWaveReport"
	ReportCollector_SendEventBatch_Method = "/gpudebug.ReportCollector/SendEventBatch"
)

type ReportCollectorClient interface {
	SendWaveReport(ctx context.Context, in *WaveReport, opts ...grpc.CallOption) (*CollectorAck, error)
	SendEventBatch(ctx context.Context, in *EventBatch, opts ...grpc.CallOption) (*CollectorAck, error)
}

type reportCollectorClient struct {
	cc grpc.ClientConnInterface
}

func NewReportCollectorClient(cc grpc.ClientConnInterface) ReportCollectorClient {
	return &reportCollectorClient{cc: cc}
}

func (c *reportCollectorClient) SendWaveReport(ctx context.Context, in *WaveReport, opts ...grpc.CallOption) (*CollectorAck, error) {
	out := new(CollectorAck)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, ReportCollector_SendWaveReport_Method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *reportCollectorClient) SendEventBatch(ctx context.Context, in *EventBatch, opts ...grpc.CallOption) (*CollectorAck, error) {
	out := new(CollectorAck)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, ReportCollector_SendEventBatch_Method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportCollectorServer is implemented by collectors receiving agent reports.
type ReportCollectorServer interface {
	SendWaveReport(context.Context, *WaveReport) (*CollectorAck, error)
	SendEventBatch(context.Context, *EventBatch) (*CollectorAck, error)
}

func RegisterReportCollectorServer(s grpc.ServiceRegistrar, srv ReportCollectorServer) {
	s.RegisterService(&ReportCollector_ServiceDesc, srv)
}

func _ReportCollector_SendWaveReport_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(WaveReport)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportCollectorServer).SendWaveReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ReportCollector_SendWaveReport_Method,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportCollectorServer).SendWaveReport(ctx, req.(*WaveReport))
	}
	return interceptor(ctx, in, info, handler)
}

func _ReportCollector_SendEventBatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EventBatch)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportCollectorServer).SendEventBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ReportCollector_SendEventBatch_Method,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportCollectorServer).SendEventBatch(ctx, req.(*EventBatch))
	}
	return interceptor(ctx, in, info, handler)
}

var ReportCollector_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ReportCollector_ServiceName,
	HandlerType: (*ReportCollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendWaveReport",
			Handler:    _ReportCollector_SendWaveReport_Handler,
		},
		{
			MethodName: "SendEventBatch",
			Handler:    _ReportCollector_SendEventBatch_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gpudebug/report",
}
