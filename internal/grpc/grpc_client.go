package grpc

import (
	"context"
	"fmt"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type Client struct {
	conn    *grpc.ClientConn
	client  pb.ReportCollectorClient
	loaders []types.Gpu_loaders
}

const maxMsgSize = 64 * 1024 * 1024

func NewGrpcClient(address string, port string, loaders []types.Gpu_loaders) (*Client, error) {
	return dial(fmt.Sprintf("%s:%s", address, port), loaders)
}

func dial(target string, loaders []types.Gpu_loaders, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize), grpc.MaxCallSendMsgSize(maxMsgSize)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}

	client := pb.NewReportCollectorClient(conn)

	return &Client{conn: conn, client: client, loaders: loaders}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// SendWaveReport delivers one printed fault or queue-error report.
func (c *Client) SendWaveReport(ctx context.Context, r *pb.WaveReport) error {
	logger := logutil.GetLogger()

	ack, err := c.client.SendWaveReport(ctx, r)
	if err != nil {
		return err
	}
	logger.Debug("Wave report sent", zap.String("kind", r.Kind), zap.Int("groups", len(r.Groups)), zap.String("ack", ack.Status))
	return nil
}

func (c *Client) SendEventBatch(ctx context.Context, in *pb.EventBatch) (*pb.CollectorAck, error) {
	logger := logutil.GetLogger()

	logger.Info("Batch size", zap.Int("size", len(in.Batch)))

	return c.client.SendEventBatch(ctx, in)
}

// Run forwards loader batches until ctx is done or the collector goes away.
func (c *Client) Run(ctx context.Context, nodeName string) error {
	logger := logutil.GetLogger()

	eventCh := make(chan *pb.EventBatch, 500)

	for _, loader := range c.loaders {

		go func(l types.Gpu_loaders) {
			tracerChannel := l.Run(ctx, nodeName)
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-tracerChannel:
					if !ok {
						return
					}
					select {
					case eventCh <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}(loader)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Client received cancellation signal")
			return nil
		case event := <-eventCh:
			if event == nil {
				continue
			}
			_, err := c.SendEventBatch(ctx, event)
			if err != nil {
				logger.Error("Error from sending", zap.Error(err))
				status, ok := status.FromError(err)
				if ok && (status.Code() == codes.Unavailable || status.Code() == codes.Canceled) {
					logger.Warn("Server unavailable. Shutting down client.")
					return err
				}
			}
		}
	}
}
