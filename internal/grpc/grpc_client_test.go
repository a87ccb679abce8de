package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeCollector struct {
	mu       sync.Mutex
	reports  []*pb.WaveReport
	batches  []*pb.EventBatch
	batchErr error
}

func (f *fakeCollector) SendWaveReport(_ context.Context, r *pb.WaveReport) (*pb.CollectorAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return &pb.CollectorAck{Status: "ok"}, nil
}

func (f *fakeCollector) SendEventBatch(_ context.Context, b *pb.EventBatch) (*pb.CollectorAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return &pb.CollectorAck{Status: "ok"}, nil
}

func startCollector(t *testing.T, srv pb.ReportCollectorServer, loaders []types.Gpu_loaders) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	pb.RegisterReportCollectorServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := dial("passthrough:///bufnet", loaders,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSendWaveReport(t *testing.T) {
	srv := &fakeCollector{}
	c := startCollector(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := &pb.WaveReport{
		Node:    "node-1",
		Kind:    "memory_fault",
		GpuNode: 2,
		Groups:  []*pb.WaveGroup{{Pc: 0x1008, Count: 3, Trapsts: 0x10000000}},
		Text:    "Memory access fault at GPU Node: 2\n",
	}
	require.NoError(t, c.SendWaveReport(ctx, r))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.reports, 1)
	assert.Equal(t, r, srv.reports[0])
}

type fakeLoader struct {
	batches []*pb.EventBatch
}

func (l *fakeLoader) Close() error { return nil }

func (l *fakeLoader) Run(ctx context.Context, node string) <-chan *pb.EventBatch {
	ch := make(chan *pb.EventBatch, len(l.batches))
	for _, b := range l.batches {
		b.Node = node
		ch <- b
	}
	return ch
}

func TestRunStopsWhenCollectorUnavailable(t *testing.T) {
	srv := &fakeCollector{batchErr: status.Error(codes.Unavailable, "draining")}
	loader := &fakeLoader{batches: []*pb.EventBatch{{Type: "hsa_runtime_timeline", Batch: []*pb.RuntimeEvent{{Pid: 1}}}}}
	c := startCollector(t, srv, []types.Gpu_loaders{loader})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx, "node-1")
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.batches, 1)
	assert.Equal(t, "node-1", srv.batches[0].Node)
}

func TestRunReturnsOnCancel(t *testing.T) {
	c := startCollector(t, &fakeCollector{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx, "node-1"))
}
