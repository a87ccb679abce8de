package timeserie

import (
	"context"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
)

// Run flushes every interval until ctx is done, then flushes once more.
func (tc *TimeSeriesCollector) Run(ctx context.Context, interval time.Duration) <-chan *pb.EventBatch {
	out := make(chan *pb.EventBatch)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if batch := tc.Flush(); batch != nil {
					select {
					case out <- batch:
					case <-time.After(interval):
					}
				}
				return
			case <-ticker.C:
				batch := tc.Flush()
				if batch != nil {
					select {
					case out <- batch:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}
