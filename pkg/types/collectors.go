package types

import (
	"context"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
)

type Gpu_collectors interface {
	Update(ev any)
	Flush() *pb.EventBatch
	Run(context.Context, time.Duration) <-chan *pb.EventBatch
}
