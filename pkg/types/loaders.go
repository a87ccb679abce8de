package types

import (
	"context"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
)

type Gpu_loaders interface {
	Close() error
	Run(context.Context, string) <-chan *pb.EventBatch
}
