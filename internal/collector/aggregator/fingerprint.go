package aggregator

import "github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"

// WaveGroup is every classified wave that stopped at one PC. First is the
// representative that gets printed.
type WaveGroup struct {
	PC      uint64
	Count   int
	QueueID uint64
	First   savearea.WaveState
	// LDS is the workgroup LDS of First, nil if the group has none.
	LDS []uint32
}
