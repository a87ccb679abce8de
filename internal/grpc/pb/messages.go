// Package pb holds the messages exchanged with a debug report collector.
// They travel over gRPC with the JSON codec from codec.go.
package pb

type WaveGroup struct {
	Pc         uint64 `json:"pc"`
	Count      uint64 `json:"count"`
	Exec       uint64 `json:"exec"`
	Status     uint32 `json:"status"`
	Trapsts    uint32 `json:"trapsts"`
	M0         uint32 `json:"m0"`
	QueueId    uint64 `json:"queue_id"`
	CodeObject string `json:"code_object,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
}

type WaveReport struct {
	Node        string       `json:"node"`
	Session     string       `json:"session"`
	Kind        string       `json:"kind"`
	GpuNode     uint32       `json:"gpu_node"`
	QueueId     uint64       `json:"queue_id,omitempty"`
	Status      string       `json:"status,omitempty"`
	TimestampNs int64        `json:"timestamp_ns"`
	Groups      []*WaveGroup `json:"groups"`
	Text        string       `json:"text"`
}

type RuntimeEventToken struct {
	Timestamp int64  `json:"timestamp"`
	EventType uint8  `json:"event_type"`
	Handle    uint64 `json:"handle"`
	Value     uint64 `json:"value"`
}

type RuntimeEvent struct {
	Pid       uint32             `json:"pid"`
	Comm      string             `json:"comm"`
	EventType string             `json:"event_type"`
	Token     *RuntimeEventToken `json:"token"`
}

type EventBatch struct {
	Type  string          `json:"type"`
	Node  string          `json:"node"`
	Batch []*RuntimeEvent `json:"batch"`
}

type CollectorAck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
