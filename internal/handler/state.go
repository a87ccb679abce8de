package handler

type State uint8

const (
	Idle State = iota
	Received
	Preempting
	Decoding
	Classifying
	Presenting
	Resuming
)

var stateNames = [...]string{
	Idle:        "idle",
	Received:    "received",
	Preempting:  "preempting",
	Decoding:    "decoding",
	Classifying: "classifying",
	Presenting:  "presenting",
	Resuming:    "resuming",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
