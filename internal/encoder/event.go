package encoder

// EventKind discriminates the encoder's asynchronous event stream.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventCancelled EventKind = "cancelled"
	EventFailed    EventKind = "failed"
)

// Progress is one sampled progress snapshot for a running conversion.
type Progress struct {
	Percent     float64 `json:"percent"`
	FPS         float64 `json:"fps,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
	ETASeconds  int64   `json:"etaSeconds,omitempty"`
	CurrentTime float64 `json:"currentTime"`
	TotalTime   float64 `json:"totalTime"`
}

// Event is one message on the encoder-to-core channel. Progress is set only
// for EventProgress; Message only for EventFailed.
type Event struct {
	Kind     EventKind
	TaskID   string
	Progress *Progress
	Message  string
}
