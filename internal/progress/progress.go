package progress

// Stage names emitted during ingestion, in order.
const (
	StageUpload     = "upload"
	StageExif       = "exif"
	StageProcessing = "processing"
	StageComplete   = "complete"
)

// Event is one progress update for an upload.
type Event struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// Reporter receives progress events. Implementations must not block the
// reporting goroutine.
type Reporter interface {
	Report(stage string, percent int)
}

// Tracker is a bounded multi-producer/single-consumer progress channel.
// Encoder goroutines push events, the request-handling task drains them.
// When the consumer lags, events are dropped rather than blocking the
// pipeline; delivery is best-effort.
type Tracker struct {
	ch chan Event
}

const bufferSize = 16

func NewTracker() *Tracker {
	return &Tracker{ch: make(chan Event, bufferSize)}
}

// Report pushes an event without blocking.
func (t *Tracker) Report(stage string, percent int) {
	if t == nil {
		return
	}
	select {
	case t.ch <- Event{Stage: stage, Percent: percent}:
	default:
	}
}

// Events returns the consumer side of the channel.
func (t *Tracker) Events() <-chan Event {
	return t.ch
}

// Close ends the stream; the consumer's range loop terminates.
func (t *Tracker) Close() {
	close(t.ch)
}

// Discard is a Reporter that drops everything, for callers that do not
// observe progress.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(string, int) {}
