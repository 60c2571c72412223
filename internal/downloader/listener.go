package downloader

import "github.com/dmorcellet/delta-downloads/internal/data"

// Listener is told about every task update: headers carrying a length,
// each accepted chunk, and once more at termination.
//
// Calls arrive on transport goroutines, possibly for several tasks at once,
// so implementations must be safe for concurrent use and return quickly.
type Listener interface {
	TaskUpdated(t *data.Task)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(t *data.Task)

func (f ListenerFunc) TaskUpdated(t *data.Task) { f(t) }

type multiListener []Listener

func (ls multiListener) TaskUpdated(t *data.Task) {
	for _, l := range ls {
		l.TaskUpdated(t)
	}
}

// Listeners fans updates out to each non-nil listener in order.
func Listeners(ls ...Listener) Listener {
	out := make(multiListener, 0, len(ls))
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
