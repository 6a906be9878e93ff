package signal

import "sync"

type frame struct {
	data []byte
	// control frames (hello, bye) belong to one connection and are never requeued.
	control bool
	final   bool
}

// outbox is the unbounded per-connection write queue drained by a single writer.
type outbox struct {
	mu     sync.Mutex
	frames []frame
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (o *outbox) push(f frame) {
	o.mu.Lock()
	o.frames = append(o.frames, f)
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) takeAll() []frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.frames
	o.frames = nil
	return out
}

// payloads drops control frames and returns the rest in order.
func payloads(frames []frame) [][]byte {
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		if !f.control {
			out = append(out, f.data)
		}
	}
	return out
}
