package buffer

import (
	"runtime/debug"
	"time"
)

// track arms the leak timer for one rental. The timer only reports if the
// same rental (generation) is still live when it fires, so a late callback
// never blames a later borrower.
func (p *Pool) track(b *Buffer, gen uint64) {
	stack := debug.Stack()
	timer := time.AfterFunc(p.config.LeakTimeout, func() {
		if b.state.Load() != stateLive || b.generation.Load() != gen {
			return
		}
		p.leakCounter.Inc()
		Logger.Errorf("buffer leak in pool %q: buffer not returned within %s, rented at:\n%s",
			p.config.Name, p.config.LeakTimeout, stack)
	})
	if old := b.leakTimer.Swap(timer); old != nil {
		old.Stop()
	}
}

// SuppressTracking stops leak detection for the current rental. Use it for
// buffers that legitimately stay rented for a long time.
func (b *Buffer) SuppressTracking() {
	b.checkLive()
	b.stopTracking()
}

func (b *Buffer) stopTracking() {
	if t := b.leakTimer.Swap(nil); t != nil {
		t.Stop()
	}
}
