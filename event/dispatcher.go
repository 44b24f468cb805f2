package event

import (
	"log/slog"
	"sync"
)

// Sink receives events. The scheduler is the canonical Sink; executors
// report outcomes through it.
type Sink interface {
	DispatchEvent(Event)
}

// Listener is a callback receiving events matching its mask.
type Listener func(Event)

type registration struct {
	id       int
	listener Listener
	mask     Code
}

// Dispatcher fans events out to registered listeners synchronously.
// A listener's panic is isolated and logged; it never aborts delivery to
// the remaining listeners or the caller. Safe for concurrent use.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	regs   []registration
}

// NewDispatcher creates a Dispatcher logging listener failures to logger.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// AddListener registers fn for events matching mask and returns a token
// for RemoveListener.
func (d *Dispatcher) AddListener(fn Listener, mask Code) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.regs = append(d.regs, registration{id: d.nextID, listener: fn, mask: mask})
	return d.nextID
}

// RemoveListener deregisters a previously added listener.
func (d *Dispatcher) RemoveListener(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, reg := range d.regs {
		if reg.id == id {
			d.regs = append(d.regs[:i], d.regs[i+1:]...)
			return
		}
	}
}

// DispatchEvent implements Sink.
func (d *Dispatcher) DispatchEvent(e Event) {
	d.mu.RLock()
	regs := make([]registration, len(d.regs))
	copy(regs, d.regs)
	d.mu.RUnlock()

	for _, reg := range regs {
		if e.Code&reg.mask == 0 {
			continue
		}
		d.notify(reg, e)
	}
}

func (d *Dispatcher) notify(reg registration, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked",
				slog.Any("panic", r),
				slog.Uint64("code", uint64(e.Code)),
				slog.String("job_id", e.JobID),
			)
		}
	}()
	reg.listener(e)
}
