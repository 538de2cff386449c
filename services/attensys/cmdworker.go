package attensys

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"attenuator-go/bus"
)

// commandWorker decouples motor commands from the service loop. Targets are
// coalesced per motor: if the loop requests faster than the worker drains,
// only the latest target per motor is sent.
type commandWorker struct {
	conn *bus.Connection
	log  *zap.Logger

	mu      sync.Mutex
	pending map[int]int

	kick chan struct{}
}

func newCommandWorker(conn *bus.Connection, log *zap.Logger) *commandWorker {
	return &commandWorker{
		conn:    conn,
		log:     log,
		pending: map[int]int{},
		kick:    make(chan struct{}, 1),
	}
}

// Command records the latest target for a motor. Never blocks.
func (w *commandWorker) Command(motor, target int) {
	w.mu.Lock()
	w.pending[motor] = target
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run drains pending targets until ctx is cancelled.
func (w *commandWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			w.drain()
		}
	}
}

func (w *commandWorker) drain() {
	w.mu.Lock()
	batch := w.pending
	w.pending = map[int]int{}
	w.mu.Unlock()

	motors := make([]int, 0, len(batch))
	for m := range batch {
		motors = append(motors, m)
	}
	sort.Ints(motors)

	for _, m := range motors {
		target := batch[m]
		w.conn.Publish(w.conn.NewMessage(MotorSet(m), target, false))
		w.log.Debug("motor command",
			zap.Int("motor", m),
			zap.Int("target", target))
	}
}
