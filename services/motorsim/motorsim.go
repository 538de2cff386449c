// Package motorsim emulates blade motors on the bus: it accepts set
// commands and reports raw state telemetry after a configurable travel
// delay, publishing the moving state in between. Used by the demo
// configuration and integration tests in place of real motor channels.
package motorsim

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"attenuator-go/bus"
	"attenuator-go/types"
)

type Service struct {
	conn   *bus.Connection
	log    *zap.Logger
	count  int
	travel time.Duration

	states []types.BladeState
}

// New builds a simulator for count motors with the given travel time per
// move. All motors start out of the beam.
func New(conn *bus.Connection, log *zap.Logger, count int, travel time.Duration) *Service {
	states := make([]types.BladeState, count)
	for i := range states {
		states[i] = types.StateOut
	}
	return &Service{
		conn:   conn,
		log:    log,
		count:  count,
		travel: travel,
		states: states,
	}
}

// Start publishes initial telemetry and launches the simulator loop. The
// command subscription is made before Start returns.
func (s *Service) Start(ctx context.Context) error {
	for i := 0; i < s.count; i++ {
		s.publishState(i)
		s.conn.PublishRetained(topicStatus(i), types.LinkStatus{Up: true})
	}
	sub := s.conn.Subscribe(bus.T("motor", bus.Wildcard, "set"))
	go s.run(ctx, sub)
	return nil
}

type arrival struct {
	motor  int
	target types.BladeState
}

func (s *Service) run(ctx context.Context, sub *bus.Subscription) {
	defer sub.Unsubscribe()

	// One timer per travelling motor would be overkill for a simulator;
	// arrivals land on a channel sized for every motor moving at once.
	arrivals := make(chan arrival, s.count)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.Channel():
			s.handleSet(ctx, msg, arrivals)
		case a := <-arrivals:
			s.states[a.motor] = a.target
			s.publishState(a.motor)
		}
	}
}

func (s *Service) handleSet(ctx context.Context, msg *bus.Message, arrivals chan<- arrival) {
	motor, err := strconv.Atoi(msg.Topic[1])
	if err != nil || motor < 0 || motor >= s.count {
		return
	}
	raw, ok := msg.Payload.(int)
	if !ok || raw < int(types.StateOut) {
		s.log.Warn("bad motor target", zap.Any("payload", msg.Payload))
		return
	}
	target := types.BladeState(raw)
	if target == s.states[motor] {
		s.publishState(motor)
		return
	}

	s.states[motor] = types.StateUnknown
	s.publishState(motor)
	s.log.Debug("motor travelling",
		zap.Int("motor", motor),
		zap.String("target", target.String()))

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(s.travel):
			arrivals <- arrival{motor: motor, target: target}
		}
	}()
}

func (s *Service) publishState(motor int) {
	s.conn.PublishRetained(topicState(motor), int(s.states[motor]))
}

func topicState(motor int) bus.Topic {
	return bus.T("motor").Index(motor).Append("state")
}

func topicStatus(motor int) bus.Topic {
	return bus.T("motor").Index(motor).Append("status")
}
