// Package attensys is the attenuator engine: it owns the system state,
// recomputes the best blade configuration when its inputs change, and walks
// the blades toward it on request.
//
// All state lives behind one event loop. Settings, beam telemetry, motor
// telemetry, commands, and solve results are funneled through a single
// select; solves themselves run off-loop over an immutable snapshot.
package attensys

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"attenuator-go/absorb"
	"attenuator-go/bus"
	"attenuator-go/errcode"
	"attenuator-go/metrics"
	"attenuator-go/types"
)

type Service struct {
	conn   *bus.Connection
	log    *zap.Logger
	cfg    *types.SystemConfig
	tables absorb.Source
	met    *metrics.Engine

	state  systemState
	motion motionState
	worker *commandWorker

	solving  bool
	resolve  bool
	resultCh chan solveResult
	done     chan struct{}
}

func New(conn *bus.Connection, log *zap.Logger, cfg *types.SystemConfig,
	tables absorb.Source, met *metrics.Engine) *Service {
	return &Service{
		conn:     conn,
		log:      log,
		cfg:      cfg,
		tables:   tables,
		met:      met,
		state:    newSystemState(cfg),
		worker:   newCommandWorker(conn, log),
		resultCh: make(chan solveResult, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the command worker and the event loop.
func (s *Service) Start(ctx context.Context) error {
	s.setMoving(false)
	s.publishActual()
	go s.worker.Run(ctx)
	go s.run(ctx)
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	settingsSys := s.conn.Subscribe(bus.T("settings", bus.Wildcard))
	settingsBlade := s.conn.Subscribe(bus.T("settings", "blade", bus.Wildcard, bus.Wildcard))
	settingsFilter := s.conn.Subscribe(bus.T("settings", "blade", bus.Wildcard, "filter", bus.Wildcard, bus.Wildcard))
	beam := s.conn.Subscribe(bus.T("beam", "energy", bus.Wildcard))
	motor := s.conn.Subscribe(bus.T("motor", bus.Wildcard, bus.Wildcard))
	cmd := s.conn.Subscribe(bus.T("cmd", bus.Wildcard))
	defer settingsSys.Unsubscribe()
	defer settingsBlade.Unsubscribe()
	defer settingsFilter.Unsubscribe()
	defer beam.Unsubscribe()
	defer motor.Unsubscribe()
	defer cmd.Unsubscribe()

	tick := time.NewTicker(s.cfg.Motion.StepInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-settingsSys.Channel():
			s.handleSystemSetting(msg)
		case msg := <-settingsBlade.Channel():
			s.handleBladeSetting(msg)
		case msg := <-settingsFilter.Channel():
			s.handleFilterSetting(msg)
		case msg := <-beam.Channel():
			s.handleBeam(msg)
		case msg := <-motor.Channel():
			s.handleMotor(msg)
		case msg := <-cmd.Channel():
			s.handleCommand(msg)
		case res := <-s.resultCh:
			s.applySolve(res)
		case <-tick.C:
			s.stepMotion()
		}
	}
}

// -----------------------------------------------------------------------------
// Recompute control
// -----------------------------------------------------------------------------

// maybeSolve starts a solve over the current state unless one is already in
// flight. In-flight triggers coalesce into a single follow-up solve, so the
// published result is never more than one solve behind the latest change.
func (s *Service) maybeSolve(reason string) {
	if s.solving {
		s.resolve = true
		return
	}
	if s.state.source == types.SourceActual && !s.state.linkUp {
		s.publishFault(&errcode.E{C: errcode.LinkFault, Op: "attensys.solve",
			Msg: "beam energy source is down"})
		return
	}
	if math.IsNaN(s.state.energy()) {
		s.log.Debug("solve skipped, no photon energy yet", zap.String("reason", reason))
		return
	}

	s.solving = true
	s.log.Debug("solve started",
		zap.String("reason", reason),
		zap.Float64("desired", s.state.desired),
		zap.Float64("energy", s.state.energy()))
	go s.solve(s.snapshot())
}

func (s *Service) applySolve(res solveResult) {
	s.solving = false
	s.met.ObserveSolve(res.duration, res.err)
	defer func() {
		if s.resolve {
			s.resolve = false
			s.maybeSolve("coalesced")
		}
	}()

	if res.err != nil {
		s.log.Error("solve failed", zap.Error(res.err))
		s.publishFault(res.err)
		return
	}

	s.state.best = res.best
	// Adopt the computed values but keep the live specs: a material or
	// thickness change that landed mid-solve must not be rolled back by the
	// snapshot it missed.
	for i, filters := range res.filters {
		for k, f := range filters {
			cur := &s.state.blades[i].filters[k]
			spec := cur.spec
			*cur = f
			cur.spec = spec
		}
	}
	s.clearFault()
	s.publishBest(res)
	// Telemetry aggregates depend on the refreshed filter transmissions.
	s.publishActual()

	s.log.Info("solve complete",
		zap.Float64("desired", res.desired),
		zap.Float64("achieved", res.best.Transmission),
		zap.Int("bitmask", res.best.Bitmask()),
		zap.Duration("took", res.duration))
}

// -----------------------------------------------------------------------------
// Input handlers
// -----------------------------------------------------------------------------

func (s *Service) handleSystemSetting(msg *bus.Message) {
	st := &s.state
	switch msg.Topic[1] {
	case "desired_transmission":
		if v, ok := msg.Payload.(float64); ok && v != st.desired {
			st.desired = v
			s.maybeSolve("desired_transmission")
		}
	case "calc_mode":
		if v, ok := msg.Payload.(string); ok && types.CalcMode(v) != st.mode {
			st.mode = types.CalcMode(v)
			s.maybeSolve("calc_mode")
		}
	case "energy_source":
		if v, ok := msg.Payload.(string); ok && types.EnergySource(v) != st.source {
			st.source = types.EnergySource(v)
			s.maybeSolve("energy_source")
		}
	case "energy_custom":
		if v, ok := msg.Payload.(float64); ok && v != st.energyCustom {
			st.energyCustom = v
			if st.source == types.SourceCustom {
				s.maybeSolve("energy_custom")
			}
		}
	}
}

func (s *Service) handleBladeSetting(msg *bus.Message) {
	// settings/blade/<n>/<field>
	i, ok := s.bladeIndex(msg.Topic[2])
	if !ok {
		return
	}
	b := &s.state.blades[i]
	switch msg.Topic[3] {
	case "active":
		if v, ok := msg.Payload.(bool); ok && v != b.active {
			b.active = v
			s.maybeSolve("blade_active")
		}
	case "stuck":
		if v, ok := msg.Payload.(string); ok && types.StuckState(v) != b.stuck {
			b.stuck = types.StuckState(v)
			s.maybeSolve("blade_stuck")
		}
	}
}

func (s *Service) handleFilterSetting(msg *bus.Message) {
	// settings/blade/<n>/filter/<k>/<field>
	i, ok := s.bladeIndex(msg.Topic[2])
	if !ok {
		return
	}
	k, err := strconv.Atoi(msg.Topic[4])
	if err != nil || k < 0 || k >= len(s.state.blades[i].filters) {
		return
	}
	f := &s.state.blades[i].filters[k]
	switch msg.Topic[5] {
	case "material":
		if v, ok := msg.Payload.(string); ok && v != f.spec.Formula {
			f.spec.Formula = v
			s.maybeSolve("filter_material")
		}
	case "thickness":
		if v, ok := msg.Payload.(float64); ok && v != f.spec.ThicknessUm {
			f.spec.ThicknessUm = v
			s.maybeSolve("filter_thickness")
		}
	}
}

func (s *Service) handleBeam(msg *bus.Message) {
	st := &s.state
	switch msg.Topic[2] {
	case "actual":
		if v, ok := msg.Payload.(float64); ok && v != st.energyActual {
			st.energyActual = v
			if st.source == types.SourceActual {
				s.maybeSolve("beam_energy")
			}
		}
	case "status":
		status, ok := msg.Payload.(types.LinkStatus)
		if !ok || status.Up == st.linkUp {
			return
		}
		st.linkUp = status.Up
		if !status.Up {
			if st.source == types.SourceActual {
				s.log.Warn("beam energy link lost, recompute frozen")
				s.publishFault(&errcode.E{C: errcode.LinkFault, Op: "attensys.beam",
					Msg: "beam energy source is down"})
			}
			return
		}
		s.log.Info("beam energy link restored")
		s.maybeSolve("link_restored")
	}
}

func (s *Service) handleMotor(msg *bus.Message) {
	// motor/<n>/{state,status,set}; our own set commands also match here.
	i, ok := s.bladeIndex(msg.Topic[1])
	if !ok {
		return
	}
	st := &s.state
	switch msg.Topic[2] {
	case "state":
		raw, ok := asInt(msg.Payload)
		if !ok || raw < 0 {
			return
		}
		if types.BladeState(raw) == st.actual.States[i] {
			return
		}
		st.actual.States[i] = types.BladeState(raw)
		s.publishActual()
		s.stepMotion()
	case "status":
		status, ok := msg.Payload.(types.LinkStatus)
		if ok && !status.Up {
			// A motor going dark leaves its blade position unknown.
			st.actual.States[i] = types.StateUnknown
			s.publishActual()
		}
	}
}

func (s *Service) handleCommand(msg *bus.Message) {
	switch msg.Topic[1] {
	case "run":
		s.maybeSolve("cmd_run")
	case "apply":
		s.startMotion()
	case "cancel":
		s.cancelMotion()
	default:
		s.log.Warn("unknown command", zap.String("topic", msg.Topic.String()))
	}
}

func (s *Service) bladeIndex(tok string) (int, bool) {
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 || n >= len(s.state.blades) {
		return 0, false
	}
	return n, true
}

func asInt(p any) (int, bool) {
	switch v := p.(type) {
	case int:
		return v, true
	case types.BladeState:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
