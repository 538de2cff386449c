package attensys

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attenuator-go/errcode"
	"attenuator-go/types"
)

// motionState tracks one convergence attempt. target is captured when the
// attempt starts: a solve landing mid-attempt updates the published best
// configuration but never retargets blades already on their way. requested
// makes command issuance idempotent within the attempt: a (blade, target)
// pair is sent to the worker at most once.
type motionState struct {
	active    bool
	id        string
	target    types.Configuration
	deadline  time.Time
	requested map[int]types.BladeState
}

// startMotion begins moving blades toward the best configuration.
func (s *Service) startMotion() {
	if s.motion.active {
		s.log.Warn("apply ignored, already converging", zap.String("attempt", s.motion.id))
		return
	}
	for _, bs := range s.state.best.States {
		if bs.IsMoving() {
			s.log.Warn("apply ignored, no solved configuration yet")
			return
		}
	}

	s.motion = motionState{
		active:    true,
		id:        uuid.NewString(),
		target:    s.state.best.Clone(),
		deadline:  time.Now().Add(s.cfg.Motion.Timeout),
		requested: map[int]types.BladeState{},
	}
	s.setMoving(true)
	s.log.Info("convergence started",
		zap.String("attempt", s.motion.id),
		zap.Float64("target", s.motion.target.Transmission))
	s.stepMotion()
}

// cancelMotion aborts the attempt, leaving blades wherever they are.
func (s *Service) cancelMotion() {
	if !s.motion.active {
		return
	}
	s.log.Info("convergence cancelled", zap.String("attempt", s.motion.id))
	s.motion = motionState{}
	s.setMoving(false)
}

// stepMotion advances the attempt: runs on every tick and on every
// telemetry update while converging.
//
// Insertions are issued before any retraction: a blade only leaves the beam
// once every blade that should be absorbing is in, so transmission never
// overshoots the target on the way to it.
func (s *Service) stepMotion() {
	if !s.motion.active {
		return
	}
	st := &s.state

	if s.converged() {
		s.log.Info("convergence complete",
			zap.String("attempt", s.motion.id),
			zap.Float64("transmission", s.motion.target.Transmission))
		s.motion = motionState{}
		s.setMoving(false)
		return
	}

	if time.Now().After(s.motion.deadline) {
		err := &errcode.E{C: errcode.MotionTimeout, Op: "attensys.motion",
			Msg: "blades did not reach the requested configuration in time"}
		s.log.Error("convergence timed out", zap.String("attempt", s.motion.id))
		s.publishFault(err)
		s.met.MotionTimeout()
		s.motion = motionState{}
		s.setMoving(false)
		return
	}

	var moveIn, moveOut []int
	for i, want := range s.motion.target.States {
		if !s.commandable(i) {
			continue
		}
		have := st.actual.States[i]
		switch {
		case want.IsInserted() && have != want:
			moveIn = append(moveIn, i)
		case want == types.StateOut && have.IsInserted():
			moveOut = append(moveOut, i)
		}
	}

	batch := moveIn
	if len(batch) == 0 {
		batch = moveOut
	}
	for _, i := range batch {
		s.request(i, s.motion.target.States[i])
	}
}

// converged reports whether every blade sits at its attempt target. Blades
// excluded from commanding count as converged.
func (s *Service) converged() bool {
	st := &s.state
	for i, want := range s.motion.target.States {
		if !s.commandable(i) {
			continue
		}
		if st.actual.States[i] != want {
			return false
		}
	}
	return true
}

// commandable reports whether the sequencer may move a blade.
func (s *Service) commandable(i int) bool {
	b := s.state.blades[i]
	return b.active && b.stuck == types.NotStuck
}

func (s *Service) request(blade int, target types.BladeState) {
	if s.motion.requested[blade] == target {
		return
	}
	s.motion.requested[blade] = target
	s.worker.Command(blade, int(target))
}

func (s *Service) setMoving(moving bool) {
	s.conn.PublishRetained(TopicMoving, moving)
	s.met.SetMoving(moving)
}
