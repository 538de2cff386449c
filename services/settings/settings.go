// Package settings owns every operator-adjustable value: it validates
// writes at the boundary, mirrors accepted values as retained bus topics,
// and persists them across restarts.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"attenuator-go/bus"
	"attenuator-go/errcode"
	"attenuator-go/types"
	"attenuator-go/x/timex"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Retained, authoritative values.
var (
	TopicDesiredTransmission = bus.T("settings", "desired_transmission")
	TopicCalcMode            = bus.T("settings", "calc_mode")
	TopicEnergySource        = bus.T("settings", "energy_source")
	TopicEnergyCustom        = bus.T("settings", "energy_custom")
	TopicRejected            = bus.T("settings", "rejected")
)

// BladeTopic returns settings/blade/<n>/<field>.
func BladeTopic(blade int, field string) bus.Topic {
	return bus.T("settings", "blade").Index(blade).Append(field)
}

// FilterTopic returns settings/blade/<n>/filter/<k>/<field>.
func FilterTopic(blade, filter int, field string) bus.Topic {
	return bus.T("settings", "blade").Index(blade).Append("filter").Index(filter).Append(field)
}

// Write requests arrive under set/... with the same shape.
var (
	SetDesiredTransmission = bus.T("set", "desired_transmission")
	SetCalcMode            = bus.T("set", "calc_mode")
	SetEnergySource        = bus.T("set", "energy_source")
	SetEnergyCustom        = bus.T("set", "energy_custom")
)

// SetBladeTopic returns set/blade/<n>/<field>.
func SetBladeTopic(blade int, field string) bus.Topic {
	return bus.T("set", "blade").Index(blade).Append(field)
}

// SetFilterTopic returns set/blade/<n>/filter/<k>/<field>.
func SetFilterTopic(blade, filter int, field string) bus.Topic {
	return bus.T("set", "blade").Index(blade).Append("filter").Index(filter).Append(field)
}

// -----------------------------------------------------------------------------
// Persisted state
// -----------------------------------------------------------------------------

// Custom photon energy control limits, in eV.
const (
	energyCustomMin = 100.0
	energyCustomMax = 30000.0
)

// Maximum filter thickness, in micrometers.
const thicknessMaxUm = 900000.0

// BladeSettings is the runtime-adjustable part of one blade.
type BladeSettings struct {
	Active  bool                 `json:"active"`
	Stuck   types.StuckState     `json:"stuck"`
	Filters []types.MaterialSpec `json:"filters"`
}

// Persisted is the autosave snapshot.
type Persisted struct {
	DesiredTransmission float64            `json:"desired_transmission"`
	CalcMode            types.CalcMode     `json:"calc_mode"`
	EnergySource        types.EnergySource `json:"energy_source"`
	EnergyCustom        float64            `json:"energy_custom"`
	Blades              []BladeSettings    `json:"blades"`
}

func defaults(cfg *types.SystemConfig) Persisted {
	p := Persisted{
		DesiredTransmission: 0.5,
		CalcMode:            types.ModeFloor,
		EnergySource:        types.SourceActual,
		EnergyCustom:        energyCustomMin,
		Blades:              make([]BladeSettings, len(cfg.Blades)),
	}
	for i, b := range cfg.Blades {
		filters := make([]types.MaterialSpec, len(b.Filters))
		copy(filters, b.Filters)
		p.Blades[i] = BladeSettings{Active: true, Stuck: types.NotStuck, Filters: filters}
	}
	return p
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn *bus.Connection
	log  *zap.Logger
	cfg  *types.SystemConfig
	path string

	cur Persisted
}

func New(conn *bus.Connection, log *zap.Logger, cfg *types.SystemConfig) *Service {
	return &Service{
		conn: conn,
		log:  log,
		cfg:  cfg,
		path: cfg.AutosavePath,
	}
}

// Start loads the autosave, publishes every setting, and launches the
// write loop. Subscriptions are made before Start returns, so no write
// published after Start can be missed.
func (s *Service) Start(ctx context.Context) error {
	if err := s.loadOrDefault(); err != nil {
		return err
	}
	s.publishAll()

	sysSub := s.conn.Subscribe(bus.T("set", bus.Wildcard))
	bladeSub := s.conn.Subscribe(bus.T("set", "blade", bus.Wildcard, bus.Wildcard))
	filterSub := s.conn.Subscribe(bus.T("set", "blade", bus.Wildcard, "filter", bus.Wildcard, bus.Wildcard))
	go s.run(ctx, sysSub, bladeSub, filterSub)
	return nil
}

func (s *Service) run(ctx context.Context, sysSub, bladeSub, filterSub *bus.Subscription) {
	defer s.conn.Unsubscribe(sysSub)
	defer s.conn.Unsubscribe(bladeSub)
	defer s.conn.Unsubscribe(filterSub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sysSub.Channel():
			s.apply(s.handleSystem(msg))
		case msg := <-bladeSub.Channel():
			s.apply(s.handleBlade(msg))
		case msg := <-filterSub.Channel():
			s.apply(s.handleFilter(msg))
		}
	}
}

// apply persists and logs the outcome of one write request.
func (s *Service) apply(err error) {
	if err != nil {
		s.log.Warn("setting rejected", zap.Error(err))
		s.conn.Publish(s.conn.NewMessage(TopicRejected, types.Fault{
			Code:    string(errcode.Of(err)),
			Message: err.Error(),
			TSms:    timex.NowMs(),
		}, false))
		return
	}
	if err := s.save(); err != nil {
		s.log.Error("autosave failed", zap.Error(err))
	}
}

// -----------------------------------------------------------------------------
// Write handlers
// -----------------------------------------------------------------------------

func (s *Service) handleSystem(msg *bus.Message) error {
	switch msg.Topic[1] {
	case "desired_transmission":
		v, ok := asFloat(msg.Payload)
		if !ok {
			return &errcode.E{C: errcode.InvalidPayload, Msg: "desired_transmission wants a float"}
		}
		if v < 0 || v > 1 {
			return &errcode.E{C: errcode.InvalidTarget,
				Msg: fmt.Sprintf("desired transmission %g outside [0,1]", v)}
		}
		s.cur.DesiredTransmission = v
		s.conn.PublishRetained(TopicDesiredTransmission, v)

	case "calc_mode":
		m, ok := msg.Payload.(string)
		if !ok || !types.CalcMode(m).Valid() {
			return &errcode.E{C: errcode.InvalidPayload,
				Msg: fmt.Sprintf("calc_mode %v is not Floor or Ceiling", msg.Payload)}
		}
		s.cur.CalcMode = types.CalcMode(m)
		s.conn.PublishRetained(TopicCalcMode, m)

	case "energy_source":
		src, ok := msg.Payload.(string)
		if !ok || !types.EnergySource(src).Valid() {
			return &errcode.E{C: errcode.InvalidPayload,
				Msg: fmt.Sprintf("energy_source %v is not Actual or Custom", msg.Payload)}
		}
		s.cur.EnergySource = types.EnergySource(src)
		s.conn.PublishRetained(TopicEnergySource, src)

	case "energy_custom":
		v, ok := asFloat(msg.Payload)
		if !ok {
			return &errcode.E{C: errcode.InvalidPayload, Msg: "energy_custom wants a float"}
		}
		if v < energyCustomMin || v > energyCustomMax {
			return &errcode.E{C: errcode.InvalidTarget,
				Msg: fmt.Sprintf("custom energy %g eV outside [%g,%g]", v, energyCustomMin, energyCustomMax)}
		}
		s.cur.EnergyCustom = v
		s.conn.PublishRetained(TopicEnergyCustom, v)

	default:
		return &errcode.E{C: errcode.UnknownSetting, Msg: msg.Topic.String()}
	}
	return nil
}

func (s *Service) handleBlade(msg *bus.Message) error {
	// set/blade/<n>/<field>
	blade, err := s.bladeIndex(msg.Topic[2])
	if err != nil {
		return err
	}
	switch msg.Topic[3] {
	case "active":
		v, ok := msg.Payload.(bool)
		if !ok {
			return &errcode.E{C: errcode.InvalidPayload, Msg: "active wants a bool"}
		}
		s.cur.Blades[blade].Active = v
		s.conn.PublishRetained(BladeTopic(blade, "active"), v)

	case "stuck":
		v, ok := msg.Payload.(string)
		if !ok || !types.StuckState(v).Valid() {
			return &errcode.E{C: errcode.InvalidPayload,
				Msg: fmt.Sprintf("stuck %v is not ok, stuck_out, or stuck_in", msg.Payload)}
		}
		s.cur.Blades[blade].Stuck = types.StuckState(v)
		s.conn.PublishRetained(BladeTopic(blade, "stuck"), v)

	default:
		return &errcode.E{C: errcode.UnknownSetting, Msg: msg.Topic.String()}
	}
	return nil
}

func (s *Service) handleFilter(msg *bus.Message) error {
	// set/blade/<n>/filter/<k>/<field>
	blade, err := s.bladeIndex(msg.Topic[2])
	if err != nil {
		return err
	}
	filter, err := strconv.Atoi(msg.Topic[4])
	if err != nil || filter < 0 || filter >= len(s.cur.Blades[blade].Filters) {
		return &errcode.E{C: errcode.UnknownSetting,
			Msg: fmt.Sprintf("no filter %s on blade %d", msg.Topic[4], blade)}
	}
	switch msg.Topic[5] {
	case "material":
		v, ok := msg.Payload.(string)
		if !ok || v == "" {
			return &errcode.E{C: errcode.InvalidPayload, Msg: "material wants a non-empty string"}
		}
		s.cur.Blades[blade].Filters[filter].Formula = v
		s.conn.PublishRetained(FilterTopic(blade, filter, "material"), v)

	case "thickness":
		v, ok := asFloat(msg.Payload)
		if !ok {
			return &errcode.E{C: errcode.InvalidPayload, Msg: "thickness wants a float"}
		}
		if v <= 0 || v > thicknessMaxUm {
			return &errcode.E{C: errcode.InvalidTarget,
				Msg: fmt.Sprintf("thickness %g um outside (0,%g]", v, thicknessMaxUm)}
		}
		s.cur.Blades[blade].Filters[filter].ThicknessUm = v
		s.conn.PublishRetained(FilterTopic(blade, filter, "thickness"), v)

	default:
		return &errcode.E{C: errcode.UnknownSetting, Msg: msg.Topic.String()}
	}
	return nil
}

func (s *Service) bladeIndex(tok string) (int, error) {
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 || n >= len(s.cur.Blades) {
		return 0, &errcode.E{C: errcode.UnknownSetting, Msg: "no blade " + tok}
	}
	return n, nil
}

func asFloat(p any) (float64, bool) {
	switch v := p.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// -----------------------------------------------------------------------------
// Persistence
// -----------------------------------------------------------------------------

func (s *Service) loadOrDefault() error {
	s.cur = defaults(s.cfg)
	if s.path == "" {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("no autosave file, using defaults", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings: read autosave: %w", err)
	}

	var saved Persisted
	if err := json.Unmarshal(raw, &saved); err != nil {
		// A corrupt autosave must not keep the IOC from booting.
		s.log.Error("autosave unreadable, using defaults", zap.Error(err))
		return nil
	}

	if saved.DesiredTransmission >= 0 && saved.DesiredTransmission <= 1 {
		s.cur.DesiredTransmission = saved.DesiredTransmission
	}
	if saved.CalcMode.Valid() {
		s.cur.CalcMode = saved.CalcMode
	}
	if saved.EnergySource.Valid() {
		s.cur.EnergySource = saved.EnergySource
	}
	if saved.EnergyCustom >= energyCustomMin && saved.EnergyCustom <= energyCustomMax {
		s.cur.EnergyCustom = saved.EnergyCustom
	}
	// Blade shape comes from static config; only adopt saved blades that
	// still match it.
	for i := range s.cur.Blades {
		if i >= len(saved.Blades) {
			break
		}
		sb := saved.Blades[i]
		if len(sb.Filters) != len(s.cur.Blades[i].Filters) || !sb.Stuck.Valid() {
			continue
		}
		s.cur.Blades[i] = sb
	}
	return nil
}

// save writes the autosave snapshot atomically (temp file + rename).
func (s *Service) save() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(&s.cur, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// publishAll mirrors every setting as a retained topic.
func (s *Service) publishAll() {
	s.conn.PublishRetained(TopicDesiredTransmission, s.cur.DesiredTransmission)
	s.conn.PublishRetained(TopicCalcMode, string(s.cur.CalcMode))
	s.conn.PublishRetained(TopicEnergySource, string(s.cur.EnergySource))
	s.conn.PublishRetained(TopicEnergyCustom, s.cur.EnergyCustom)
	for i, b := range s.cur.Blades {
		s.conn.PublishRetained(BladeTopic(i, "active"), b.Active)
		s.conn.PublishRetained(BladeTopic(i, "stuck"), string(b.Stuck))
		for k, f := range b.Filters {
			s.conn.PublishRetained(FilterTopic(i, k, "material"), f.Formula)
			s.conn.PublishRetained(FilterTopic(i, k, "thickness"), f.ThicknessUm)
		}
	}
}
