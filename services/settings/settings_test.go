package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"attenuator-go/bus"
	"attenuator-go/errcode"
	"attenuator-go/types"
)

func testConfig(t *testing.T) *types.SystemConfig {
	t.Helper()
	cfg := &types.SystemConfig{
		Name:      "test",
		TablesDir: t.TempDir(),
		Blades: []types.BladeConfig{
			{Index: 0, Kind: types.BladeInOut, Filters: []types.MaterialSpec{{Formula: "C", ThicknessUm: 25}}},
			{Index: 1, Kind: types.BladeInOut, Filters: []types.MaterialSpec{{Formula: "Si", ThicknessUm: 50}}},
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func startService(t *testing.T, cfg *types.SystemConfig) (*bus.Bus, *Service) {
	t.Helper()
	b := bus.NewBus(16)
	svc := New(b.NewConnection("settings"), zaptest.NewLogger(t), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, svc.Start(ctx))
	return b, svc
}

// expectRetained subscribes and returns the retained payload on topic.
func expectRetained(t *testing.T, b *bus.Bus, topic bus.Topic) any {
	t.Helper()
	conn := b.NewConnection("test")
	defer conn.Disconnect()
	sub := conn.Subscribe(topic)
	select {
	case msg := <-sub.Channel():
		return msg.Payload
	case <-time.After(time.Second):
		t.Fatalf("no retained message on %s", topic)
		return nil
	}
}

// awaitRetained polls a topic until its retained payload matches want.
func awaitRetained(t *testing.T, b *bus.Bus, topic bus.Topic, want any) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if got := expectRetained(t, b, topic); got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("retained payload on %s never became %v", topic, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDefaultsPublishedOnStart(t *testing.T) {
	b, _ := startService(t, testConfig(t))

	assert.Equal(t, 0.5, expectRetained(t, b, TopicDesiredTransmission))
	assert.Equal(t, "Floor", expectRetained(t, b, TopicCalcMode))
	assert.Equal(t, "Actual", expectRetained(t, b, TopicEnergySource))
	assert.Equal(t, true, expectRetained(t, b, BladeTopic(0, "active")))
	assert.Equal(t, "ok", expectRetained(t, b, BladeTopic(1, "stuck")))
	assert.Equal(t, "Si", expectRetained(t, b, FilterTopic(1, 0, "material")))
	assert.Equal(t, 50.0, expectRetained(t, b, FilterTopic(1, 0, "thickness")))
}

func TestAcceptedWriteIsMirrored(t *testing.T) {
	b, _ := startService(t, testConfig(t))
	conn := b.NewConnection("test")
	defer conn.Disconnect()

	conn.Publish(conn.NewMessage(SetDesiredTransmission, 0.25, false))
	awaitRetained(t, b, TopicDesiredTransmission, 0.25)

	conn.Publish(conn.NewMessage(SetCalcMode, "Ceiling", false))
	awaitRetained(t, b, TopicCalcMode, "Ceiling")

	conn.Publish(conn.NewMessage(SetBladeTopic(1, "stuck"), "stuck_in", false))
	awaitRetained(t, b, BladeTopic(1, "stuck"), "stuck_in")

	conn.Publish(conn.NewMessage(SetFilterTopic(0, 0, "thickness"), 30.0, false))
	awaitRetained(t, b, FilterTopic(0, 0, "thickness"), 30.0)
}

func TestOutOfRangeTargetRejected(t *testing.T) {
	b, _ := startService(t, testConfig(t))
	conn := b.NewConnection("test")
	defer conn.Disconnect()
	rejected := conn.Subscribe(TopicRejected)

	conn.Publish(conn.NewMessage(SetDesiredTransmission, 1.5, false))

	select {
	case msg := <-rejected.Channel():
		fault := msg.Payload.(types.Fault)
		assert.Equal(t, string(errcode.InvalidTarget), fault.Code)
	case <-time.After(time.Second):
		t.Fatal("rejection was not published")
	}
	// The retained value is untouched.
	assert.Equal(t, 0.5, expectRetained(t, b, TopicDesiredTransmission))
}

func TestUnknownSettingRejected(t *testing.T) {
	b, _ := startService(t, testConfig(t))
	conn := b.NewConnection("test")
	defer conn.Disconnect()
	rejected := conn.Subscribe(TopicRejected)

	conn.Publish(conn.NewMessage(bus.T("set", "no_such_setting"), 1.0, false))

	select {
	case msg := <-rejected.Channel():
		fault := msg.Payload.(types.Fault)
		assert.Equal(t, string(errcode.UnknownSetting), fault.Code)
	case <-time.After(time.Second):
		t.Fatal("rejection was not published")
	}
}

func TestAutosaveRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutosavePath = filepath.Join(t.TempDir(), "autosave.json")

	b, _ := startService(t, cfg)
	conn := b.NewConnection("test")
	defer conn.Disconnect()

	conn.Publish(conn.NewMessage(SetDesiredTransmission, 0.125, false))
	conn.Publish(conn.NewMessage(SetBladeTopic(0, "active"), false, false))
	awaitRetained(t, b, BladeTopic(0, "active"), false)

	raw, err := os.ReadFile(cfg.AutosavePath)
	require.NoError(t, err)
	var saved Persisted
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, 0.125, saved.DesiredTransmission)
	assert.False(t, saved.Blades[0].Active)

	// A fresh service over the same file restores the saved values.
	b2 := bus.NewBus(16)
	svc2 := New(b2.NewConnection("settings"), zaptest.NewLogger(t), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc2.Start(ctx))

	assert.Equal(t, 0.125, expectRetained(t, b2, TopicDesiredTransmission))
	assert.Equal(t, false, expectRetained(t, b2, BladeTopic(0, "active")))
}

func TestCorruptAutosaveFallsBackToDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutosavePath = filepath.Join(t.TempDir(), "autosave.json")
	require.NoError(t, os.WriteFile(cfg.AutosavePath, []byte("{nope"), 0o644))

	b, _ := startService(t, cfg)
	assert.Equal(t, 0.5, expectRetained(t, b, TopicDesiredTransmission))
}
