package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/internal/link/simlink"
	"github.com/swarmqa/endurance/internal/manifest"
)

func loadDefaults(t *testing.T) {
	t.Helper()
	t.Cleanup(viper.Reset)
	_ = config.Load(t.TempDir())
}

func TestAggregator(t *testing.T) {
	for _, name := range []string{"", "first", "all"} {
		agg, err := aggregator(name)
		require.NoError(t, err, name)
		assert.NotNil(t, agg)
	}

	_, err := aggregator("most")
	assert.Error(t, err)
}

func TestMissionSettings_FromConfig(t *testing.T) {
	loadDefaults(t)
	viper.Set("mission.maxIterations", 7)
	viper.Set("mission.interIterationDelay", "1s")
	viper.Set("flight.redundancy", 3)
	viper.Set("landing.attempts", 2)
	viper.Set("telemetry.period", "250ms")

	s, err := missionSettings("lab")
	require.NoError(t, err)

	assert.Equal(t, "lab", s.Mission.Site)
	assert.Equal(t, 7, s.Mission.MaxIterations)
	assert.Equal(t, time.Second, s.Mission.InterIterationDelay)
	assert.Equal(t, 15*time.Second, s.Mission.ChargeBackoff)
	assert.Equal(t, 3, s.Flight.Redundancy)
	assert.Equal(t, 0.6, s.Flight.TakeoffHeight)
	assert.Equal(t, 2, s.Landing.Attempts)
	assert.Equal(t, 3.8, s.StopVoltage)
	assert.Equal(t, 3.9, s.ResumeVoltage)
	assert.Equal(t, 250*time.Millisecond, s.TelemetryPeriod)
}

func TestMissionSettings_InvalidThresholds(t *testing.T) {
	loadDefaults(t)
	viper.Set("charge.stopVoltage", 4.0)
	viper.Set("charge.resumeVoltage", 3.9)

	_, err := missionSettings("lab")
	assert.Error(t, err)
}

func TestMissionSettings_InvalidAggregation(t *testing.T) {
	loadDefaults(t)
	viper.Set("mission.aggregation", "sum")

	_, err := missionSettings("lab")
	assert.Error(t, err)
}

func TestConnectFleet_Simulated(t *testing.T) {
	site := &manifest.Site{
		Name: "lab",
		Devices: []manifest.Device{
			{Name: "cf1", Radio: "radio://0/10/2M/E7E7E7E701"},
			{Name: "cf2", Radio: "radio://0/20/2M/E7E7E7E702"},
		},
	}

	fleet, err := connectFleet(context.Background(), site, true, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fleet.Close() })

	assert.IsType(t, &simlink.Fleet{}, fleet)
	require.Len(t, fleet.Devices(), 2)
	assert.Equal(t, site.IDs()[0], fleet.Devices()[0].ID())
}

func TestEndpoints(t *testing.T) {
	site := &manifest.Site{Devices: []manifest.Device{{Name: "cf1", Radio: "radio://0/10/2M/E7E7E7E701"}}}
	eps := endpoints(site)
	require.Len(t, eps, 1)
	assert.Equal(t, "cf1", eps[0].Name)
	assert.Equal(t, site.Devices[0].ID(), eps[0].ID)
}
