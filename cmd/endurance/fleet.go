package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/swarmqa/endurance/internal/config"
	"github.com/swarmqa/endurance/internal/dispatcher"
	"github.com/swarmqa/endurance/internal/flight"
	"github.com/swarmqa/endurance/internal/landing"
	"github.com/swarmqa/endurance/internal/link"
	"github.com/swarmqa/endurance/internal/link/mqttlink"
	"github.com/swarmqa/endurance/internal/link/simlink"
	"github.com/swarmqa/endurance/internal/manifest"
	"github.com/swarmqa/endurance/internal/mission"
)

// missionSettings builds the controller settings from the loaded config.
func missionSettings(site string) (mission.Settings, error) {
	s := mission.DefaultSettings()

	mc := config.GetMissionConfig()
	s.Mission.Site = site
	s.Mission.MaxIterations = mc.MaxIterations
	s.Mission.ChargeBackoff = mc.ChargeBackoff
	s.Mission.InterIterationDelay = mc.InterIterationDelay
	s.Mission.TakeoffSettle = mc.TakeoffSettle
	s.Mission.TelemetryTimeout = mc.TelemetryTimeout

	agg, err := aggregator(mc.Aggregation)
	if err != nil {
		return s, err
	}
	s.Aggregator = agg

	cc := config.GetChargeConfig()
	if cc.ResumeVoltage < cc.StopVoltage {
		return s, fmt.Errorf("charge.resumeVoltage %.2f is below charge.stopVoltage %.2f", cc.ResumeVoltage, cc.StopVoltage)
	}
	s.StopVoltage = cc.StopVoltage
	s.ResumeVoltage = cc.ResumeVoltage

	lc := config.GetLandingConfig()
	s.Landing = landing.Config{Attempts: lc.Attempts, VerifyDelay: lc.VerifyDelay}

	fc := config.GetFlightConfig()
	s.Flight = flight.Config{
		Redundancy:      fc.Redundancy,
		TakeoffHeight:   fc.TakeoffHeight,
		TakeoffDuration: fc.TakeoffDuration,
		TakeoffSettle:   fc.TakeoffSettle,
		ReturnHeight:    fc.ReturnHeight,
		ReturnDuration:  fc.ReturnDuration,
		ReturnSettle:    fc.ReturnSettle,
		LandHeight:      fc.LandHeight,
		LandDuration:    fc.LandDuration,
		LandSettle:      fc.LandSettle,
	}

	tc := config.GetTelemetryConfig()
	s.TelemetryPeriod = tc.Period
	s.TelemetryBuffer = tc.Buffer
	return s, nil
}

// aggregator maps mission.aggregation to a dispatcher aggregation strategy.
func aggregator(name string) (dispatcher.Aggregator, error) {
	switch name {
	case "", "first":
		return dispatcher.FirstError, nil
	case "all":
		return dispatcher.JoinErrors, nil
	default:
		return nil, fmt.Errorf("unknown mission.aggregation %q (want first or all)", name)
	}
}

// connectFleet opens the fleet described by site, either simulated or over
// the MQTT radio bridge.
func connectFleet(ctx context.Context, site *manifest.Site, simulate bool, logger *slog.Logger) (link.Fleet, error) {
	if simulate {
		logger.Info("Using simulated fleet", "site", site.Name, "devices", len(site.Devices))
		return simlink.New(site.IDs(), simlink.WithLogger(logger)), nil
	}

	mc := config.GetMQTTConfig()
	fleet, err := mqttlink.Connect(ctx, mqttlink.Config{
		Broker:         mc.Broker,
		Port:           mc.Port,
		ClientID:       mc.ClientID,
		Username:       mc.Username,
		Password:       mc.Password,
		TopicPrefix:    mc.TopicPrefix,
		CommandTimeout: mc.CommandTimeout,
	}, endpoints(site), logger)
	if err != nil {
		return nil, fmt.Errorf("connect fleet: %w", err)
	}
	return fleet, nil
}

func endpoints(site *manifest.Site) []mqttlink.Endpoint {
	out := make([]mqttlink.Endpoint, len(site.Devices))
	for i, d := range site.Devices {
		out[i] = mqttlink.Endpoint{Name: d.Name, ID: d.ID()}
	}
	return out
}
