// Package config loads manipulator.ini: each drive's IP, name, axis
// limits, monitoring-channel parameter assignments, and the feedback-
// loop/stream tuning constants, the way the teacher stack loads an EDS
// file for an object dictionary.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/oskarau/manipulatorctl/pkg/codec"
	"github.com/oskarau/manipulatorctl/pkg/follower"
)

// DriveConfig describes one configured drive: its network peer, its
// human name, and the position limits used by the feedback loop to pick
// an axis-limit target.
type DriveConfig struct {
	Name       string
	Addr       *net.UDPAddr
	MinPos     float64
	MaxPos     float64
	Monitoring codec.MonitoringSlots
}

// Manipulator is the fully parsed configuration for one manipulator: its
// drives in axis order, plus the follower and stream tuning constants.
type Manipulator struct {
	Drives       []DriveConfig
	HostPort     int
	Follower     follower.Config
	StreamPeriod float64 // seconds
}

// Load parses an ini-format file at path into a Manipulator. section
// layout:
//
//	[host]
//	port = 41136
//
//	[drive:axis-x]
//	ip = 192.168.131.251
//	port = 49360
//	min_position = -0.20
//	max_position = 0.20
//
//	[follower]
//	max_velocity = 0.02
//	...
func Load(path string) (*Manipulator, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Manipulator, error) {
	m := &Manipulator{HostPort: 41136}

	host := f.Section("host")
	if host.HasKey("port") {
		m.HostPort = host.Key("port").MustInt(41136)
	}

	for _, section := range f.Sections() {
		name := section.Name()
		axis, ok := parseAxisSectionName(name)
		if !ok {
			continue
		}
		ip := section.Key("ip").String()
		if ip == "" {
			return nil, fmt.Errorf("config: drive section %q missing ip", name)
		}
		port := section.Key("port").MustInt(49360)
		addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
		if addr.IP == nil {
			return nil, fmt.Errorf("config: drive section %q has invalid ip %q", name, ip)
		}
		monitoring, err := parseMonitoringSlots(section)
		if err != nil {
			return nil, fmt.Errorf("config: drive section %q: %w", name, err)
		}

		m.Drives = append(m.Drives, DriveConfig{
			Name:       axis,
			Addr:       addr,
			MinPos:     section.Key("min_position").MustFloat64(0),
			MaxPos:     section.Key("max_position").MustFloat64(0),
			Monitoring: monitoring,
		})
	}

	fol := f.Section("follower")
	m.Follower = follower.Config{
		MaxVelocity:       fol.Key("max_velocity").MustFloat64(0.1),
		MaxAcceleration:   fol.Key("max_acceleration").MustFloat64(1.0),
		MinVelocity:       fol.Key("min_velocity").MustFloat64(0.001),
		AggregationWeight: fol.Key("aggregation_weight").MustFloat64(1.0),
		FutureWeight:      fol.Key("future_weight").MustFloat64(0.5),
		OffPathWeight:     fol.Key("off_path_weight").MustFloat64(1.0),
		EndVectorWeight:   fol.Key("end_vector_weight").MustFloat64(0.05),
		SoftCornerWeight:  fol.Key("soft_corner_weight").MustFloat64(0.5),
		SharpCornerWeight: fol.Key("sharp_corner_weight").MustFloat64(0.9),
		NextTargetTol:     fol.Key("next_target_tol").MustFloat64(0.002),
	}

	m.StreamPeriod = f.Section("stream").Key("period_seconds").MustFloat64(0.009)

	return m, nil
}

// parseAxisSectionName extracts the axis name from a "drive:<name>"
// section header, reporting false for any other section.
func parseAxisSectionName(section string) (string, bool) {
	const prefix = "drive:"
	if len(section) <= len(prefix) || section[:len(prefix)] != prefix {
		return "", false
	}
	return section[len(prefix):], true
}

// parseMonitoringSlots reads up to four "monitorN" keys, each formatted
// "Description|Unit|ConversionFactor|Type" (Type one of sint16, uint16,
// sint32, uint32). A missing key leaves that slot nil, consuming 4 bytes
// of padding when the monitoring_channel field is decoded.
func parseMonitoringSlots(section *ini.Section) (codec.MonitoringSlots, error) {
	var slots codec.MonitoringSlots
	for i := 0; i < len(slots); i++ {
		key := "monitor" + strconv.Itoa(i)
		if !section.HasKey(key) {
			continue
		}
		parts := strings.Split(section.Key(key).String(), "|")
		if len(parts) != 4 {
			return slots, fmt.Errorf("%s: expected 4 fields, got %d", key, len(parts))
		}
		conv, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return slots, fmt.Errorf("%s: conversion factor: %w", key, err)
		}
		typ, err := parseIntType(parts[3])
		if err != nil {
			return slots, fmt.Errorf("%s: %w", key, err)
		}
		slots[i] = &codec.CommandParameter{
			Description:      parts[0],
			Unit:             parts[1],
			ConversionFactor: conv,
			Type:             typ,
		}
	}
	return slots, nil
}

func parseIntType(s string) (codec.IntType, error) {
	switch s {
	case "sint16":
		return codec.Sint16, nil
	case "uint16":
		return codec.Uint16, nil
	case "sint32":
		return codec.Sint32, nil
	case "uint32":
		return codec.Uint32, nil
	default:
		return 0, fmt.Errorf("unknown type %q", s)
	}
}
