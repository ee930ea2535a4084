package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.jpl.nasa.gov/bdube/ivtrace/generichttp/source"
	"github.jpl.nasa.gov/bdube/ivtrace/keysight"
	"github.jpl.nasa.gov/bdube/ivtrace/psu"
	"github.jpl.nasa.gov/bdube/ivtrace/riden"
	"github.jpl.nasa.gov/bdube/ivtrace/trace"
)

// ChannelSetup holds the construction parameters for one supply channel.
// It is to be populated from the yaml config file.
type ChannelSetup struct {
	// Label identifies the channel in notices, errors, and metrics
	Label string `yaml:"Label"`

	// Type is the kind of instrument backing the channel, e.g. e36 or rd60xx
	Type string `yaml:"Type"`

	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:5025 for a LAN instrument, or /dev/ttyUSB0 for
	// one on a serial cable
	Addr string `yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	// Station is the modbus station address, only used by rd60xx channels
	Station int `yaml:"Station"`

	// Polarity is +1 or -1 and flips every reported value for this channel
	Polarity float64 `yaml:"Polarity"`

	// MockOhms is the resistance of the model load on a mock channel
	MockOhms float64 `yaml:"MockOhms"`

	Test trace.TestParams  `yaml:"Test"`
	Idle *trace.IdleParams `yaml:"Idle"`
}

// Config holds the initialization parameters for a trace run or serve
// session.  It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at in serve mode
	Addr string `yaml:"Addr"`

	// NRep is the number of repeated readings aggregated per grid point
	NRep int `yaml:"NRep"`

	// Aggregate selects the statistic combining repetitions, mean or median
	Aggregate string `yaml:"Aggregate"`

	// IdleSecs holds the idle bias point between points for this long
	IdleSecs float64 `yaml:"IdleSecs"`

	// PreheatSecs holds the idle bias point before the grid starts
	PreheatSecs float64 `yaml:"PreheatSecs"`

	// LogFile, if set, receives a copy of every output row
	LogFile string `yaml:"LogFile"`

	// Ch1 is the inner (fast) sweep channel, Ch2 the outer
	Ch1 ChannelSetup `yaml:"Ch1"`
	Ch2 ChannelSetup `yaml:"Ch2"`
}

func mockCaps() psu.Capabilities {
	return psu.Capabilities{
		VMin: 0, VMax: 30, IMax: 5, PMax: 150,
		VResSet: 0.01, IResSet: 0.001, VResRead: 0.001, IResRead: 0.0001}
}

// BuildChannel constructs the instrument named by the setup's type and wraps
// it for the engine
func BuildChannel(s ChannelSetup) (*trace.Channel, error) {
	var src psu.Source
	typ := strings.ToLower(s.Type)
	switch typ {
	case "e36", "e36312a", "keysight", "scpi":
		src = keysight.NewE36(s.Addr, s.Serial, keysight.E36312ACaps())

	case "rd60xx", "rd6006", "riden":
		station := byte(1)
		if s.Station != 0 {
			station = byte(s.Station)
		}
		src = riden.NewRD6006(s.Addr, station)

	case "mock", "sim":
		ohms := s.MockOhms
		if ohms <= 0 {
			ohms = 100
		}
		src = psu.NewSim(mockCaps(), func(v float64) float64 { return v / ohms })

	default:
		return nil, fmt.Errorf("channel type %q not understood", s.Type)
	}
	ch := trace.NewChannel(s.Label, s.Polarity, src)
	ch.Test = s.Test
	ch.Idle = s.Idle
	return ch, nil
}

func parseAggregate(s string) (trace.Aggregate, error) {
	switch strings.ToLower(s) {
	case "", "mean":
		return trace.AggMean, nil
	case "median":
		return trace.AggMedian, nil
	default:
		return trace.AggMean, fmt.Errorf("aggregate %q not understood, use mean or median", s)
	}
}

// registerGauges publishes live voltage and current readings for one channel.
// Each scrape triggers a fresh measurement; a dead instrument reads as NaN.
func registerGauges(label string, src psu.Source) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem:   "ivtrace",
			Name:        "supply_voltage_volts",
			Help:        "Measured output voltage of the supply.",
			ConstLabels: prometheus.Labels{"channel": label},
		},
		func() float64 {
			r, err := src.Read(1)
			if err != nil {
				return math.NaN()
			}
			return r.V
		}))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem:   "ivtrace",
			Name:        "supply_current_amps",
			Help:        "Measured output current of the supply.",
			ConstLabels: prometheus.Labels{"channel": label},
		},
		func() float64 {
			r, err := src.Read(1)
			if err != nil {
				return math.NaN()
			}
			return r.I
		}))
}

// BuildMux constructs a chi mux with one sub-router per configured channel
// and a prometheus scrape endpoint
func BuildMux(c Config) (chi.Router, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	for idx, setup := range []ChannelSetup{c.Ch1, c.Ch2} {
		ch, err := BuildChannel(setup)
		if err != nil {
			return nil, err
		}
		root.Mount(fmt.Sprintf("/ch%d", idx+1), source.NewHTTPSource(ch.Source))
		registerGauges(ch.Label, ch.Source)
	}
	root.Handle("/metrics", promhttp.Handler())
	return root, nil
}
