package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	"github.jpl.nasa.gov/bdube/ivtrace/trace"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ivtrace.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:      ":8000",
		NRep:      1,
		Aggregate: "mean",
		Ch1:       ChannelSetup{Label: "PSU1", Type: "mock", Polarity: 1},
		Ch2:       ChannelSetup{Label: "PSU2", Type: "mock", Polarity: 1}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `ivtrace traces the current-voltage behavior of a device under test using a
pair of programmable power supplies.  Channel 1 sweeps the fast axis of the
voltage grid and channel 2 the slow axis; rows are written to stdout as they
are measured.

Usage:
	ivtrace <command>

Commands:
	run
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `ivtrace is amenable to configuration via its .yaml file.  For a primer on YAML,
see https://yaml.org/start.html

Use mkconf to write a skeleton config with mock channels, then edit the
channel blocks to point at your hardware.

Supply types and matching "Type" fields, case insensitive:
- Keysight
	> E36xx series bench supplies "e36", "e36312a", "keysight", "scpi"
- Riden
	> RD60xx front panels (modbus RTU over USB serial) "rd60xx", "rd6006", "riden"
- Simulated
	> resistor model load, no hardware "mock", "sim"

Sweep bounds and limits outside the hardware's capability are clamped before
the run; every adjustment is printed as a notice.

To hold a bias point between measurements, populate the Idle block of each
channel.  Opening the idle voltage window (VIdleMin < VIdleMax) on exactly one
channel makes it the regulated one; its GM field must then hold a signed
transconductance estimate in A/V.

run drives the sweep from this machine.  serve exposes each channel over HTTP
for remote control instead, plus prometheus metrics on /metrics.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ivtrace version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	agg, err := parseAggregate(c.Aggregate)
	if err != nil {
		log.Fatal(err)
	}
	ch1, err := BuildChannel(c.Ch1)
	if err != nil {
		log.Fatal(err)
	}
	ch2, err := BuildChannel(c.Ch2)
	if err != nil {
		log.Fatal(err)
	}
	for _, notice := range trace.Reconcile(ch1) {
		log.Println("notice:", notice)
	}
	for _, notice := range trace.Reconcile(ch2) {
		log.Println("notice:", notice)
	}

	var w io.Writer = os.Stdout
	if c.LogFile != "" {
		f, err := os.Create(c.LogFile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		w = io.MultiWriter(os.Stdout, f)
	}

	// rows go to stdout, so the spinner lives on stderr
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Writer:            os.Stderr,
		Suffix:            " tracing",
		StopMessage:       "done",
		StopFailMessage:   "aborted",
		StopCharacter:     "+",
		StopFailCharacter: "x"})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	s := trace.Sweep{
		Ch1:         ch1,
		Ch2:         ch2,
		NRep:        c.NRep,
		IdleSecs:    c.IdleSecs,
		PreheatSecs: c.PreheatSecs,
		Agg:         agg,
		Rec:         trace.NewWriterRecorder(w)}
	if err := s.Run(); err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	spinner.Stop()
}

func serve() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux, err := BuildMux(c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "serve":
		serve()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
