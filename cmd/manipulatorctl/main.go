// Command manipulatorctl boots a manipulator from manipulator.ini and runs
// one subcommand against it: switch-on, home, ack, stream, or follow.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/oskarau/manipulatorctl/internal/config"
	"github.com/oskarau/manipulatorctl/internal/metrics"
	"github.com/oskarau/manipulatorctl/internal/netutil"
	"github.com/oskarau/manipulatorctl/pkg/controller"
	"github.com/oskarau/manipulatorctl/pkg/drive"
	"github.com/oskarau/manipulatorctl/pkg/follower"
	"github.com/oskarau/manipulatorctl/pkg/telemetry"
	"github.com/oskarau/manipulatorctl/pkg/transport"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	configPath := flag.String("config", "manipulator.ini", "path to manipulator.ini")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9110)")
	reusePort := flag.Bool("reuse-port", false, "set SO_REUSEPORT on the host UDP listener")
	verbose := flag.Bool("v", false, "debug logging")
	timeout := flag.Duration("timeout", 10*time.Second, "per-operation timeout")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: manipulatorctl [flags] <switch-on|home|ack|stream|follow> [path.csv]")
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	var reg *metrics.Registry
	if *metricsAddr != "" {
		reg = metrics.NewRegistry(prometheus.DefaultRegisterer)
		go func() {
			if err := metrics.Serve(*metricsAddr); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	var lc *net.ListenConfig
	if *reusePort {
		lc = netutil.ReusePortListenConfig()
	}
	ep, err := transport.NewEndpoint(cfg.HostPort, lc, log.NewEntry(log.StandardLogger()))
	if err != nil {
		log.WithError(err).Fatal("binding host endpoint")
	}
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	defer cancel()

	axes := make([]controller.Axis, len(cfg.Drives))
	minPos := make([]float64, len(cfg.Drives))
	maxPos := make([]float64, len(cfg.Drives))
	for i, dc := range cfg.Drives {
		w := drive.NewWorker(drive.Config{
			Name:       dc.Name,
			Peer:       dc.Addr,
			Monitoring: dc.Monitoring,
			Metrics:    reg,
		}, ep, log.NewEntry(log.StandardLogger()))
		w.Start(ctx)
		defer func(w *drive.Worker) {
			w.Stop()
			w.Wait()
		}(w)
		axes[i] = controller.Axis{Name: dc.Name, Drive: w}
		minPos[i] = dc.MinPos
		maxPos[i] = dc.MaxPos
	}
	ctl := controller.New(axes, log.NewEntry(log.StandardLogger()))

	switch cmd {
	case "switch-on":
		err = ctl.SwitchOn(ctx, *timeout)
	case "home":
		err = ctl.HomeSequence(ctx, *timeout, false)
	case "ack":
		err = ctl.AcknowledgeError(ctx)
	case "stream":
		err = ctl.StartStream(ctx, drive.StreamP)
	case "follow":
		err = runFollow(ctx, ctl, cfg, minPos, maxPos, flag.Arg(1))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

// runFollow loads a waypoint path from a two- or three-column CSV file and
// drives the manipulator along it with a closed-loop feedback cycle,
// recording a telemetry sample each cycle.
func runFollow(ctx context.Context, ctl *controller.Controller, cfg *config.Manipulator, minPos, maxPos []float64, csvPath string) error {
	if csvPath == "" {
		return fmt.Errorf("follow: a waypoint CSV path is required")
	}
	waypoints, err := loadWaypoints(csvPath, ctl.Len())
	if err != nil {
		return fmt.Errorf("follow: %w", err)
	}
	stepper := follower.NewStepper(waypoints, cfg.Follower)
	sink := telemetry.NewSink()

	period := time.Duration(cfg.StreamPeriod * float64(time.Second))
	if period <= 0 {
		period = 9 * time.Millisecond
	}
	return ctl.FeedbackLoop(ctx, stepper, minPos, maxPos, period, 0, sink)
}
