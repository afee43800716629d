package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/sensorframe/internal/config"
	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/sensor/monitor"
	"github.com/banshee-data/sensorframe/internal/sensor/recorder"
	"github.com/banshee-data/sensorframe/internal/sensor/sim"
	"github.com/banshee-data/sensorframe/internal/sensor/stream"
	"github.com/banshee-data/sensorframe/internal/timeutil"
	"github.com/banshee-data/sensorframe/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a sensor config JSON file (default: built-in defaults)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC frame stream listen address (overrides config; empty disables)")
	httpListen  = flag.String("http-listen", "", "HTTP monitor listen address (overrides config; empty disables)")
	logInterval = flag.Int("log-interval", 10, "Statistics logging interval in seconds (0 disables)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// flagSet reports whether name was given on the command line.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func loadConfig() (*config.SensorConfig, error) {
	cfg := config.EmptySensorConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadSensorConfig(*configPath); err != nil {
			return nil, err
		}
	}

	var grpcOverride, httpOverride *string
	if flagSet("grpc-listen") {
		grpcOverride = grpcListen
	}
	if flagSet("http-listen") {
		httpOverride = httpListen
	}
	cfg.SetListenOverrides(grpcOverride, httpOverride)
	return cfg, nil
}

// openLogWriter resolves a log destination. The returned closer is nil for
// the standard streams.
func openLogWriter(dest string) (io.Writer, io.Closer, error) {
	switch dest {
	case config.LogOff:
		return nil, nil, nil
	case config.LogStdout:
		return os.Stdout, nil, nil
	case config.LogStderr:
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", dest, err)
	}
	return f, f, nil
}

func setupLogging(cfg *config.SensorConfig) (func(), error) {
	var closers []io.Closer
	cleanup := func() {
		sensor.SetLogWriters(sensor.LogWriters{})
		for _, c := range closers {
			c.Close()
		}
	}

	var writers [3]io.Writer
	for i, dest := range []string{cfg.GetLogOps(), cfg.GetLogDiag(), cfg.GetLogTrace()} {
		w, c, err := openLogWriter(dest)
		if err != nil {
			cleanup()
			return nil, err
		}
		writers[i] = w
		if c != nil {
			closers = append(closers, c)
		}
	}
	sensor.SetLogWriters(sensor.LogWriters{Ops: writers[0], Diag: writers[1], Trace: writers[2]})
	return cleanup, nil
}

// sensorStream is one running sensor: its synthetic device and the reader
// context enriching its frames.
type sensorStream struct {
	device *sim.Device
	reader *sensor.ReaderContext
}

func startStreams(ctx context.Context, cfg *config.SensorConfig, tracker *sim.Tracker, sink sensor.Sink) ([]sensorStream, error) {
	width, height := cfg.GetImageSize()
	offset, fixedOffset := cfg.GetClockOffset()

	var streams []sensorStream
	for _, st := range cfg.GetSensorTypes() {
		device, err := sim.NewDevice(sim.DeviceConfig{
			SensorType: st,
			Width:      width,
			Height:     height,
			FrameRate:  cfg.GetFrameRateHz(),
			Tracker:    tracker,
		})
		if err != nil {
			stopStreams(streams)
			return nil, fmt.Errorf("failed to create %s device: %w", st, err)
		}

		conv := timeutil.NewTimeConverter(offset)
		if !fixedOffset {
			conv = timeutil.CalibrateTimeConverter(timeutil.RealClock{}, device)
		}
		sensor.Opsf("%s: relative-to-universal offset %d ticks (calibrated=%v)", st, conv.Offset(), !fixedOffset)

		rc := sensor.NewReaderContext(sensor.ReaderContextConfig{
			SensorType: st,
			Converter:  conv,
			Spatial:    tracker,
			Sink:       sink,
		})
		rc.Attach(device)

		if err := device.Start(ctx); err != nil {
			stopStreams(streams)
			return nil, fmt.Errorf("failed to start %s device: %w", st, err)
		}
		streams = append(streams, sensorStream{device: device, reader: rc})
	}
	return streams, nil
}

func stopStreams(streams []sensorStream) {
	for _, s := range streams {
		if err := s.device.Stop(); err != nil {
			log.Printf("failed to stop %s device: %v", s.reader.SensorType(), err)
		}
	}
}

func logStats(ctx context.Context, interval time.Duration, streams []sensorStream, rec *recorder.Recorder, pub *stream.Publisher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range streams {
				st := s.reader.Stats()
				sensor.Opsf("%s: arrived=%d enriched=%d dropped=%d pose_failures=%d origin_misses=%d view_misses=%d",
					s.reader.SensorType(), st.Arrived, st.Enriched, st.Dropped, st.PoseFailures, st.OriginMisses, st.ViewMisses)
			}
			if rec != nil {
				rs := rec.Stats()
				sensor.Opsf("recorder: written=%d dropped=%d failed=%d", rs.Written, rs.Dropped, rs.Failed)
			}
			if pub != nil {
				ps := pub.Stats()
				sensor.Opsf("stream: clients=%d frames=%d dropped=%d client_drops=%d",
					ps.ClientCount, ps.FrameCount, ps.DroppedFrames, ps.ClientDrops)
			}
		}
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cleanupLogs, err := setupLogging(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer cleanupLogs()
	sensor.Opsf("%s starting", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trackerCfg := sim.DefaultTrackerConfig()
	trackerCfg.History = cfg.GetPoseHistory()
	trackerCfg.Tolerance = timeutil.TicksFromDuration(cfg.GetPoseTolerance())
	trackerCfg.FailEvery = cfg.GetPoseFailureEvery()
	tracker := sim.NewTracker(trackerCfg)

	// Only configured sinks join the fan-out; a nil *Recorder would not be
	// a nil Sink.
	trail := monitor.NewPoseTrail(cfg.GetTrailSize())
	sinks := sensor.MultiSink{trail}

	var rec *recorder.Recorder
	if path := cfg.GetDBPath(); path != "" {
		rec, err = recorder.Open(path, recorder.Options{
			QueueSize:    cfg.GetRecorderQueue(),
			RecordPixels: cfg.GetRecordPixels(),
		})
		if err != nil {
			log.Fatalf("Failed to open recorder: %v", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Failed to close recorder: %v", err)
			}
		}()
		sinks = append(sinks, rec)
		sensor.Opsf("recording session %s to %s", rec.SessionID(), path)
	}

	var pub *stream.Publisher
	if addr := cfg.GetGRPCListen(); addr != "" {
		pubCfg := stream.DefaultConfig()
		pubCfg.ListenAddr = addr
		pubCfg.IncludePixels = cfg.GetStreamPixels()
		pubCfg.MaxClients = cfg.GetStreamMaxClients()
		pub = stream.NewPublisher(pubCfg)
		if err := pub.Start(); err != nil {
			log.Fatalf("Failed to start frame stream: %v", err)
		}
		defer pub.Stop()
		sinks = append(sinks, pub)
	}

	streams, err := startStreams(ctx, cfg, tracker, sinks)
	if err != nil {
		log.Fatalf("Failed to start sensor streams: %v", err)
	}
	defer stopStreams(streams)

	var wg sync.WaitGroup

	if *logInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logStats(ctx, time.Duration(*logInterval)*time.Second, streams, rec, pub)
		}()
	}

	if addr := cfg.GetHTTPListen(); addr != "" {
		readers := make([]*sensor.ReaderContext, 0, len(streams))
		for _, s := range streams {
			readers = append(readers, s.reader)
		}
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address:   addr,
			Readers:   readers,
			Trail:     trail,
			Recorder:  rec,
			Publisher: pub,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("HTTP monitor error: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	sensor.Opsf("shutting down")
	wg.Wait()
}
