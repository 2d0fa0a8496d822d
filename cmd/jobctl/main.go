// jobctl drives a device job from the command line: it submits a print,
// scan, copy or fax job against a device endpoint and streams the job's
// lifecycle events to the log until the job settles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ricoh-sdca/dapi/internal/app/jobflow"
	"github.com/ricoh-sdca/dapi/internal/bridge"
	"github.com/ricoh-sdca/dapi/internal/config"
	"github.com/ricoh-sdca/dapi/internal/config/fileloader"
	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/pkg/common/logger"
	"github.com/ricoh-sdca/dapi/pkg/common/otel"
)

var build = "develop"

func main() {
	_, _ = maxprocs.Set()

	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		service    = flag.String("service", "printer", "service to drive: printer, scanner, copy, fax")
		optionsArg = flag.String("options", "{}", "job options as inline JSON")
		fileURL    = flag.String("file", "", "file URL to download before printing")
		uploadURL  = flag.String("upload", "", "destination URL for scanned files")
		poll       = flag.Duration("poll", 2*time.Second, "job status poll interval")
	)
	flag.Parse()

	hostname, _ := os.Hostname()
	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("jobctl-%s", hostname)
	log := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logger.Events{},
		map[string]string{"service": svcName, "build": build})

	ctx := context.Background()
	if err := run(ctx, log, *configPath, *service, *optionsArg, *fileURL, *uploadURL, *poll); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, configPath, service, optionsArg, fileURL, uploadURL string, poll time.Duration) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := fileloader.NewFileLoader(configPath).Load(ctx)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	var options map[string]any
	if err := json.Unmarshal([]byte(optionsArg), &options); err != nil {
		return fmt.Errorf("parsing job options: %w", err)
	}

	var tracer trace.Tracer
	if cfg.Telemetry.Enabled {
		tp, teardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      "jobctl",
			ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
			Probability:      cfg.Telemetry.Probability,
			InsecureExporter: true,
		})
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer teardown(ctx)
		tracer = tp.Tracer("jobctl")
	} else {
		tracer = noop.NewTracerProvider().Tracer("jobctl")
	}

	client := rest.NewClient(cfg.Endpoint, &http.Client{Timeout: cfg.Transport.Timeout.Std()}, log, tracer)
	client.SetRateLimit(cfg.Transport.RequestsPerSecond, cfg.Transport.Burst)

	// The host shell binding lives outside this module; the in-memory
	// bridge stands in for local runs, and job progress is polled instead
	// of pushed.
	shell := bridge.NewFake()

	deps := jobflow.Deps{
		Transport: client,
		Bridge:    shell,
		Config:    cfg.Device,
		Logger:    log,
		Tracer:    tracer,
	}

	done := make(chan struct{})
	cb := eventCallbacks(ctx, log, done)

	var dev *jobflow.Device
	var start func() error

	switch service {
	case "printer":
		p := jobflow.NewPrinter(deps)
		dev = p.Device
		start = func() error {
			return p.Print(ctx, jobflow.PrintRequest{URL: fileURL, Options: options}, cb, nil)
		}
	case "scanner":
		s := jobflow.NewScanner(deps)
		dev = s.Device
		start = func() error {
			var upload *jobflow.UploadOptions
			if uploadURL != "" {
				upload = &jobflow.UploadOptions{URL: uploadURL}
			}
			return s.Scan(ctx, options, upload, cb, nil)
		}
	case "copy":
		c := jobflow.NewCopier(deps)
		dev = c.Device
		start = func() error { return c.Copy(ctx, options, cb, nil) }
	case "fax":
		f := jobflow.NewFax(deps)
		dev = f.Device
		start = func() error { return f.Send(ctx, options, cb, nil) }
	default:
		return fmt.Errorf("unknown service %q", service)
	}

	err := dev.Init(ctx, jobflow.InitCallbacks{
		OnReady:   func() { log.Info(ctx, "device ready") },
		OnUnready: func() { log.Warn(ctx, "device not ready") },
		OnAlert: func(id string, d *jobflow.Details) {
			log.Warn(ctx, "alert", "event", id, "process", d.Process)
		},
	})
	if err != nil {
		return fmt.Errorf("initializing device: %w", err)
	}

	if err := start(); err != nil {
		return fmt.Errorf("starting job: %w", err)
	}

	go pollJobs(ctx, dev, poll)

	select {
	case <-done:
		log.Info(ctx, "job settled")
	case <-ctx.Done():
		log.Info(ctx, "interrupted")
	}
	return nil
}

func eventCallbacks(ctx context.Context, log *logger.Logger, done chan struct{}) jobflow.Callbacks {
	event := func(kind string) func(id string, d *jobflow.Details) {
		return func(id string, d *jobflow.Details) {
			log.Info(ctx, kind, "event", id, "process", d.Process)
		}
	}
	return jobflow.Callbacks{
		OnRequesting:       event("requesting"),
		OnDone:             event("done"),
		OnProcessing:       event("processing"),
		OnProcessingUpdate: event("processing update"),
		OnStopped: func(id string, d *jobflow.Details) {
			if d.RemainingTime != nil {
				log.Info(ctx, "stopped", "event", id, "remaining", *d.RemainingTime)
				return
			}
			log.Info(ctx, "stopped", "event", id)
		},
		OnStoppedUpdate: event("stopped update"),
		OnCompleted: func(id string, d *jobflow.Details) {
			log.Info(ctx, "completed", "event", id)
			close(done)
		},
		OnAborted: func(id string, d *jobflow.Details) {
			log.Error(ctx, "aborted", "event", id, "status", d.StatusCode, "err", d.Error)
			close(done)
		},
		OnAlert:  event("alert"),
		OnNotify: event("notify"),
	}
}

// pollJobs substitutes for the device's push channel: it fetches each
// job's status on an interval and feeds it through the same event path a
// push would take.
func pollJobs(ctx context.Context, dev *jobflow.Device, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, jb := range dev.Jobs() {
			obj := jb.Obj()
			if obj == nil || obj.ID() == "" {
				continue
			}
			doc, err := obj.GetStatus(ctx)
			if err != nil {
				continue
			}

			raw, err := json.Marshal(doc)
			if err != nil {
				continue
			}
			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err != nil {
				continue
			}
			payload["jobId"] = obj.ID()
			event, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			_ = dev.LowLevel().HandleJobEvent(event)
		}
	}
}
