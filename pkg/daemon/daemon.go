// Package daemon runs a converter as a service: it polls the status,
// exports metrics, serves an HTTP API, bridges to MQTT and records
// samples.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/robotalks/minghe.go/pkg/framework"
	"github.com/robotalks/minghe.go/pkg/minghe"
	"github.com/robotalks/minghe.go/pkg/minghe/comm"
	"github.com/robotalks/minghe.go/pkg/recorder"
	"github.com/robotalks/minghe.go/pkg/telemetry/metrics"
	"github.com/robotalks/minghe.go/pkg/telemetry/mqtt"
	"github.com/robotalks/minghe.go/pkg/telemetry/msgs"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server.
var ShutdownTimeout = 5 * time.Second

// PruneInterval is how often old samples are deleted.
var PruneInterval = time.Hour

// Daemon is a running dpsd.
type Daemon struct {
	Config     *Config
	ID         string
	Controller *Controller
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	API        *API
	Recorder   *recorder.Recorder
	Queue      *mqtt.Queue
	Bridge     *mqtt.Bridge

	model   uint16
	version uint16
	server  *http.Server
}

// New opens the converter and everything configured.
func New(conf *Config) (*Daemon, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	conv, err := conf.Converter().Open()
	if err != nil {
		return nil, err
	}
	d, err := NewWithConverter(conf, conv)
	if err != nil {
		conv.Close()
		return nil, err
	}
	return d, nil
}

// NewWithConverter builds the daemon around an opened converter.
func NewWithConverter(conf *Config, conv *minghe.Converter) (*Daemon, error) {
	d := &Daemon{
		Config:     conf,
		ID:         conf.DeviceID(),
		Controller: NewController(conv, conf.Poll.Interval),
		Registry:   metrics.NewRegistry(),
	}
	d.Metrics = metrics.New(d.Registry)
	conv.Client().Observer = d.Metrics

	var err error
	if d.model, err = conv.MachineModel(); err != nil {
		glog.Warningf("read model: %v", err)
	}
	if d.version, err = conv.CommunicationVersion(); err != nil {
		glog.Warningf("read version: %v", err)
	}

	d.Controller.Sinks = append(d.Controller.Sinks, StatusSinkFunc(
		func(s *minghe.Status, err error, _ time.Time) {
			d.Metrics.ObserveStatus(s, err)
		}))

	if conf.Recorder.DSN != "" {
		if d.Recorder, err = recorder.Open(conf.Recorder.DSN, d.ID); err != nil {
			d.Close()
			return nil, err
		}
		d.Controller.Sinks = append(d.Controller.Sinks, StatusSinkFunc(d.record))
	}

	if conf.MQTT.URL != "" {
		if d.Queue, err = mqtt.NewQueueFromURL(conf.MQTT.URL); err != nil {
			d.Close()
			return nil, err
		}
		d.Bridge = mqtt.NewBridge(d.Queue, d.ID, mqtt.ExecuteFunc(d.remoteSet))
		d.Controller.Sinks = append(d.Controller.Sinks, StatusSinkFunc(d.publish))
	}

	d.API = &API{
		Device:         d.Controller,
		DeviceID:       d.ID,
		Metrics:        metrics.Handler(d.Registry),
		Limiter:        rate.NewLimiter(rate.Limit(conf.Limits.WritesPerSecond), conf.Limits.Burst),
		CommandTimeout: conf.HTTP.CommandTimeout,
	}
	d.server = &http.Server{
		Addr:         conf.HTTP.Addr,
		Handler:      d.API.Handler(),
		ReadTimeout:  conf.HTTP.ReadTimeout,
		WriteTimeout: conf.HTTP.WriteTimeout,
	}
	return d, nil
}

// Run runs until ctx is canceled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	if d.Bridge != nil {
		if err := d.startMQTT(); err != nil {
			return err
		}
	}
	runner := framework.NewRunnerWith(ctx)
	runner.Go(d.Controller, framework.NamedRun("http", framework.RunFunc(d.serveHTTP)))
	if d.Recorder != nil && d.Config.Recorder.Retention > 0 {
		runner.Go(framework.NamedRun("prune", framework.RunFunc(d.prune)))
	}
	glog.Infof("%s serving on %s", d.ID, d.Config.HTTP.Addr)
	err := runner.Wait()
	if d.Bridge != nil {
		d.Bridge.Stop()
	}
	return err
}

// Close releases the converter and connections.
func (d *Daemon) Close() error {
	var errs framework.AggregatedError
	if d.Queue != nil {
		errs.Add(d.Queue.Close())
	}
	if d.Recorder != nil {
		errs.Add(d.Recorder.Close())
	}
	errs.Add(d.Controller.Converter.Close())
	return errs.Aggregate()
}

func (d *Daemon) startMQTT() error {
	if err := d.Queue.Connect(); err != nil {
		return err
	}
	if err := d.Bridge.Start(); err != nil {
		return err
	}
	return d.Bridge.PublishMeta(&mqtt.Meta{
		Device:   d.ID,
		Port:     d.Config.Device.Port,
		Address:  d.Controller.Converter.Address(),
		Model:    d.model,
		Version:  d.version,
		Commands: comm.Commands(),
	})
}

func (d *Daemon) serveHTTP(ctx context.Context) error {
	return framework.RunWithContextCancel(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		d.server.Shutdown(shutdownCtx)
	}, func() error {
		err := d.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
}

func (d *Daemon) prune(ctx context.Context) error {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			n, err := d.Recorder.Prune(t.Add(-d.Config.Recorder.Retention))
			if err != nil {
				glog.Errorf("prune samples: %v", err)
			} else if n > 0 {
				glog.V(1).Infof("pruned %d samples", n)
			}
		}
	}
}

func (d *Daemon) record(s *minghe.Status, err error, at time.Time) {
	if recErr := d.Recorder.Record(s, err, at); recErr != nil {
		glog.Errorf("record sample: %v", recErr)
	}
}

func (d *Daemon) publish(s *minghe.Status, err error, at time.Time) {
	t := msgs.NewTelemetry(d.ID, uint32(d.Controller.Converter.Address()), d.model, s, err, at)
	if pubErr := d.Bridge.PublishTelemetry(t); pubErr != nil {
		glog.Warningf("publish telemetry: %v", pubErr)
	}
}

func (d *Daemon) remoteSet(name string, value uint32) error {
	ctx := context.Background()
	if timeout := d.Config.HTTP.CommandTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.Controller.Set(ctx, name, value)
}
