// Package metrics exports pipeline stage durations and outcomes in the
// Prometheus text format, written to a file the node exporter's textfile
// collector picks up.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
	"github.com/bitswalk/lkb/src/common/paths"
	"github.com/bitswalk/lkb/src/lkb/build"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the metrics package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

const namespace = "lkb"

// Prom records pipeline events into its own registry
type Prom struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.HistogramVec
	stagesTotal   *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	lastRun       *prometheus.GaugeVec
	textfile      string
}

// NewProm creates a recorder; when textfile is set the registry is written
// there at the end of every run
func NewProm(textfile string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Build stage duration by stage and status",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"stage", "status"}),
		stagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Build stages finished by stage and status",
		}, []string{"stage", "status"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Build runs finished by result",
		}, []string{"result"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last build run finished, by kernel version and exit code",
		}, []string{"version", "exit_code"}),
		textfile: paths.Expand(textfile),
	}
	p.registry.MustRegister(p.stageDuration, p.stagesTotal, p.runsTotal, p.lastRun)
	return p
}

// Registry returns the registry holding the pipeline metrics
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

var _ build.Observer = (*Prom)(nil)

// RunStarted implements build.Observer
func (p *Prom) RunStarted(bc *build.BuildContext) {}

// StageStarted implements build.Observer
func (p *Prom) StageStarted(bc *build.BuildContext, stage build.StageName) {}

// StageFinished implements build.Observer
func (p *Prom) StageFinished(bc *build.BuildContext, outcome build.StageOutcome) {
	stage, status := string(outcome.Stage), string(outcome.Status)
	p.stageDuration.WithLabelValues(stage, status).Observe(outcome.Duration.Seconds())
	p.stagesTotal.WithLabelValues(stage, status).Inc()
}

// RunFinished implements build.Observer
func (p *Prom) RunFinished(bc *build.BuildContext, err error) {
	result := "succeeded"
	if err != nil {
		result = "failed"
	}
	p.runsTotal.WithLabelValues(result).Inc()

	p.lastRun.Reset()
	p.lastRun.WithLabelValues(bc.Version.Version, strconv.Itoa(errors.GetExitCode(err))).Set(float64(time.Now().Unix()))

	if p.textfile == "" {
		return
	}
	if err := p.WriteTextfile(); err != nil {
		log.Warn("Failed to write metrics textfile", "path", p.textfile, "error", err)
	}
}

// WriteTextfile writes the registry to the configured file atomically
func (p *Prom) WriteTextfile() error {
	if err := paths.EnsureDir(p.textfile); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(p.textfile, p.registry)
}
