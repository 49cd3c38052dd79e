/*
Package metrics wraps datadog-go for metric recording.

Naming convention:
  - Internal process time: *.time
  - External latency: *.latency
  - Error: *.err
  - Warning: *.warn
*/
package metrics

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/x-xyz/bidding/base/env"
)

// Ender provides interface for BumpTime
type Ender interface {
	End()
}

// Service provides interface for metrics
type Service interface {
	BumpAvg(key string, val float64, tags ...string)
	BumpSum(key string, val float64, tags ...string)
	BumpHistogram(key string, val float64, tags ...string)

	BumpTime(key string, tags ...string) Ender
}

// Option is functional parameter for metrics option
type Option func(*opt)

type opt struct {
	withPodName bool
	client      statsCli
}

// WithoutPodName drops the pod tag
func WithoutPodName() Option {
	return func(o *opt) {
		o.withPodName = false
	}
}

// WithLogClient routes metrics to the debug log instead of the datadog agent
func WithLogClient() Option {
	return func(o *opt) {
		o.client = &LogClient{}
	}
}

// New creates a metric client with package name as prefix. Without
// datadog_host configured it falls back to the log client.
func New(pkgName string, options ...Option) Service {
	o := opt{
		withPodName: true,
	}
	if viper.GetString("datadog_host") == "" {
		o.client = &LogClient{}
	}
	for _, option := range options {
		option(&o)
	}

	tags := []string{
		"host:", // drop the agent host tag
		"env:" + viper.GetString("env_name"),
		"app:" + viper.GetString("app_name"),
	}
	if o.withPodName {
		tags = append(tags, "pod:"+env.PodName())
	}

	return &Metrics{
		pkgName: pkgName,
		client:  o.client,
		tags:    tags,
	}
}

type Metrics struct {
	pkgName string
	// nil means the shared datadog clients
	client statsCli
	tags   []string
}

func (mt *Metrics) cli() statsCli {
	if mt.client != nil {
		return mt.client
	}
	return ddClient()
}

func (mt *Metrics) key(key string) string {
	return mt.pkgName + "." + key
}

func (mt *Metrics) guard(typ, key string, tags []string) {
	if err := recover(); err != nil {
		_ = mt.cli().Count(typ+".panic", 1, []string{"tag:" + mt.key(key) + "#" + strings.Join(tags, "#")}, 1)
	}
}

// BumpAvg bumps the average for the given key.
func (mt *Metrics) BumpAvg(key string, val float64, tags ...string) {
	defer mt.guard("bumpavg", key, tags)
	report("BumpAvg", key, val, mt.cli().Gauge(mt.key(key), val, mt.withTags(tags), 1))
}

// BumpSum bumps the sum for the given key.
func (mt *Metrics) BumpSum(key string, val float64, tags ...string) {
	defer mt.guard("bumpsum", key, tags)
	report("BumpSum", key, val, mt.cli().Count(mt.key(key), int64(val), mt.withTags(tags), 1))
}

// BumpHistogram bumps the histogram for the given key.
func (mt *Metrics) BumpHistogram(key string, val float64, tags ...string) {
	defer mt.guard("bumphistogram", key, tags)
	report("BumpHistogram", key, val, mt.cli().Histogram(mt.key(key), val, mt.withTags(tags), 1))
}

// BumpTime starts a timer, End() records the elapsed milliseconds.
//
//	defer s.BumpTime("accept.time").End()
func (mt *Metrics) BumpTime(key string, tags ...string) Ender {
	return &timeTracker{
		start: time.Now(),
		end: func(ms float64) {
			defer mt.guard("bumptime", key, tags)
			report("BumpTime", key, ms, mt.cli().TimeInMilliseconds(mt.key(key), ms, mt.withTags(tags), 1))
		},
	}
}

func (mt *Metrics) withTags(tags []string) []string {
	out := make([]string, 0, len(mt.tags)+len(tags)/2)
	out = append(out, mt.tags...)
	return append(out, parseTag(tags)...)
}

type timeTracker struct {
	start time.Time
	end   func(ms float64)
}

func (t *timeTracker) End() {
	d := time.Since(t.start)
	t.end(float64(d) / float64(time.Millisecond))
}
