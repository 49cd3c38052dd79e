package metrics

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type recordingClient struct {
	counts map[string]int64
	tags   [][]string
}

func (r *recordingClient) Gauge(name string, value float64, tags []string, rate float64) error {
	return nil
}

func (r *recordingClient) Count(name string, value int64, tags []string, rate float64) error {
	r.counts[name] += value
	r.tags = append(r.tags, tags)
	return nil
}

func (r *recordingClient) Histogram(name string, value float64, tags []string, rate float64) error {
	return nil
}

func (r *recordingClient) TimeInMilliseconds(name string, value float64, tags []string, rate float64) error {
	r.counts[name]++
	return nil
}

type metricsSuite struct {
	suite.Suite
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(metricsSuite))
}

func (s *metricsSuite) TestBumpSumPrefixesAndTags() {
	rec := &recordingClient{counts: map[string]int64{}}
	m := New("arbiter", WithoutPodName(), func(o *opt) { o.client = rec })

	m.BumpSum("accept", 1, "result", "ok")
	m.BumpSum("accept", 2, "result", "ok")
	m.BumpTime("accept.time").End()

	s.Equal(int64(3), rec.counts["arbiter.accept"])
	s.Equal(int64(1), rec.counts["arbiter.accept.time"])
	s.Contains(rec.tags[0], "result:ok")
}

func (s *metricsSuite) TestOddTagsRecovered() {
	rec := &recordingClient{counts: map[string]int64{}}
	m := New("arbiter", func(o *opt) { o.client = rec })
	s.NotPanics(func() { m.BumpSum("accept", 1, "dangling") })
	s.Equal(int64(1), rec.counts["bumpsum.panic"])
}

func (s *metricsSuite) TestParseTag() {
	s.Nil(parseTag(nil))
	s.Equal([]string{"a:b", "c:d"}, parseTag([]string{"a", "b", "c", "d"}))
}
