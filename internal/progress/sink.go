package progress

import (
	"math"

	"github.com/sloppy/codeshield/internal/model"
)

// Update is one progress report from a running stage.
type Update struct {
	Stage   model.Stage
	Current int
	Total   int
	File    string
	Message string
}

// Percent is round(Current/Total*100), clamped to [0,100]. A zero total reports 0.
func (u Update) Percent() int {
	return Percent(u.Current, u.Total)
}

func Percent(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	p := int(math.Round(float64(current) / float64(total) * 100))
	if p > 100 {
		return 100
	}
	return p
}

type Sink interface {
	Report(Update)
}

type SinkFunc func(Update)

func (f SinkFunc) Report(u Update) {
	f(u)
}

type NoopSink struct{}

func (NoopSink) Report(Update) {}

// Multi fans every update out to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return SinkFunc(func(u Update) {
		for _, s := range out {
			s.Report(u)
		}
	})
}

// OrNoop returns s, or a NoopSink when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return NoopSink{}
	}
	return s
}
