package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Transport log categories. Each fires from inside the tick loop and can
// repeat once per connection per tick, so they are sampled.
const (
	CategoryPoll     = "poll"
	CategoryAccept   = "accept"
	CategorySend     = "send"
	CategoryQueue    = "queue"
	CategoryDatagram = "datagram"
)

// SampledLogger wraps a Logger and drops repeated messages per category.
// Categories without a sampler always log.
type SampledLogger struct {
	Logger
	mu       *sync.RWMutex
	samplers map[string]*sampler
}

type sampler struct {
	gate   rate.Sometimes
	total  atomic.Int64
	logged atomic.Int64
}

func (s *sampler) allow() bool {
	s.total.Add(1)
	ok := false
	s.gate.Do(func() {
		ok = true
		s.logged.Add(1)
	})
	return ok
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name    string `json:"name"`
	Total   int64  `json:"total"`
	Logged  int64  `json:"logged"`
	Dropped int64  `json:"dropped"`
}

// NewSampledLogger creates a new sampled logger
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		Logger:   OrNull(base),
		mu:       &sync.RWMutex{},
		samplers: make(map[string]*sampler),
	}
}

// WithSampler configures a category: the first `first` messages always log,
// after that one every `every` messages and at most one per `interval`.
func (s *SampledLogger) WithSampler(category string, first, every int, interval time.Duration) *SampledLogger {
	s.mu.Lock()
	s.samplers[category] = &sampler{gate: rate.Sometimes{First: first, Every: every, Interval: interval}}
	s.mu.Unlock()
	return s
}

func (s *SampledLogger) allow(category string) bool {
	s.mu.RLock()
	smp, ok := s.samplers[category]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	return smp.allow()
}

// Sampled logs msg at level if the category's sampler lets it through.
func (s *SampledLogger) Sampled(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if !s.allow(category) {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields["category"] = category
	s.Logger.WithFields(fields).Log(level, msg)
}

// WarnWithCategory logs a sampled warning.
func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sampled(logrus.WarnLevel, category, msg, fields)
}

// DebugWithCategory logs a sampled debug message.
func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.Sampled(logrus.DebugLevel, category, msg, fields)
}

// Stats returns a snapshot of every configured sampler.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]SamplerStats, len(s.samplers))
	for name, smp := range s.samplers {
		total, logged := smp.total.Load(), smp.logged.Load()
		out[name] = SamplerStats{Name: name, Total: total, Logged: logged, Dropped: total - logged}
	}
	return out
}

// WithFields keeps the sampler state shared with the parent.
func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithFields(fields), mu: s.mu, samplers: s.samplers}
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithField(key, value), mu: s.mu, samplers: s.samplers}
}

func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{Logger: s.Logger.WithError(err), mu: s.mu, samplers: s.samplers}
}

// NewTransportLogger returns a sampled logger preconfigured for the
// transport's hot paths.
func NewTransportLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		// Unclassified receive errors repeat every tick until the peer goes away
		WithSampler(CategoryPoll, 3, 100, time.Second).
		WithSampler(CategoryAccept, 5, 50, time.Second).
		WithSampler(CategorySend, 5, 100, time.Second).
		WithSampler(CategoryQueue, 1, 1000, 5*time.Second).
		WithSampler(CategoryDatagram, 5, 500, time.Second)
}
