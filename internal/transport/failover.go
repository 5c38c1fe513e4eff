package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/message"
)

const (
	unhealthyThreshold = 3
	defaultCooldown    = 30 * time.Second
)

// ErrNoHealthyTransport is wrapped in the SendError returned when every
// transport in a Failover is cooling down.
var ErrNoHealthyTransport = errors.New("no healthy transport available")

// HealthStatus is the passive health of one transport, derived from its
// recent sends.
type HealthStatus struct {
	Healthy             bool
	ConsecutiveFailures int
	LastFailure         time.Time
	LastError           string
}

// Failover tries transports in order. A transport that fails
// unhealthyThreshold times in a row is skipped until the cooldown has
// passed, after which one trial send is allowed. Permanent failures are
// returned at once because another transport would reject them too.
// Health is tracked per position, so two relays of the same kind are kept
// apart.
type Failover struct {
	transports []Transport
	cooldown   time.Duration
	now        func() time.Time
	log        zerolog.Logger

	mu       sync.Mutex
	statuses []HealthStatus
}

// NewFailover wraps transports, the first being the primary.
func NewFailover(log zerolog.Logger, transports ...Transport) *Failover {
	f := &Failover{
		transports: transports,
		cooldown:   defaultCooldown,
		now:        time.Now,
		log:        log,
		statuses:   make([]HealthStatus, len(transports)),
	}
	for i := range f.statuses {
		f.statuses[i].Healthy = true
	}
	return f
}

// Name joins the member names, e.g. "failover(smtp,resend)".
func (f *Failover) Name() string {
	name := "failover("
	for i, t := range f.transports {
		if i > 0 {
			name += ","
		}
		name += t.Name()
	}
	return name + ")"
}

func (f *Failover) Send(ctx context.Context, msg *message.Prepared) error {
	var lastErr error
	for i, t := range f.transports {
		if !f.available(i) {
			continue
		}
		err := t.Send(ctx, msg)
		f.record(i, err)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		f.log.Warn().Err(err).Str("transport", t.Name()).Int("member", i).Msg("transport failed, trying next")
		lastErr = err
	}
	if lastErr == nil {
		return &SendError{Transport: f.Name(), Err: ErrNoHealthyTransport}
	}
	return lastErr
}

// Status returns the health of the i-th transport, counting from the
// primary at 0.
func (f *Failover) Status(i int) (HealthStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.statuses) {
		return HealthStatus{}, false
	}
	return f.statuses[i], true
}

func (f *Failover) available(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &f.statuses[i]
	return s.Healthy || f.now().Sub(s.LastFailure) >= f.cooldown
}

func (f *Failover) record(i int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &f.statuses[i]
	// Permanent failures say nothing about the transport itself.
	if err == nil || IsPermanent(err) {
		s.ConsecutiveFailures = 0
		s.Healthy = true
		s.LastError = ""
		return
	}
	s.ConsecutiveFailures++
	s.LastFailure = f.now()
	s.LastError = err.Error()
	if s.ConsecutiveFailures >= unhealthyThreshold {
		if s.Healthy {
			f.log.Error().Str("transport", f.transports[i].Name()).Int("member", i).Msg("transport marked unhealthy")
		}
		s.Healthy = false
	}
}
