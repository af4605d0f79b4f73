package gateway

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig enables fail-fast when the remote api keeps faulting. Off unless Enabled.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// errFaultStatus is returned from inside the breaker for 5xx so that it counts as a failure.
var errFaultStatus = errors.New("fault status")

func newBreaker(cfg BreakerConfig, log logrus.FieldLogger) *gobreaker.CircuitBreaker[*Response] {
	if !cfg.Enabled {
		return nil
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:    "remote-api",
		Timeout: timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	})
}
