package breaker

import (
	"context"
	"errors"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/metrics"
)

const (
	MetricStateChanges = "breaker_state_changes_total"
	MetricRejects      = "breaker_rejects_total"

	labelKey  = "key"
	labelFrom = "from_state"
	labelTo   = "to_state"
)

type circuitBreaker struct {
	cfg    *Config
	logger clog.Logger

	stateChanges metrics.Counter
	rejects      metrics.Counter

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[struct{}]
}

func newBreaker(cfg *Config, opt options) (Breaker, error) {
	meter := opt.meter
	if meter == nil {
		meter = metrics.Discard()
	}
	stateChanges, err := meter.Counter(MetricStateChanges, "Circuit breaker state transitions.")
	if err != nil {
		return nil, err
	}
	rejects, err := meter.Counter(MetricRejects, "Calls rejected by an open circuit breaker.")
	if err != nil {
		return nil, err
	}

	opt.logger.Info("circuit breaker created",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))

	return &circuitBreaker{
		cfg:          cfg,
		logger:       opt.logger,
		stateChanges: stateChanges,
		rejects:      rejects,
	}, nil
}

func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() error) error {
	if key == "" {
		return ErrKeyEmpty
	}

	_, err := cb.getOrCreate(key).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		cb.rejects.Inc(ctx, metrics.L(labelKey, key))
		cb.logger.WarnContext(ctx, "circuit breaker rejected call", clog.String("key", key))
		return ErrOpenState
	}
	return err
}

func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}
	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed, nil
	}
	return fromGobreaker(val.(*gobreaker.CircuitBreaker[struct{}]).State()), nil
}

func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[struct{}] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[struct{}])
	}

	settings := gobreaker.Settings{
		Name:          key,
		MaxRequests:   cb.cfg.MaxRequests,
		Interval:      cb.cfg.Interval,
		Timeout:       cb.cfg.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
		// 调用方主动取消不代表后端故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	actual, _ := cb.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker[struct{}](settings))
	return actual.(*gobreaker.CircuitBreaker[struct{}])
}

func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from gobreaker.State, to gobreaker.State) {
	cb.stateChanges.Inc(context.Background(),
		metrics.L(labelKey, name),
		metrics.L(labelFrom, fromGobreaker(from).String()),
		metrics.L(labelTo, fromGobreaker(to).String()))
	cb.logger.Info("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", fromGobreaker(from).String()),
		clog.String("to", fromGobreaker(to).String()))
}

func fromGobreaker(state gobreaker.State) State {
	switch state {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
