// Package wait polls conditions with configurable backoff strategies.
// The bot uses it to retry connecting at startup and to wait for a
// connection to reach a given status.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrTimeout           = errors.New("wait: timeout exceeded")
	ErrMaxRetriesReached = errors.New("wait: maximum retries reached")
	ErrCanceled          = errors.New("wait: operation canceled")
)

// ConditionFunc returns true once the condition is met
type ConditionFunc func() (bool, error)

// Strategy yields the delay before each new attempt
type Strategy interface {
	Next() (time.Duration, bool)
	Reset()
}

// Options configures wait behavior
type Options struct {
	MaxRetries int           // 0 retries forever
	Timeout    time.Duration // 0 never times out
	Strategy   Strategy
	Context    context.Context
}

// DefaultOptions returns default wait options
func DefaultOptions() *Options {
	return &Options{
		MaxRetries: 10,
		Timeout:    30 * time.Second,
		Strategy:   Fixed(time.Second),
		Context:    context.Background(),
	}
}

// WithMaxRetries sets the maximum number of attempts
func (o *Options) WithMaxRetries(n int) *Options {
	o.MaxRetries = n
	return o
}

// WithTimeout sets the overall timeout
func (o *Options) WithTimeout(d time.Duration) *Options {
	o.Timeout = d
	return o
}

// WithStrategy sets the wait strategy
func (o *Options) WithStrategy(s Strategy) *Options {
	o.Strategy = s
	return o
}

// WithContext sets the context for cancellation
func (o *Options) WithContext(ctx context.Context) *Options {
	o.Context = ctx
	return o
}

// Until checks condition until it returns true, returns an error or the
// options give up
func Until(condition ConditionFunc, opts ...*Options) error {
	options := mergeOptions(opts...)

	ctx := options.Context
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	options.Strategy.Reset()
	attempts := 0

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("wait: condition error: %w", err)
		}
		if ok {
			return nil
		}

		attempts++
		if options.MaxRetries > 0 && attempts >= options.MaxRetries {
			return ErrMaxRetriesReached
		}

		delay, ok := options.Strategy.Next()
		if !ok {
			return ErrMaxRetriesReached
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ErrCanceled
		case <-timer.C:
		}
	}
}

// Poll calls fn until it succeeds, the last error is wrapped in the result
func Poll(fn func() error, opts ...*Options) error {
	var last error
	err := Until(func() (bool, error) {
		last = fn()
		return last == nil, nil
	}, opts...)
	if err != nil && last != nil {
		return fmt.Errorf("%w: %w", err, last)
	}
	return err
}

// mergeOptions picks the first options, filling what they leave unset
func mergeOptions(opts ...*Options) *Options {
	if len(opts) == 0 || opts[0] == nil {
		return DefaultOptions()
	}
	options := *opts[0]
	if options.Strategy == nil {
		options.Strategy = Fixed(time.Second)
	}
	if options.Context == nil {
		options.Context = context.Background()
	}
	return &options
}
