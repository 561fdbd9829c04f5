package event

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/atom/pkg/atom/config"
	"github.com/randalmurphal/atom/pkg/atom/executor"
)

// ErrInvalidPolicy is returned for an unknown failure_policy value.
var ErrInvalidPolicy = errors.New("invalid failure policy")

// ParseFailurePolicy parses "propagate" or "continue".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "propagate", "":
		return FailurePropagate, nil
	case "continue":
		return FailureContinue, nil
	default:
		return FailurePropagate, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// OptionsFromConfig reads bus options from a config section:
//
//	name: orders
//	failure_policy: continue
//	stop_on_cancelled: true
//	default_executor: io
//
// default_executor is looked up in execs, which may be nil when no
// executor is named.
func OptionsFromConfig(cfg config.Config, execs *executor.Registry) ([]Option, error) {
	var opts []Option
	if name := cfg.String("name", ""); name != "" {
		opts = append(opts, WithName(name))
	}

	policy, err := ParseFailurePolicy(cfg.String("failure_policy", ""))
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		WithFailurePolicy(policy),
		WithStopOnCancelled(cfg.Bool("stop_on_cancelled", false)),
	)

	if name := cfg.String("default_executor", ""); name != "" {
		if execs == nil {
			return nil, fmt.Errorf("default_executor %q: no executor registry", name)
		}
		exec, err := execs.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("default_executor: %w", err)
		}
		opts = append(opts, WithDefaultExecutor(exec))
	}
	return opts, nil
}
