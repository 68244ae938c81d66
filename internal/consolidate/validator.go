package consolidate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/types"
)

// Validator decides whether a candidate unit may join a batch.
type Validator interface {
	// Validate returns an empty reason when the unit is acceptable. A
	// non-nil error means the check itself could not be made.
	Validate(ctx context.Context, batch, unit string) (reason string, err error)
}

// LeakValidator accepts a unit whose latest leak-rate measurement passes the
// gate or whose ledger history shows a passed leak step. A nil Gate skips
// the measurement lookup.
type LeakValidator struct {
	Gate     *quality.Gate
	Resolver *genealogy.Resolver
	Logger   *slog.Logger
}

func (v *LeakValidator) Validate(ctx context.Context, batch, unit string) (string, error) {
	if v.Gate != nil {
		ok, err := v.Gate.PassedLeakTest(ctx, unit)
		if err != nil {
			return "", err
		}
		if ok {
			return "", nil
		}
	}
	if v.Resolver == nil {
		return "no passing leak-rate measurement", nil
	}

	ok, err := v.Resolver.Resolve(ctx, batch, unit, types.StepLeak)
	switch {
	case errors.Is(err, genealogy.ErrCycle):
		if v.Logger != nil {
			v.Logger.Warn("genealogy cycle while validating candidate", "batch", batch, "unit", unit, "err", err)
		}
		return "ledger history is cyclic: " + err.Error(), nil
	case errors.Is(err, ledger.ErrNotFound):
		return "no passing leak-rate measurement", nil
	case err != nil:
		return "", err
	case !ok:
		return "no passing leak-rate measurement or leak step", nil
	}
	return "", nil
}
