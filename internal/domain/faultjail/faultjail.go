// Package faultjail provides the scoped error-isolation wrapper used at
// every boundary crossing into user-supplied or otherwise unreliable code:
// module runs, plugin ticks, the audit pipeline and its post-audit hook,
// and report generation. A faulting closure never aborts the caller; it is
// logged and the caller moves on to the next module, plugin, or report.
package faultjail

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/fathomsec/fathom/internal/ctxkey"
)

// Fatal wraps an error that must propagate past the jail instead of being
// swallowed. Use it for conditions equivalent to a process-termination
// signal — something the caller cannot sensibly continue past, such as the
// shared HTTP engine's transport being closed out from under a run.
type Fatal struct {
	Err error
}

func (f *Fatal) Error() string { return f.Err.Error() }
func (f *Fatal) Unwrap() error { return f.Err }

// NewFatal wraps err so Run re-raises it instead of recovering it.
func NewFatal(err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Err: err}
}

// Run executes fn under fault isolation. A panic inside fn is recovered and
// converted into a logged record plus a returned error, unless the
// recovered value is (or wraps) a *Fatal, in which case it is re-panicked
// unconditionally. An error returned by fn that wraps a *Fatal is likewise
// re-panicked after logging, so terminal conditions surfaced either way
// still propagate.
//
// label identifies the boundary being crossed ("module:sqli", "plugin:beacon",
// "audit", "report:html") and is attached to every log record Run emits.
// When ctx carries an enriched logger (scan_id, target), it takes
// precedence over the passed-in one.
func Run(ctx context.Context, logger *slog.Logger, label string, fn func() error) (err error) {
	logger = ctxkey.Logger(ctx, logger)
	defer func() {
		if r := recover(); r != nil {
			if f, ok := asFatal(r); ok {
				logger.ErrorContext(ctx, "faultjail: terminal panic, propagating",
					slog.String("label", label), slog.Any("panic", r))
				panic(f)
			}
			logger.ErrorContext(ctx, "faultjail: recovered panic",
				slog.String("label", label),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("faultjail: %s: recovered panic: %v", label, r)
		}
	}()

	err = fn()
	if err == nil {
		return nil
	}

	var fatal *Fatal
	if errAsFatal(err, &fatal) {
		logger.ErrorContext(ctx, "faultjail: terminal error, propagating",
			slog.String("label", label), slog.String("error", err.Error()))
		panic(fatal)
	}

	logger.ErrorContext(ctx, "faultjail: recovered error",
		slog.String("label", label), slog.String("error", err.Error()))
	return err
}

func asFatal(r any) (*Fatal, bool) {
	switch v := r.(type) {
	case *Fatal:
		return v, true
	case error:
		var f *Fatal
		if errAsFatal(v, &f) {
			return f, true
		}
	}
	return nil, false
}

func errAsFatal(err error, target **Fatal) bool {
	for err != nil {
		if f, ok := err.(*Fatal); ok {
			*target = f
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
