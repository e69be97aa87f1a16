package radixsort

import "log/slog"

// Option configures a Sorter during Open.
//
// Example:
//
//	s, err := radixsort.Open(ctx, dev,
//	    radixsort.WithRowsPerWorkgroup(12),
//	    radixsort.WithMaxDispatchDimension(65535),
//	)
type Option func(*options)

// options holds the resolved configuration for a Sorter.
type options struct {
	rowsPerWorkgroup int
	maxDispatchDim   uint32
	logger           *slog.Logger
}

func defaultOptions() options {
	return options{
		rowsPerWorkgroup: DefaultRowsPerWorkgroup,
		maxDispatchDim:   DefaultMaxDispatchDimension,
	}
}

// WithRowsPerWorkgroup sets W, the number of input rows each scatter
// workgroup processes. T*W (T=256) must fit in 32 bits; Open returns
// ErrInvalidRowsPerWorkgroup otherwise.
func WithRowsPerWorkgroup(w int) Option {
	return func(o *options) {
		o.rowsPerWorkgroup = w
	}
}

// WithMaxDispatchDimension overrides the per-dimension compute dispatch
// bound used to decide when C8 must split a dispatch. Defaults to
// 65535, the bound most compute APIs enforce. Open lowers it to the
// device's reported MaxComputeWorkgroupsPerDimension when that is
// smaller.
func WithMaxDispatchDimension(n uint32) Option {
	return func(o *options) {
		o.maxDispatchDim = n
	}
}

// WithLogger sets the logger this Sorter uses instead of the
// package-level logger configured via SetLogger. The subgroup-size
// warning that Open's probe may log still goes to the package-level
// logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func (o *options) effectiveLogger() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return Logger()
}
