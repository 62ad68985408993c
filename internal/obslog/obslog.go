// Package obslog wires go.uber.org/zap behind the github.com/go-logr/logr
// interface via zapr, the same pairing the reference controller uses
// (ctrl.SetLogger(zap.New(...))) so that every core component can accept
// a logr.Logger without depending on a concrete logging backend.
package obslog

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds a logr.Logger backed by zap. dev selects the reference
// tool's zap.Options{Development: true} console encoding; false selects
// the production JSON encoding.
func New(dev bool) (logr.Logger, error) {
	var zc zap.Config
	if dev {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	zl, err := zc.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

// Into returns a context carrying log for retrieval with FromContext, or
// with logr's own logr.FromContextOrDiscard.
func Into(ctx context.Context, log logr.Logger) context.Context {
	return logr.NewContext(ctx, log)
}

// FromContext returns the logger installed by Into, or the discard
// logger if none was installed.
func FromContext(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}
