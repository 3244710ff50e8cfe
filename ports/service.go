package ports

import (
	"context"

	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
)

// ServiceAdapter sends one scenario's parameters to the service under test.
// Implementations must honour ctx cancellation; transport failures, timeouts
// and non-2xx responses are reported as core.InfrastructureError, contract
// violations as core.SchemaViolationError.
type ServiceAdapter interface {
	Call(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error)
}

// ServiceAdapterFunc adapts a function to ServiceAdapter.
type ServiceAdapterFunc func(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error)

func (f ServiceAdapterFunc) Call(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error) {
	return f(ctx, kind, params)
}
