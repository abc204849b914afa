package saga

import (
	"context"

	"orderflow-be/internal/logger"

	"go.uber.org/zap"
)

// Step is one unit of work in a multi-collaborator transaction. Every step
// carries the compensating action that undoes its side effects.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator runs steps in order. When a step fails, the steps that
// already succeeded are compensated in reverse order.
type Orchestrator struct {
	steps []Step
}

func NewOrchestrator(steps ...Step) *Orchestrator {
	return &Orchestrator{steps: steps}
}

func (o *Orchestrator) Run(ctx context.Context) error {
	log := logger.FromCtx(ctx).With(zap.String("layer", "saga"))

	var done []Step
	for _, step := range o.steps {
		log.Debug("executing step", zap.String("step", step.Name()))
		if err := step.Execute(ctx); err != nil {
			log.Warn("step failed, compensating",
				zap.String("step", step.Name()),
				zap.Error(err),
			)
			o.rollback(ctx, done)
			return err
		}
		done = append(done, step)
	}

	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, done []Step) {
	log := logger.FromCtx(ctx).With(zap.String("layer", "saga"))

	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if err := step.Compensate(ctx); err != nil {
			// Nothing left to unwind into; this needs an operator.
			log.Error("compensation failed",
				zap.String("step", step.Name()),
				zap.Error(err),
			)
		}
	}
}
