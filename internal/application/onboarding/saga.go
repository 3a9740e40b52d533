package onboarding

import (
	"context"
	"log/slog"
	"sync"
)

// StepKind names a completed onboarding step that can be undone.
type StepKind string

const (
	StepIdentityCreated      StepKind = "identity-created"
	StepPrimaryRecordCreated StepKind = "primary-record-created"
	StepObjectStored         StepKind = "object-stored"
)

// completedStep is what compensation needs to undo one step. ObjectKey is set
// only for StepObjectStored, where Ref is the image record id.
type completedStep struct {
	Kind      StepKind
	Ref       string
	ObjectKey string
}

// sagaLog records steps in completion order. Concurrent asset workers append
// to it, so access is locked.
type sagaLog struct {
	mu    sync.Mutex
	steps []completedStep
}

func (l *sagaLog) record(s completedStep) {
	l.mu.Lock()
	l.steps = append(l.steps, s)
	l.mu.Unlock()
}

func (l *sagaLog) snapshot() []completedStep {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]completedStep, len(l.steps))
	copy(out, l.steps)
	return out
}

// compensate undoes every recorded step in reverse order. Each action runs
// regardless of earlier failures; failures are logged and not returned.
func (s *Service) compensate(ctx context.Context, log *sagaLog) {
	ctx = context.WithoutCancel(ctx)
	steps := log.snapshot()
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		for _, err := range s.undo(ctx, step) {
			slog.Error("compensation failed", "step", step.Kind, "ref", step.Ref, "err", err)
		}
	}
	slog.Info("onboarding rolled back", "steps", len(steps))
}

func (s *Service) undo(ctx context.Context, step completedStep) []error {
	var errs []error
	switch step.Kind {
	case StepObjectStored:
		if err := s.deps.Images.Delete(ctx, step.Ref); err != nil {
			errs = append(errs, err)
		}
		if err := s.deps.Objects.Delete(ctx, step.ObjectKey); err != nil {
			errs = append(errs, err)
		}
	case StepPrimaryRecordCreated:
		if err := s.deps.Hotels.Delete(ctx, step.Ref); err != nil {
			errs = append(errs, err)
		}
	case StepIdentityCreated:
		if err := s.deps.Users.Delete(ctx, step.Ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
