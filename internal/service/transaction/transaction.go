package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/logger"
)

// State is the lifecycle position of a transaction.
type State int

// Transaction states.
const (
	StatePending State = iota
	StateApplying
	StateCommitted
	StateRolledBack
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Func is one unit of work inside a step.
type Func func(ctx context.Context) error

// Step is a forward action with its compensation and cleanup.
//
// Rollback is registered before Action runs and is therefore also invoked
// for the step that failed, so it must tolerate partially applied work.
// Cleanup runs once the transaction has committed or rolled back.
type Step struct {
	Name     string
	Action   Func
	Rollback Func
	Cleanup  Func
}

// Transaction is an explicit compensation stack.
type Transaction struct {
	id        string
	state     State
	rollbacks []namedFunc
	cleanups  []namedFunc
}

type namedFunc struct {
	name string
	fn   Func
}

var (
	// errNotApplying is returned when a step is run outside of Run.
	errNotApplying = errors.New("transaction is not applying")
	// errAlreadyStarted is returned when Run is called twice.
	errAlreadyStarted = errors.New("transaction already started")
)

// New creates a pending transaction.
func New() *Transaction {
	return &Transaction{
		id:    uuid.NewString(),
		state: StatePending,
	}
}

// ID returns the transaction identifier used in logs.
func (t *Transaction) ID() string { return t.id }

// State returns the current lifecycle state.
func (t *Transaction) State() State { return t.state }

// RunNew creates a transaction and runs body inside it.
func RunNew(ctx context.Context, body func(ctx context.Context, tx *Transaction) error) error {
	return New().Run(ctx, body)
}

// Run applies body and either commits or rolls back every step body ran.
//
// When body fails, compensations run in reverse order. A failing compensation
// does not stop the unwinding; its error is attached to the original failure
// as a *workload.RollbackError. Cleanups run after either outcome and their
// errors are only logged.
func (t *Transaction) Run(ctx context.Context, body func(ctx context.Context, tx *Transaction) error) error {
	if t.state != StatePending {
		return errAlreadyStarted
	}

	ctx = logger.WithKV(ctx, "transaction", t.id)

	t.state = StateApplying
	logger.DebugKV(ctx, "Transaction started")

	err := body(ctx, t)
	if err == nil {
		t.state = StateCommitted
		logger.DebugKV(ctx, "Transaction committed", "steps", len(t.rollbacks))
		t.cleanup(ctx)

		return nil
	}

	logger.WarnKV(ctx, "Rolling back transaction", "steps", len(t.rollbacks), "error", err)

	failures := t.rollback(ctx)
	t.state = StateRolledBack
	t.cleanup(ctx)

	if failures != nil {
		return &workload.RollbackError{Cause: err, Failures: failures}
	}

	return err
}

// Do runs one step. Cancellation of ctx prevents the step from starting but
// never interrupts a step that is already running.
func (t *Transaction) Do(ctx context.Context, step Step) error {
	if t.state != StateApplying {
		return fmt.Errorf("%w: %s", errNotApplying, t.state)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("step %s: %w", step.Name, err)
	}

	if step.Rollback != nil {
		t.rollbacks = append(t.rollbacks, namedFunc{name: step.Name, fn: step.Rollback})
	}

	if step.Cleanup != nil {
		t.cleanups = append(t.cleanups, namedFunc{name: step.Name, fn: step.Cleanup})
	}

	if step.Action == nil {
		return nil
	}

	logger.DebugKV(ctx, "Applying step", "step", step.Name)

	if err := step.Action(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("step %s: %w", step.Name, err)
	}

	return nil
}

func (t *Transaction) rollback(ctx context.Context) *multierror.Error {
	var (
		result *multierror.Error
		// Compensations must complete even when the caller gave up.
		unwindCtx = context.WithoutCancel(ctx)
	)

	for i := len(t.rollbacks) - 1; i >= 0; i-- {
		compensation := t.rollbacks[i]

		if err := compensation.fn(unwindCtx); err != nil {
			logger.ErrorKV(ctx, "Compensation failed", "step", compensation.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("rollback %s: %w", compensation.name, err))
		}
	}

	t.rollbacks = nil

	return result
}

func (t *Transaction) cleanup(ctx context.Context) {
	unwindCtx := context.WithoutCancel(ctx)

	for i := len(t.cleanups) - 1; i >= 0; i-- {
		cleanup := t.cleanups[i]

		if err := cleanup.fn(unwindCtx); err != nil {
			logger.WarnKV(ctx, "Cleanup failed", "step", cleanup.name, "error", err)
		}
	}

	t.cleanups = nil
}
