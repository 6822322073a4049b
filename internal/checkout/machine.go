package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/kv"
	"go.uber.org/zap"
)

const KeyState = "checkout:state"

// Step is the checkout page shown to the customer.
type Step int

const (
	StepSummary      Step = 1
	StepInformation  Step = 2
	StepConfirmation Step = 3
)

// ParseStep maps missing or out-of-range values to StepSummary.
func ParseStep(s string) Step {
	n, err := strconv.Atoi(s)
	if err != nil {
		return StepSummary
	}
	step := Step(n)
	if !step.Valid() {
		return StepSummary
	}
	return step
}

func (s Step) Valid() bool {
	return s >= StepSummary && s <= StepConfirmation
}

func (s Step) URL() string {
	return "/checkout?step=" + strconv.Itoa(int(s))
}

type State string

const (
	StateSummary     State = "summary"
	StateInformation State = "information"
	StatePlacing     State = "placing"
	StateConfirmed   State = "confirmed"
)

func (s State) Step() Step {
	switch s {
	case StateInformation, StatePlacing:
		return StepInformation
	case StateConfirmed:
		return StepConfirmation
	default:
		return StepSummary
	}
}

// Machine is the persisted checkout state of one session.
type Machine struct {
	State        State      `json:"state"`
	PlacingSince *time.Time `json:"placing_since,omitempty"`
	// AttemptKey identifies the current order attempt. It survives failed
	// attempts of the same cart and is replaced once an order is confirmed
	// or the cart changes between attempts.
	AttemptKey string `json:"attempt_key"`
	// AttemptContents fingerprints the lines and totals the key was first
	// used for.
	AttemptContents string `json:"attempt_contents,omitempty"`
}

func NewMachine() *Machine {
	return &Machine{State: StateSummary, AttemptKey: uuid.NewString()}
}

func LoadMachine(ctx context.Context, store kv.Store, logger *zap.Logger) *Machine {
	m := &Machine{}
	err := kv.GetJSON(ctx, store, KeyState, m)
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrNotFound):
		return NewMachine()
	default:
		logger.Error("failed to load checkout state, starting over", zap.Error(err))
		return NewMachine()
	}

	switch m.State {
	case StateSummary, StateInformation, StatePlacing, StateConfirmed:
	default:
		logger.Error("unknown checkout state, starting over", zap.String("state", string(m.State)))
		return NewMachine()
	}
	if m.AttemptKey == "" {
		m.AttemptKey = uuid.NewString()
	}
	return m
}

func (m *Machine) Save(ctx context.Context, store kv.Store) error {
	if err := kv.SetJSON(ctx, store, KeyState, m); err != nil {
		return fmt.Errorf("save checkout state: %w", err)
	}
	return nil
}

func (m *Machine) Step() Step {
	return m.State.Step()
}

func (m *Machine) transition(from []State, to State) error {
	for _, s := range from {
		if m.State == s {
			m.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.State, to)
}

// Advance moves from the summary to the information step.
func (m *Machine) Advance() error {
	return m.transition([]State{StateSummary}, StateInformation)
}

// Retreat moves from the information step back to the summary.
func (m *Machine) Retreat() error {
	return m.transition([]State{StateInformation}, StateSummary)
}

// BeginPlacing marks an order submission as in flight. A placement that
// started more than staleAfter ago is considered abandoned and may be
// replaced.
func (m *Machine) BeginPlacing(now time.Time, staleAfter time.Duration) error {
	if m.State == StatePlacing {
		if m.PlacingSince != nil && now.Sub(*m.PlacingSince) < staleAfter {
			return ErrAlreadyPlacing
		}
		m.State = StateInformation
	}
	if err := m.transition([]State{StateInformation}, StatePlacing); err != nil {
		return err
	}
	m.PlacingSince = &now
	return nil
}

// Fail returns a failed placement to the information step so the customer
// can resubmit. The attempt key is kept.
func (m *Machine) Fail() error {
	if err := m.transition([]State{StatePlacing}, StateInformation); err != nil {
		return err
	}
	m.PlacingSince = nil
	return nil
}

// BindAttempt ties the attempt key to the given cart contents. A key that
// was already used for different contents is replaced, since an earlier
// attempt may have stored an order under it.
func (m *Machine) BindAttempt(contents string) {
	if m.AttemptContents != "" && m.AttemptContents != contents {
		m.AttemptKey = uuid.NewString()
	}
	m.AttemptContents = contents
}

func (m *Machine) rotateAttempt() {
	m.AttemptKey = uuid.NewString()
	m.AttemptContents = ""
}

func (m *Machine) Confirm() error {
	if m.State != StatePlacing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.State, StateConfirmed)
	}
	m.markConfirmed()
	return nil
}

func (m *Machine) markConfirmed() {
	m.State = StateConfirmed
	m.PlacingSince = nil
	m.rotateAttempt()
}

// Reset starts a new checkout from the summary step.
func (m *Machine) Reset() {
	m.State = StateSummary
	m.PlacingSince = nil
}
