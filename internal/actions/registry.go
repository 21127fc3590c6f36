// Package actions holds the built-in handlers that turn matched messages into
// payments, scheduled jobs or informational results.
package actions

import (
	"context"
	"sort"
	"time"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/google/uuid"
)

// Result is what a handler decided to do with a message. At most one of
// Payment, Job, Error or Info is set; an empty Result means nothing to do.
type Result struct {
	Payment *model.PaymentIntent
	Job     *model.ScheduledJob
	Error   string
	Info    string
}

// Empty reports whether the handler had nothing to do.
func (r Result) Empty() bool {
	return r.Payment == nil && r.Job == nil && r.Error == "" && r.Info == ""
}

// Failed returns a Result marking the action as failed for this message.
func Failed(reason string) Result {
	return Result{Error: reason}
}

// Action is the contract every handler implements. A returned error is a
// programming or configuration fault; expected failures go in Result.Error.
type Action interface {
	Handle(ctx context.Context, msg model.InboundMessage, rule model.Rule) (Result, error)
	DefaultRule() model.Rule
}

// BalanceReader is the slice of the payment API the top-up action needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, alias string) (float64, error)
}

// Deps are the collaborators handed to built-in actions.
type Deps struct {
	Balances BalanceReader
	Now      func() time.Time
	NewID    func() string
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.NewString() }
	}
	return d
}

// Registry maps action identifiers to handlers.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds the registry of built-in actions.
func NewRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()
	return &Registry{
		actions: map[string]Action{
			"generic":  &Generic{},
			"deferred": &Deferred{deps: deps},
			"topup":    &TopUp{deps: deps},
			"notify":   &Notify{deps: deps},
			"ignore":   &Ignore{},
		},
	}
}

// Register adds or replaces a handler.
func (r *Registry) Register(id string, action Action) {
	r.actions[id] = action
}

// Get returns the handler registered under id.
func (r *Registry) Get(id string) (Action, bool) {
	a, ok := r.actions[id]
	return a, ok
}

// DefaultRule returns the default rule of the action, with Action filled in.
func (r *Registry) DefaultRule(id string) (model.Rule, bool) {
	a, ok := r.actions[id]
	if !ok {
		return model.Rule{}, false
	}
	def := a.DefaultRule()
	def.Action = id
	return def, true
}

// IDs returns the registered action identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
