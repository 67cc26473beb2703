// Package control hosts the record client behind the four-entry-point
// lifecycle a form host drives (Init, UpdateView, GetOutputs, Destroy) and
// exposes the five record intents as named actions.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
	"github.com/wondertwin-ai/recordtwin/internal/observability"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	"github.com/wondertwin-ai/recordtwin/internal/recordclient"
	"github.com/wondertwin-ai/recordtwin/internal/webapi"
)

// DefaultEntityName is the record type the create, update and delete
// actions operate on.
const DefaultEntityName = "account"

// StateKeyLastCreated is the session state key under which the id of the
// most recently created record is kept between Init calls.
const StateKeyLastCreated = "lastCreatedId"

// Lifecycle and dispatch errors.
var (
	ErrNotInitialized = errors.New("control is not initialized")
	ErrInitialized    = errors.New("control is already initialized")
	ErrDestroyed      = errors.New("control has been destroyed")
	ErrUnknownAction  = errors.New("unknown action")
	ErrNoWebAPI       = errors.New("host context carries no web api")
)

// Action names one user intent.
type Action string

const (
	ActionCreate           Action = "create"
	ActionRetrieveByID     Action = "retrieveRecordById"
	ActionRetrieveMultiple Action = "retrieveMultipleRecords"
	ActionUpdate           Action = "updateRecord"
	ActionDelete           Action = "deleteRecord"
)

// Actions lists the available actions in display order.
func Actions() []Action {
	return []Action{ActionCreate, ActionRetrieveByID, ActionRetrieveMultiple, ActionUpdate, ActionDelete}
}

// CreatePayload is the record the create action submits.
func CreatePayload() record.Payload {
	return record.Payload{"name": "CreateCompany", "revenue": 5000}
}

// UpdatePayload is the change the update action applies.
func UpdatePayload() record.Payload {
	return record.Payload{"name": "UpdateCompany", "revenue": 15000}
}

// HostContext is what the host hands the control: the record store API and
// the record the hosting page is showing.
type HostContext struct {
	WebAPI         webapi.API
	EntityTypeName string
	EntityID       string
}

// Page returns the reference of the record shown by the hosting page.
func (h HostContext) Page() record.Reference {
	return record.NewReference(h.EntityTypeName, h.EntityID)
}

// Result is the outcome of one action.
type Result struct {
	Action     Action
	Reference  record.Reference
	Payload    record.Payload
	Collection record.Collection
}

// Control runs record actions on behalf of a host.
type Control struct {
	logger     *slog.Logger
	observer   observability.Observer
	entityName string
	query      *fetchxml.Fetch

	mu          sync.Mutex
	client      *recordclient.Client
	host        HostContext
	notify      func()
	lastCreated record.Reference
	initialized bool
	destroyed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Control.
type Option func(*Control)

// WithLogger sets the diagnostic sink.
func WithLogger(l *slog.Logger) Option {
	return func(c *Control) { c.logger = l }
}

// WithObserver adds an observer that receives record client events in
// addition to the diagnostic log.
func WithObserver(o observability.Observer) Option {
	return func(c *Control) { c.observer = o }
}

// WithEntityName changes the record type used by create, update and delete.
func WithEntityName(name string) Option {
	return func(c *Control) { c.entityName = name }
}

// WithQuery replaces the query run by the retrieveMultipleRecords action.
func WithQuery(q *fetchxml.Fetch) Option {
	return func(c *Control) { c.query = q }
}

// New creates an uninitialized Control.
func New(opts ...Option) *Control {
	c := &Control{
		logger:     slog.Default(),
		entityName: DefaultEntityName,
		query:      fetchxml.DefaultAccountQuery(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init binds the control to its host. notify is called whenever the
// control's session state changes. state is the persisted session state; a
// previously created record id found there is restored.
func (c *Control) Init(ctx context.Context, host HostContext, notify func(), state map[string]any) error {
	if host.WebAPI == nil {
		return ErrNoWebAPI
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.initialized {
		return ErrInitialized
	}

	client, err := c.newClient(host.WebAPI)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	c.client = client
	c.host = host
	c.notify = notify
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if id, ok := state[StateKeyLastCreated].(string); ok && id != "" {
		c.lastCreated = record.NewReference(c.entityName, id)
	}
	c.initialized = true

	c.logger.Debug("control initialized",
		"page_entity", host.EntityTypeName,
		"page_id", host.EntityID,
		"last_created", c.lastCreated.ID,
	)
	return nil
}

// UpdateView refreshes the host context. A nil WebAPI keeps the current one.
func (c *Control) UpdateView(host HostContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized || c.destroyed {
		return
	}
	if host.WebAPI == nil {
		host.WebAPI = c.host.WebAPI
	} else if client, err := c.newClient(host.WebAPI); err == nil {
		c.client = client
	}
	c.host = host
}

func (c *Control) newClient(api webapi.API) (*recordclient.Client, error) {
	return recordclient.New(api, recordclient.WithObserver(
		observability.NewMultiObserver(observability.NewSlogObserver(c.logger), c.observer),
	))
}

// GetOutputs returns the control's bound outputs. The control has none.
func (c *Control) GetOutputs() map[string]any {
	return map[string]any{}
}

// State returns the session state the host should persist.
func (c *Control) State() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := map[string]any{}
	if !c.lastCreated.IsZero() {
		state[StateKeyLastCreated] = c.lastCreated.ID
	}
	return state
}

// Destroy cancels in-flight actions and waits for them to finish.
func (c *Control) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.lastCreated = record.Reference{}
	c.mu.Unlock()
	c.logger.Debug("control destroyed")
}

// LastCreated returns the reference of the most recently created record, or
// the zero Reference if there is none.
func (c *Control) LastCreated() record.Reference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCreated
}

// SetLastCreated supplies the record update and delete should target.
func (c *Control) SetLastCreated(ref record.Reference) {
	c.mu.Lock()
	c.lastCreated = ref
	notify := c.notify
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Do runs action and waits for it. The action is cancelled when ctx is done
// or the control is destroyed. Failures are written to the diagnostic sink
// and returned; a panic inside the action is returned as an error.
func (c *Control) Do(ctx context.Context, action Action) (Result, error) {
	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		return Result{Action: action}, ErrDestroyed
	case !c.initialized:
		c.mu.Unlock()
		return Result{Action: action}, ErrNotInitialized
	}
	lifetime := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(lifetime, stop)()

	return c.run(ctx, action)
}

func (c *Control) run(ctx context.Context, action Action) (res Result, err error) {
	res.Action = action
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", action, r)
		}
		if err != nil {
			c.logger.Error("action failed", "action", string(action), "err", err)
		}
	}()

	c.mu.Lock()
	client := c.client
	host := c.host
	last := c.lastCreated
	entity := c.entityName
	query := c.query
	c.mu.Unlock()

	switch action {
	case ActionCreate:
		ref, err := client.Create(ctx, entity, CreatePayload())
		if err != nil {
			return res, err
		}
		res.Reference = ref
		c.SetLastCreated(ref)
		c.logger.Info("record created", "entity", ref.EntityType, "id", ref.ID)

	case ActionRetrieveByID:
		target := host.Page()
		if target.IsZero() {
			target = last
		}
		row, err := client.RetrieveByID(ctx, target)
		if err != nil {
			return res, err
		}
		res.Reference = target
		res.Payload = row
		c.logger.Info("record retrieved", "entity", target.EntityType, "id", target.ID, "fields", len(row))

	case ActionRetrieveMultiple:
		entityType := host.EntityTypeName
		if entityType == "" {
			entityType = query.Entity.Name
		}
		coll, err := client.RetrieveMultiple(ctx, entityType, query)
		if err != nil {
			return res, err
		}
		res.Collection = coll
		c.logger.Info("records retrieved", "entity", entityType, "count", coll.Len(), "more", coll.MoreRecords())

	case ActionUpdate:
		ref, err := client.Update(ctx, entity, last.ID, UpdatePayload())
		if err != nil {
			return res, err
		}
		res.Reference = ref
		c.logger.Info("record updated", "entity", ref.EntityType, "id", ref.ID)

	case ActionDelete:
		ref, err := client.Delete(ctx, entity, last.ID)
		if err != nil {
			return res, err
		}
		res.Reference = ref
		c.forget(ref)
		c.logger.Info("record deleted", "entity", ref.EntityType, "id", ref.ID)

	default:
		return res, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return res, nil
}

// forget clears the last-created slot if it still points at ref.
func (c *Control) forget(ref record.Reference) {
	c.mu.Lock()
	changed := c.lastCreated.ID == ref.ID
	if changed {
		c.lastCreated = record.Reference{}
	}
	notify := c.notify
	c.mu.Unlock()
	if changed && notify != nil {
		notify()
	}
}

// Fire starts action in the background, bound to the control's lifetime,
// and returns a Future for its outcome.
func (c *Control) Fire(action Action) *Future {
	f := newFuture()

	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		f.resolve(Result{Action: action}, ErrDestroyed)
		return f
	case !c.initialized:
		c.mu.Unlock()
		f.resolve(Result{Action: action}, ErrNotInitialized)
		return f
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		f.resolve(c.run(ctx, action))
	}()
	return f
}
