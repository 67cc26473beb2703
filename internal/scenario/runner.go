package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	"github.com/wondertwin-ai/recordtwin/internal/recordclient"
)

// Admin is the subset of the twin admin API a scenario's setup needs.
// *client.AdminClient implements it.
type Admin interface {
	Reset(ctx context.Context) (string, error)
	Seed(ctx context.Context, filePath string) (string, error)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string        `json:"name"`
	Action   string        `json:"action"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Name     string            `json:"name"`
	Passed   bool              `json:"passed"`
	Steps    []StepResult      `json:"steps"`
	Vars     map[string]string `json:"vars,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Runner executes scenarios through a record client.
type Runner struct {
	client *recordclient.Client
	admin  Admin
	logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger for step progress.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner. admin may be nil when no scenario needs setup.
func NewRunner(c *recordclient.Client, admin Admin, opts ...RunnerOption) *Runner {
	r := &Runner{client: c, admin: admin, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the scenario's setup and then its steps in order, stopping at
// the first failing step. The returned error reports setup failures; step
// failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	start := time.Now()
	result := &Result{Name: s.Name, Passed: true}

	if err := r.setup(ctx, s); err != nil {
		return nil, fmt.Errorf("scenario %q setup: %w", s.Name, err)
	}

	vars := make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		expanded, err := Expand(v, nil)
		if err != nil {
			return nil, fmt.Errorf("scenario %q variable %s: %w", s.Name, k, err)
		}
		vars[k] = expanded
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		sr := r.runStep(ctx, step, vars)
		if sr.Name == "" {
			sr.Name = fmt.Sprintf("#%d %s", i+1, step.Action)
		}
		result.Steps = append(result.Steps, sr)
		r.logger.Debug("scenario step", "scenario", s.Name, "step", sr.Name, "passed", sr.Passed, "duration", sr.Duration)
		if !sr.Passed {
			result.Passed = false
			break
		}
	}

	result.Vars = vars
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) setup(ctx context.Context, s *Scenario) error {
	if !s.Setup.Reset && s.Setup.Seed == "" {
		return nil
	}
	if r.admin == nil {
		return fmt.Errorf("setup requires a twin admin client")
	}
	if s.Setup.Reset {
		if _, err := r.admin.Reset(ctx); err != nil {
			return err
		}
	}
	if s.Setup.Seed != "" {
		if _, err := r.admin.Seed(ctx, s.seedPath()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step *Step, vars map[string]string) StepResult {
	start := time.Now()
	sr := StepResult{Name: step.Name, Action: step.Action}
	fail := func(format string, args ...any) StepResult {
		sr.Error = fmt.Sprintf(format, args...)
		sr.Duration = time.Since(start)
		return sr
	}

	out, opErr := r.execute(ctx, step, vars)

	expect := step.Expect
	if expect == nil {
		expect = &Expect{}
	}
	if expect.Error != "" {
		if opErr == nil {
			return fail("expected %s error, got success", expect.Error)
		}
		if !errorMatches(expect.Error, opErr) {
			return fail("expected %s error, got: %v", expect.Error, opErr)
		}
		sr.Passed = true
		sr.Duration = time.Since(start)
		return sr
	}
	if opErr != nil {
		return fail("%v", opErr)
	}

	doc, err := normalize(out)
	if err != nil {
		return fail("%v", err)
	}

	for name, path := range step.Capture {
		v, found, err := lookup(doc, path)
		if err != nil {
			return fail("capture %q: %v", name, err)
		}
		if !found {
			return fail("capture %q: %s matched nothing", name, path)
		}
		vars[name] = fmt.Sprint(v)
	}

	if expect.Count != nil {
		n, _, _ := lookup(doc, "$.count")
		if !valuesEqual(n, *expect.Count) {
			return fail("expected count %d, got %v", *expect.Count, n)
		}
	}

	if len(expect.Body) > 0 {
		expanded, err := expandValue(expect.Body, vars)
		if err != nil {
			return fail("expect: %v", err)
		}
		if err := CheckBody(doc, expanded.(map[string]any)); err != nil {
			return fail("%v", err)
		}
	}

	sr.Passed = true
	sr.Duration = time.Since(start)
	return sr
}

// execute performs the step's record operation and returns its result
// document.
func (r *Runner) execute(ctx context.Context, step *Step, vars map[string]string) (any, error) {
	entity := step.entity()
	id, err := Expand(step.ID, vars)
	if err != nil {
		return nil, err
	}
	var data record.Payload
	if step.Data != nil {
		expanded, err := expandValue(step.Data, vars)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		data = record.Payload(expanded.(map[string]any))
	}

	switch step.Action {
	case ActionCreate:
		ref, err := r.client.Create(ctx, entity, data)
		if err != nil {
			return nil, err
		}
		return refDoc(ref), nil

	case ActionRetrieve:
		var opts []recordclient.RetrieveOption
		if len(step.Select) > 0 {
			opts = append(opts, recordclient.Select(step.Select...))
		}
		return r.client.RetrieveByID(ctx, record.NewReference(entity, id), opts...)

	case ActionQuery:
		q, err := stepQuery(step, entity, vars)
		if err != nil {
			return nil, err
		}
		coll, err := r.client.RetrieveMultiplePaged(ctx, entity, q, step.PageSize)
		if err != nil {
			return nil, err
		}
		doc := map[string]any{
			"value": coll.Entities,
			"count": coll.Len(),
			"more":  coll.MoreRecords(),
		}
		if coll.TotalCount >= 0 {
			doc["total"] = coll.TotalCount
		}
		return doc, nil

	case ActionUpdate:
		ref, err := r.client.Update(ctx, entity, id, data)
		if err != nil {
			return nil, err
		}
		return refDoc(ref), nil

	case ActionDelete:
		ref, err := r.client.Delete(ctx, entity, id)
		if err != nil {
			return nil, err
		}
		return refDoc(ref), nil
	}
	return nil, fmt.Errorf("unknown action %q", step.Action)
}

// stepQuery builds the query for a query step: FetchXML, a raw OData string,
// or every column of entity when neither is given.
func stepQuery(step *Step, entity string, vars map[string]string) (recordclient.Query, error) {
	switch {
	case step.FetchXML != "":
		doc, err := Expand(step.FetchXML, vars)
		if err != nil {
			return nil, err
		}
		return fetchxml.Parse(doc)
	case step.Query != "":
		raw, err := Expand(step.Query, vars)
		if err != nil {
			return nil, err
		}
		return recordclient.RawQuery(raw), nil
	default:
		return fetchxml.New(entity).SelectAll(), nil
	}
}

func refDoc(ref record.Reference) map[string]any {
	return map[string]any{"id": ref.ID, "entity": ref.EntityType}
}

func errorMatches(kind string, err error) bool {
	switch kind {
	case ErrorAny:
		return true
	case ErrorNotFound:
		return errors.Is(err, record.ErrNotFound)
	case ErrorBadRequest:
		return errors.Is(err, record.ErrBadRequest) || errors.Is(err, fetchxml.ErrInvalidQuery)
	case ErrorConflict:
		return errors.Is(err, record.ErrConflict)
	case ErrorMissingID:
		return errors.Is(err, record.ErrMissingID)
	}
	return false
}
