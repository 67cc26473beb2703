package scenario

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wondertwin-ai/recordtwin/internal/api"
	"github.com/wondertwin-ai/recordtwin/internal/client"
	"github.com/wondertwin-ai/recordtwin/internal/dvstore"
	"github.com/wondertwin-ai/recordtwin/internal/recordclient"
	"github.com/wondertwin-ai/recordtwin/internal/webapi"
	"github.com/wondertwin-ai/recordtwin/pkg/admin"
	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

func setupRunner(t *testing.T) (*Runner, *dvstore.MemoryStore) {
	t.Helper()
	memStore := dvstore.New()
	twin := twincore.New(&twincore.Config{Name: "twin-dataverse-test"})
	api.NewHandler(memStore, nil, twin.Middleware()).Routes(twin.Router)
	admin.NewHandler(memStore, twin.Middleware(), memStore.Clock).Routes(twin.Router)
	srv := httptest.NewServer(twin.Router)
	t.Cleanup(srv.Close)

	token, err := api.MintToken("scenario-test")
	if err != nil {
		t.Fatal(err)
	}
	wc, err := webapi.New(srv.URL, webapi.WithHTTPClient(srv.Client()), webapi.WithToken(token))
	if err != nil {
		t.Fatal(err)
	}
	rc, err := recordclient.New(wc)
	if err != nil {
		t.Fatal(err)
	}
	return NewRunner(rc, client.New(srv.URL)), memStore
}

const lifecycle = `
name: account lifecycle
setup:
  reset: true
variables:
  company: CreateCompany
steps:
  - name: create
    action: create
    data:
      name: "{{company}}"
      revenue: 5000
    capture:
      account_id: $.id
  - name: read back
    action: retrieve
    id: "{{account_id}}"
    select: [name, revenue]
    expect:
      body:
        $.name: "{{company}}"
        $.revenue: 5000
  - name: list
    action: query
    fetch_xml: |
      <fetch>
        <entity name="account">
          <attribute name="name" />
          <attribute name="accountid" />
          <order attribute="name" />
        </entity>
      </fetch>
    expect:
      count: 1
      body:
        $.value[0].accountid: "{{account_id}}"
        $.more: false
  - name: update
    action: update
    id: "{{account_id}}"
    data:
      name: UpdateCompany
      revenue: 15000
  - name: odata query
    action: query
    query: "?$select=name,revenue&$filter=revenue%20gt%2010000"
    expect:
      count: 1
      body:
        $.value[0].name: UpdateCompany
  - name: delete
    action: delete
    id: "{{account_id}}"
    expect:
      body:
        $.id: "{{account_id}}"
  - name: gone
    action: retrieve
    id: "{{account_id}}"
    expect:
      error: not_found
`

func TestRunLifecycle(t *testing.T) {
	runner, memStore := setupRunner(t)
	memStore.Create("account", map[string]any{"name": "leftover"}, "")

	s, err := Parse([]byte(lifecycle))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	result, err := runner.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, sr := range result.Steps {
		if !sr.Passed {
			t.Errorf("step %q failed: %s", sr.Name, sr.Error)
		}
	}
	if !result.Passed || len(result.Steps) != 7 {
		t.Fatalf("expected 7 passing steps, got %d (passed=%v)", len(result.Steps), result.Passed)
	}
	if result.Vars["account_id"] == "" {
		t.Error("expected account_id to be captured")
	}
	if memStore.Count("account") != 0 {
		t.Errorf("expected reset and delete to leave no accounts, got %d", memStore.Count("account"))
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	runner, _ := setupRunner(t)
	s, err := Parse([]byte(`
name: failing
steps:
  - name: create
    action: create
    data: {name: Contoso}
  - name: wrong count
    action: query
    expect: {count: 5}
  - name: never runs
    action: query
`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	result, err := runner.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Passed {
		t.Fatal("expected scenario to fail")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected run to stop after step 2, got %d steps", len(result.Steps))
	}
	if !strings.Contains(result.Steps[1].Error, "expected count 5") {
		t.Errorf("unexpected error: %s", result.Steps[1].Error)
	}
}

func TestRunExpectedErrors(t *testing.T) {
	runner, _ := setupRunner(t)
	s, err := Parse([]byte(`
name: errors
steps:
  - name: update never creates
    action: update
    id: 00000000-0000-0000-0000-000000000042
    data: {name: ghost}
    expect: {error: not_found}
  - name: missing id
    action: delete
    expect: {error: missing_id}
  - name: bad fetch
    action: query
    fetch_xml: "<fetch><entity name='contact'></entity></fetch>"
    expect: {error: bad_request}
  - name: duplicate
    action: create
    data: {name: a, accountid: 00000000-0000-0000-0000-000000000007}
  - name: duplicate again
    action: create
    data: {name: b, accountid: 00000000-0000-0000-0000-000000000007}
    expect: {error: conflict}
`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	result, err := runner.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, sr := range result.Steps {
		if !sr.Passed {
			t.Errorf("step %q failed: %s", sr.Name, sr.Error)
		}
	}
}

func TestRunUnexpectedSuccess(t *testing.T) {
	runner, _ := setupRunner(t)
	s := &Scenario{Name: "x", Steps: []Step{{
		Action: ActionCreate,
		Data:   map[string]any{"name": "ok"},
		Expect: &Expect{Error: ErrorAny},
	}}}
	result, err := runner.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Passed || !strings.Contains(result.Steps[0].Error, "got success") {
		t.Errorf("expected unexpected-success failure, got %+v", result.Steps[0])
	}
	if result.Steps[0].Name != "#1 create" {
		t.Errorf("expected generated step name, got %q", result.Steps[0].Name)
	}
}

func TestRunSeedSetup(t *testing.T) {
	runner, _ := setupRunner(t)
	dir := t.TempDir()
	seed := `{"account":[{"name":"Seeded","accountid":"00000000-0000-0000-0000-000000000009"}]}`
	if err := os.WriteFile(filepath.Join(dir, "seed.json"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "seeded.yaml")
	content := `
name: seeded
setup: {reset: true, seed: seed.json}
steps:
  - action: retrieve
    id: 00000000-0000-0000-0000-000000000009
    expect:
      body: {$.name: Seeded}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	result, err := runner.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected seeded scenario to pass: %+v", result.Steps)
	}
}

func TestRunSetupWithoutAdmin(t *testing.T) {
	runner, _ := setupRunner(t)
	runner.admin = nil
	s := &Scenario{Name: "x", Setup: Setup{Reset: true}, Steps: []Step{{Action: ActionDelete, ID: "x"}}}
	if _, err := runner.Run(context.Background(), s); err == nil {
		t.Error("expected setup error without admin client")
	}
}
