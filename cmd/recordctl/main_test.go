package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wondertwin-ai/recordtwin/internal/api"
	"github.com/wondertwin-ai/recordtwin/internal/dvstore"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	"github.com/wondertwin-ai/recordtwin/pkg/admin"
	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

type fixture struct {
	url    string
	config string
	store  *dvstore.MemoryStore
}

func setupTwin(t *testing.T) *fixture {
	t.Helper()
	memStore := dvstore.New()
	twin := twincore.New(&twincore.Config{Name: "twin-dataverse-test"})
	api.NewHandler(memStore, nil, twin.Middleware()).Routes(twin.Router)
	admin.NewHandler(memStore, twin.Middleware(), memStore.Clock).Routes(twin.Router)
	srv := httptest.NewServer(twin.Router)
	t.Cleanup(srv.Close)
	return &fixture{
		url:    srv.URL,
		config: filepath.Join(t.TempDir(), "config.yaml"),
		store:  memStore,
	}
}

// run executes recordctl against the fixture's twin and returns stdout.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", f.config, "--url", f.url}, args...)...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decoding output %q: %v", out, err)
	}
	return v
}

func TestRecordCommands(t *testing.T) {
	f := setupTwin(t)

	out, err := f.run(t, "create", "account", "--data", `{"name":"Contoso","revenue":5000}`)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ref := decode[record.Reference](t, out)
	if ref.ID == "" || ref.EntityType != "account" {
		t.Fatalf("unexpected reference %+v", ref)
	}

	out, err = f.run(t, "get", "account", ref.ID, "--select", "name,revenue")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	row := decode[map[string]any](t, out)
	if row["name"] != "Contoso" || row["revenue"] != float64(5000) {
		t.Errorf("unexpected row %v", row)
	}

	if _, err := f.run(t, "update", "account", ref.ID, "-d", `{"name":"Fabrikam"}`); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.run(t, "create", "account", "--data", `{"name":"Adventure Works"}`); err != nil {
		t.Fatalf("second create: %v", err)
	}

	out, err = f.run(t, "list", "account", "--attr", "name", "--order", "name")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	coll := decode[record.Collection](t, out)
	if coll.Len() != 2 || coll.Entities[0]["name"] != "Adventure Works" || coll.Entities[1]["name"] != "Fabrikam" {
		t.Errorf("unexpected collection %+v", coll.Entities)
	}

	if _, err := f.run(t, "delete", "account", ref.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = f.run(t, "get", "account", ref.ID)
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if f.store.Count("account") != 1 {
		t.Errorf("expected 1 account left, got %d", f.store.Count("account"))
	}
}

func TestUpdateMissingRecordFails(t *testing.T) {
	f := setupTwin(t)
	_, err := f.run(t, "update", "account", "00000000-0000-0000-0000-000000000001", "--data", `{"name":"x"}`)
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if f.store.Count("account") != 0 {
		t.Error("update must not create a record")
	}
}

func TestListWithFetchFile(t *testing.T) {
	f := setupTwin(t)
	for _, name := range []string{"b", "c", "a"} {
		f.store.Create("account", record.Payload{"name": name}, "")
	}
	path := filepath.Join(t.TempDir(), "q.xml")
	doc := `<fetch><entity name="account"><attribute name="name"/><order attribute="name" descending="true"/></entity></fetch>`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := f.run(t, "list", "account", "--fetch", path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	coll := decode[record.Collection](t, out)
	if coll.Len() != 3 || coll.Entities[0]["name"] != "c" {
		t.Errorf("unexpected collection %+v", coll.Entities)
	}

	if _, err := f.run(t, "list", "contact", "--fetch", path); err == nil || !strings.Contains(err.Error(), "not \"contact\"") {
		t.Errorf("expected entity mismatch error, got %v", err)
	}
	if _, err := f.run(t, "list", "account", "--fetch", path, "--top", "1"); err == nil {
		t.Error("expected error combining --fetch with --top")
	}
}

func TestListAllFollowsPages(t *testing.T) {
	f := setupTwin(t)
	for i := 0; i < 5; i++ {
		f.store.Create("account", record.Payload{"name": fmt.Sprintf("acct-%d", i)}, "")
	}
	out, err := f.run(t, "list", "account", "--attr", "name", "--page-size", "2", "--all")
	if err != nil {
		t.Fatalf("list --all: %v", err)
	}
	rows := decode[[]map[string]any](t, out)
	if len(rows) != 5 {
		t.Errorf("expected 5 rows across pages, got %d", len(rows))
	}
}

func TestSeedCommand(t *testing.T) {
	f := setupTwin(t)
	var records []map[string]any
	for i := 0; i < 12; i++ {
		records = append(records, map[string]any{"name": fmt.Sprintf("bulk-%02d", i)})
	}
	data, _ := json.Marshal(records)
	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := f.run(t, "seed", "account", path, "--concurrency", "3")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	refs := decode[[]record.Reference](t, out)
	if len(refs) != 12 {
		t.Fatalf("expected 12 references, got %d", len(refs))
	}
	seen := map[string]bool{}
	for _, ref := range refs {
		if ref.ID == "" || seen[ref.ID] {
			t.Errorf("expected distinct non-empty ids, got %v", refs)
			break
		}
		seen[ref.ID] = true
	}
	row, err := f.store.Get("account", refs[7].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row["name"] != "bulk-07" {
		t.Errorf("expected references in file order, got %v for index 7", row["name"])
	}

	if _, err := f.run(t, "seed", "account", path, "--concurrency", "0"); err == nil {
		t.Error("expected error for zero concurrency")
	}
}

func TestDemoCommand(t *testing.T) {
	f := setupTwin(t)
	out, err := f.run(t, "demo")
	if err != nil {
		t.Fatalf("demo: %v\n%s", err, out)
	}
	steps := decode[[]demoStep](t, out)
	if len(steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(steps))
	}
	for _, s := range steps {
		if s.Error != "" {
			t.Errorf("action %s failed: %s", s.Action, s.Error)
		}
	}
	if steps[2].Records != 1 {
		t.Errorf("expected query to see the created record, got %d", steps[2].Records)
	}
	if f.store.Count("account") != 0 {
		t.Errorf("expected demo to clean up, got %d accounts", f.store.Count("account"))
	}
}

func TestRunScenario(t *testing.T) {
	f := setupTwin(t)
	path := filepath.Join(t.TempDir(), "lifecycle.yaml")
	content := `
name: cli lifecycle
setup: {reset: true}
steps:
  - name: create
    action: create
    data: {name: Contoso}
    capture: {id: $.id}
  - name: read
    action: retrieve
    id: "{{id}}"
    expect:
      body: {$.name: Contoso}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := f.run(t, "run", path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "PASS cli lifecycle") || !strings.Contains(out, "1/1 scenarios passed") {
		t.Errorf("unexpected output:\n%s", out)
	}

	failing := filepath.Join(t.TempDir(), "failing.yaml")
	os.WriteFile(failing, []byte("name: broken\nsteps: [{action: retrieve, id: 00000000-0000-0000-0000-000000000099}]\n"), 0o644)
	out, err = f.run(t, "run", failing)
	if err == nil || !strings.Contains(out, "FAIL broken") {
		t.Errorf("expected failing scenario, got err=%v\n%s", err, out)
	}
}

func TestTwinCommands(t *testing.T) {
	f := setupTwin(t)
	f.store.Create("account", record.Payload{"name": "x"}, "")

	if _, err := f.run(t, "twin", "health"); err != nil {
		t.Fatalf("health: %v", err)
	}
	out, err := f.run(t, "twin", "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, `"account"`) {
		t.Errorf("expected account table in state, got %s", out)
	}
	if _, err := f.run(t, "twin", "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if f.store.Count("account") != 0 {
		t.Error("expected reset to clear the store")
	}

	if _, err := f.run(t, "twin", "fault", "/api/data/v9.2/accounts", "--status", "503"); err != nil {
		t.Fatalf("fault: %v", err)
	}
	_, err = f.run(t, "create", "account", "--data", `{"name":"y"}`)
	var remote *record.RemoteError
	if !errors.As(err, &remote) || remote.StatusCode != 503 {
		t.Errorf("expected injected 503, got %v", err)
	}

	if _, err := f.run(t, "twin", "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.run(t, "twin", "fault", "/api/data/v9.2/accounts", "--status", "429", "--method", "DELETE"); err != nil {
		t.Fatalf("method fault: %v", err)
	}
	if _, err := f.run(t, "create", "account", "--data", `{"name":"z"}`); err != nil {
		t.Errorf("DELETE-only fault failed a create: %v", err)
	}
}

func TestEnvironmentOverridesProfile(t *testing.T) {
	f := setupTwin(t)
	t.Setenv("RECORDCTL_URL", f.url)
	t.Setenv("RECORDCTL_CONFIG", f.config)

	if _, err := execute(t, "twin", "health"); err != nil {
		t.Fatalf("health via env: %v", err)
	}
}

func TestProfileCommands(t *testing.T) {
	f := setupTwin(t)
	cfg := []string{"--config", f.config}

	out, err := execute(t, append(cfg, "profile", "add", "twin", "--url", f.url, "--user", "alice", "--timeout", "10s")...)
	if err != nil {
		t.Fatalf("profile add: %v", err)
	}
	if !strings.Contains(out, `profile "twin" saved`) {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := execute(t, append(cfg, "profile", "use", "twin")...); err != nil {
		t.Fatalf("profile use: %v", err)
	}

	out, err = execute(t, append(cfg, "profile", "list")...)
	if err != nil {
		t.Fatalf("profile list: %v", err)
	}
	if !strings.Contains(out, "* twin") || !strings.Contains(out, "  local") {
		t.Errorf("unexpected list output:\n%s", out)
	}

	// The current profile now points at the twin without --url.
	out, err = execute(t, append(cfg, "create", "account", "--data", `{"name":"via profile"}`)...)
	if err != nil {
		t.Fatalf("create via profile: %v", err)
	}
	ref := decode[record.Reference](t, out)
	row, err := f.store.Get("account", ref.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row["_ownerid_value"] != api.CallerID(mustToken(t, "alice")) {
		t.Errorf("expected owner from profile user, got %v", row["_ownerid_value"])
	}

	if _, err := execute(t, append(cfg, "profile", "use", "missing")...); err == nil {
		t.Error("expected error for unknown profile")
	}
	if _, err := execute(t, append(cfg, "profile", "add", "bad", "--url", "not-a-url")...); err == nil {
		t.Error("expected validation error")
	}
}

func TestProfileShowMasksToken(t *testing.T) {
	f := setupTwin(t)
	out, err := f.run(t, "profile", "show", "--token", "secret-token")
	if err != nil {
		t.Fatalf("profile show: %v", err)
	}
	if strings.Contains(out, "secret-token") || !strings.Contains(out, "********") {
		t.Errorf("expected masked token, got %s", out)
	}
}

func TestParseData(t *testing.T) {
	if _, err := parseData(""); err == nil {
		t.Error("expected error for empty data")
	}
	if _, err := parseData("[1,2]"); err == nil {
		t.Error("expected error for non-object JSON")
	}
	path := filepath.Join(t.TempDir(), "row.json")
	os.WriteFile(path, []byte(`{"name":"from file"}`), 0o644)
	p, err := parseData("@" + path)
	if err != nil {
		t.Fatalf("parseData(@file): %v", err)
	}
	if p["name"] != "from file" {
		t.Errorf("unexpected payload %v", p)
	}
	if _, err := parseData("@" + filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func mustToken(t *testing.T, user string) string {
	t.Helper()
	tok, err := api.MintToken(user)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}
