package recordclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
	"github.com/wondertwin-ai/recordtwin/internal/observability"
	"github.com/wondertwin-ai/recordtwin/internal/record"
)

// fakeAPI is an in-memory webapi.API that records every call.
type fakeAPI struct {
	mu      sync.Mutex
	rows    map[string]record.Payload
	calls   []string
	options []string
	next    int
	fail    error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{rows: make(map[string]record.Payload)}
}

func (f *fakeAPI) track(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail
}

func notFound(op, id string) error {
	return &record.RemoteError{Op: op, StatusCode: 404, Code: record.CodeNotFound, Message: id + " does not exist"}
}

func (f *fakeAPI) CreateRecord(_ context.Context, entityType string, payload record.Payload) (record.Reference, error) {
	if err := f.track("create"); err != nil {
		return record.Reference{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("00000000-0000-0000-0000-%012d", f.next)
	row := payload.Clone()
	row[entityType+"id"] = id
	f.rows[id] = row
	return record.NewReference(entityType, id), nil
}

func (f *fakeAPI) RetrieveRecord(_ context.Context, entityType, id, options string) (record.Payload, error) {
	if err := f.track("retrieve"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options = append(f.options, options)
	row, ok := f.rows[id]
	if !ok {
		return nil, notFound("retrieve", id)
	}
	return row.Clone(), nil
}

func (f *fakeAPI) RetrieveMultipleRecords(_ context.Context, entityType, options string, maxPageSize int) (record.Collection, error) {
	if err := f.track("retrieveMultiple"); err != nil {
		return record.Collection{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options = append(f.options, options)
	coll := record.Collection{Entities: []record.Payload{}, TotalCount: -1}
	switch options {
	case "page1":
		coll.Entities = []record.Payload{{"name": "a"}}
		coll.NextLink = "page2"
	case "page2":
		coll.Entities = []record.Payload{{"name": "b"}}
	case "cookie":
		coll.Entities = []record.Payload{{"name": "c"}}
		coll.PagingCookie = "<cookie page=\"1\"/>"
	default:
		if f, err := fetchxml.Parse(fetchDoc(options)); err == nil && f.Count > 0 {
			coll.Entities = []record.Payload{{"name": fmt.Sprintf("p%d", f.Page)}}
			if f.Page < 3 {
				coll.PagingCookie = fmt.Sprintf("<cookie page=\"%d\"/>", f.Page)
			}
			break
		}
		for _, row := range f.rows {
			coll.Entities = append(coll.Entities, row.Clone())
		}
	}
	return coll, nil
}

// fetchDoc extracts the FetchXML document from a "?fetchXml=..." options string.
func fetchDoc(options string) string {
	doc, _ := url.QueryUnescape(strings.TrimPrefix(options, "?fetchXml="))
	return doc
}

func (f *fakeAPI) UpdateRecord(_ context.Context, entityType, id string, payload record.Payload) (record.Reference, error) {
	if err := f.track("update"); err != nil {
		return record.Reference{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return record.Reference{}, notFound("update", id)
	}
	for k, v := range payload {
		row[k] = v
	}
	return record.NewReference(entityType, id), nil
}

func (f *fakeAPI) DeleteRecord(_ context.Context, entityType, id string) (record.Reference, error) {
	if err := f.track("delete"); err != nil {
		return record.Reference{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return record.Reference{}, notFound("delete", id)
	}
	delete(f.rows, id)
	return record.NewReference(entityType, id), nil
}

func newClient(t *testing.T) (*Client, *fakeAPI, *observability.Recorder) {
	t.Helper()
	api := newFakeAPI()
	rec := &observability.Recorder{}
	c, err := New(api, WithObserver(rec))
	require.NoError(t, err)
	return c, api, rec
}

func TestNewRequiresAPI(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoAPI)
}

func TestCreateThenRetrieveReturnsPayloadFields(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()

	ref, err := c.Create(ctx, "account", record.Payload{"name": "CreateCompany", "revenue": 5000.0})
	require.NoError(t, err)
	assert.False(t, ref.IsZero())
	assert.Equal(t, "account", ref.EntityType)

	row, err := c.RetrieveByID(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "CreateCompany", row["name"])
	assert.Equal(t, 5000.0, row["revenue"])
	assert.Equal(t, ref.ID, row["accountid"])
}

func TestRetrieveByIDOptions(t *testing.T) {
	c, api, _ := newClient(t)
	ctx := context.Background()
	ref, err := c.Create(ctx, "account", record.Payload{"name": "x"})
	require.NoError(t, err)

	_, err = c.RetrieveByID(ctx, ref, Select("name", "revenue"), Expand("primarycontactid($select=fullname)"))
	require.NoError(t, err)
	_, err = c.RetrieveByID(ctx, ref)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"?$select=name,revenue&$expand=primarycontactid($select=fullname)",
		"",
	}, api.options)
}

func TestMissingIDFailsFast(t *testing.T) {
	c, api, rec := newClient(t)
	ctx := context.Background()

	_, err := c.Update(ctx, "account", "", record.Payload{"name": "x"})
	assert.ErrorIs(t, err, record.ErrMissingID)
	_, err = c.Delete(ctx, "account", "")
	assert.ErrorIs(t, err, record.ErrMissingID)
	_, err = c.RetrieveByID(ctx, record.Reference{EntityType: "account"})
	assert.ErrorIs(t, err, record.ErrMissingID)

	assert.Empty(t, api.calls)
	assert.Contains(t, rec.Types(), observability.EventType("record.update.failed"))
}

func TestEntityTypeRequired(t *testing.T) {
	c, api, _ := newClient(t)
	ctx := context.Background()

	_, err := c.Create(ctx, "", record.Payload{})
	assert.ErrorIs(t, err, ErrEntityTypeRequired)
	_, err = c.RetrieveMultiple(ctx, "", nil)
	assert.ErrorIs(t, err, ErrEntityTypeRequired)
	_, err = c.Delete(ctx, "", "id")
	assert.ErrorIs(t, err, ErrEntityTypeRequired)
	assert.Empty(t, api.calls)
}

func TestUpdateNeverCreates(t *testing.T) {
	c, api, _ := newClient(t)
	_, err := c.Update(context.Background(), "account", "00000000-0000-0000-0000-000000000099", record.Payload{"name": "x"})
	assert.ErrorIs(t, err, record.ErrNotFound)
	assert.Empty(t, api.rows)
}

func TestDeleteThenRetrieveFails(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()
	ref, err := c.Create(ctx, "account", record.Payload{"name": "x"})
	require.NoError(t, err)

	deleted, err := c.Delete(ctx, ref.EntityType, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, deleted)

	_, err = c.RetrieveByID(ctx, ref)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestRetrieveMultipleWithFetch(t *testing.T) {
	c, api, _ := newClient(t)
	ctx := context.Background()

	coll, err := c.RetrieveMultiple(ctx, "account", fetchxml.DefaultAccountQuery())
	require.NoError(t, err)
	assert.Equal(t, 0, coll.Len())
	require.Len(t, api.options, 1)
	want, err := fetchxml.DefaultAccountQuery().QueryString()
	require.NoError(t, err)
	assert.Equal(t, want, api.options[0])
}

func TestRetrieveMultipleInvalidQueryMakesNoCall(t *testing.T) {
	c, api, _ := newClient(t)
	_, err := c.RetrieveMultiple(context.Background(), "account", fetchxml.New(""))
	assert.ErrorIs(t, err, fetchxml.ErrInvalidQuery)
	assert.Empty(t, api.calls)
}

func TestRetrieveAllFollowsNextLinks(t *testing.T) {
	c, api, _ := newClient(t)
	rows, err := c.RetrieveAll(context.Background(), "account", RawQuery("page1"), 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["name"])
	assert.Equal(t, "b", rows[1]["name"])
	assert.Equal(t, []string{"retrieveMultiple", "retrieveMultiple"}, api.calls)
}

func TestRetrieveAllAdvancesFetchXMLPages(t *testing.T) {
	c, api, _ := newClient(t)
	rows, err := c.RetrieveAll(context.Background(), "account", fetchxml.New("account").Select("name").Paged(1, 1), 0)
	require.NoError(t, err)

	var got []string
	for _, r := range rows {
		got = append(got, r["name"].(string))
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, got)
	require.Len(t, api.options, 3)
	last, err := fetchxml.Parse(fetchDoc(api.options[2]))
	require.NoError(t, err)
	assert.Equal(t, `<cookie page="2"/>`, last.PagingCookie)
}

func TestRetrieveAllCookieWithoutFetchQuery(t *testing.T) {
	c, _, _ := newClient(t)
	rows, err := c.RetrieveAll(context.Background(), "account", RawQuery("cookie"), 0)
	assert.ErrorIs(t, err, ErrCannotPage)
	assert.Len(t, rows, 1)
}

func TestNextPageOnLastPage(t *testing.T) {
	c, api, _ := newClient(t)
	coll, err := c.NextPage(context.Background(), "account", record.Collection{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, coll.Len())
	assert.Empty(t, api.calls)
}

func TestRemoteFailurePropagates(t *testing.T) {
	c, api, rec := newClient(t)
	api.fail = &record.RemoteError{Op: "create", StatusCode: 500, Code: record.CodeUnexpected, Message: "boom"}

	_, err := c.Create(context.Background(), "account", record.Payload{})
	var rerr *record.RemoteError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 500, rerr.StatusCode)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, observability.EventType("record.create.start"), events[0].Type)
	assert.Equal(t, observability.EventType("record.create.failed"), events[1].Type)
	assert.Equal(t, observability.LevelError, events[1].Level)
	assert.Contains(t, events[1].Data["error"], "boom")
}

func TestEventsOnSuccess(t *testing.T) {
	c, _, rec := newClient(t)
	ref, err := c.Create(context.Background(), "account", record.Payload{"name": "x"})
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 2)
	done := events[1]
	assert.Equal(t, observability.EventType("record.create.complete"), done.Type)
	assert.Equal(t, "recordclient", done.Source)
	assert.Equal(t, ref.ID, done.Data["id"])
	assert.Equal(t, "account", done.Data["entity"])
}

// The full create → update → retrieve → delete → retrieve sequence of the
// account form.
func TestAccountLifecycleScenario(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()

	ref, err := c.Create(ctx, "account", record.Payload{"name": "CreateCompany", "revenue": 5000.0})
	require.NoError(t, err)

	updated, err := c.Update(ctx, "account", ref.ID, record.Payload{"name": "UpdateCompany", "revenue": 15000.0})
	require.NoError(t, err)
	assert.Equal(t, ref.ID, updated.ID)

	row, err := c.RetrieveByID(ctx, ref, Select("name", "revenue"))
	require.NoError(t, err)
	rev, ok := row.GetNumber("revenue")
	require.True(t, ok)
	assert.Equal(t, 15000.0, rev)
	name, _ := row.GetString("name")
	assert.Equal(t, "UpdateCompany", name)

	deleted, err := c.Delete(ctx, "account", ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, deleted.ID)

	_, err = c.RetrieveByID(ctx, ref)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestConcurrentOperationsAreIndependent(t *testing.T) {
	c, api, _ := newClient(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Create(ctx, "account", record.Payload{"name": fmt.Sprintf("acc-%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, api.rows, 20)
}
