package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wondertwin-ai/recordtwin/internal/dvstore"
	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	"github.com/wondertwin-ai/recordtwin/internal/webapi"
	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

var errPrecondition = errors.New("precondition failed")

// ServiceDocument handles GET / and lists the entity sets that hold rows.
func (h *Handler) ServiceDocument(w http.ResponseWriter, r *http.Request) {
	sets := make([]map[string]any, 0)
	for _, entity := range h.store.Entities() {
		set := webapi.EntitySetName(entity)
		sets = append(sets, map[string]any{"name": set, "kind": "EntitySet", "url": set})
	}
	twincore.JSON(w, http.StatusOK, map[string]any{
		"@odata.context": serviceRoot(r) + "/$metadata",
		"value":          sets,
	})
}

// CreateRecord handles POST /{set}.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(r)
	if t.keyed {
		twincore.Error(w, http.StatusMethodNotAllowed, record.CodeInvalidArgs, "POST is not supported on a single record")
		return
	}
	payload, err := decodePayload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	caller := callerFrom(r.Context())
	row, err := h.store.Create(t.entity, payload, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	id, _ := row.GetString(dvstore.PrimaryKey(t.entity))
	h.notify("Create", t.entity, id, caller, row)

	h.writeWritten(w, r, t, row, http.StatusCreated)
}

// Get handles GET /{set} (retrieve multiple) and GET /{set}({id}).
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(r)
	if t.keyed {
		h.retrieveRecord(w, r, t)
		return
	}
	h.retrieveMultiple(w, r, t)
}

func (h *Handler) retrieveRecord(w http.ResponseWriter, r *http.Request, t target) {
	id, err := record.ParseID(t.key)
	if err != nil {
		writeError(w, err)
		return
	}
	row, err := h.store.Get(t.entity, id)
	if err != nil {
		writeError(w, err)
		return
	}
	twincore.JSON(w, http.StatusOK, h.entityBody(r, t, row))
}

// entityBody renders one row with its context and etag annotations,
// honoring $select.
func (h *Handler) entityBody(r *http.Request, t target, row record.Payload) map[string]any {
	fields := selectFields(r.URL.Query())
	ctx := serviceRoot(r) + "/$metadata#" + t.set
	if len(fields) > 0 {
		ctx += "(" + strings.Join(fields, ",") + ")"
	}
	body := project(row, fields, dvstore.PrimaryKey(t.entity))
	out := make(map[string]any, len(body)+2)
	for k, v := range body {
		out[k] = v
	}
	out["@odata.context"] = ctx + "/$entity"
	out["@odata.etag"] = etag(row)
	return out
}

func (h *Handler) retrieveMultiple(w http.ResponseWriter, r *http.Request, t target) {
	q := r.URL.Query()

	var query *fetchxml.Fetch
	var err error
	if doc := q.Get("fetchXml"); doc != "" {
		query, err = fetchxml.Parse(doc)
		if err == nil && !strings.EqualFold(query.Entity.Name, t.entity) {
			err = fmt.Errorf("%w: query entity %q does not match collection %q", fetchxml.ErrInvalidQuery, query.Entity.Name, t.set)
		}
	} else {
		query, err = parseODataQuery(t.entity, q)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.store.Query(query)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{"@odata.context": serviceRoot(r) + "/$metadata#" + t.set}
	if q.Get("$count") == "true" {
		body[annotationCount] = len(res.Rows)
	}
	if res.TotalCount >= 0 {
		body[annotationTotalCount] = res.TotalCount
		body[annotationTotalCountLimited] = false
	}
	if res.PagingCookie != "" {
		body[annotationPagingCookie] = res.PagingCookie
	}
	if query.Count > 0 {
		body[annotationMoreRecords] = res.MoreRecords
	}

	rows := res.Rows
	if prefs := parsePrefer(r); prefs.maxPageSize > 0 {
		skip, err := skipToken(q)
		if err != nil {
			writeError(w, err)
			return
		}
		skip = min(skip, len(rows))
		end := skip + prefs.maxPageSize
		if end < len(rows) {
			body[annotationNextLink] = nextLink(r, t.set, end)
		} else {
			end = len(rows)
		}
		rows = rows[skip:end]
		w.Header().Set("Preference-Applied", "odata.maxpagesize="+strconv.Itoa(prefs.maxPageSize))
	}

	value := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if _, ok := row[dvstore.AttrVersionNumber]; ok {
			row["@odata.etag"] = etag(row)
		}
		value = append(value, row)
	}
	body["value"] = value
	twincore.JSON(w, http.StatusOK, body)
}

func skipToken(q url.Values) (int, error) {
	raw := q.Get("$skiptoken")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid $skiptoken %q", fetchxml.ErrInvalidQuery, raw)
	}
	return n, nil
}

// nextLink is the absolute URL of the page starting at offset.
func nextLink(r *http.Request, set string, offset int) string {
	q := r.URL.Query()
	q.Set("$skiptoken", strconv.Itoa(offset))
	return serviceRoot(r) + "/" + set + "?" + q.Encode()
}

// UpdateRecord handles PATCH /{set}({id}). With If-Match: * the row must
// exist; without If-Match the request upserts. If-None-Match: * refuses to
// touch an existing row.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(r)
	if !t.keyed {
		twincore.Error(w, http.StatusMethodNotAllowed, record.CodeInvalidArgs, "PATCH requires a record key")
		return
	}
	id, err := record.ParseID(t.key)
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := decodePayload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ifMatch := r.Header.Get("If-Match")
	ifNoneMatch := r.Header.Get("If-None-Match")
	caller := callerFrom(r.Context())

	var row record.Payload
	created := false
	switch {
	case ifNoneMatch == "*":
		withID := payload.Clone()
		withID[dvstore.PrimaryKey(t.entity)] = id
		row, err = h.store.Create(t.entity, withID, caller)
		if errors.Is(err, record.ErrConflict) {
			err = fmt.Errorf("%w: a record with matching key values already exists", errPrecondition)
		}
		created = err == nil
	default:
		if err = h.checkETag(t.entity, id, ifMatch); err == nil {
			row, created, err = h.store.Update(t.entity, id, payload, ifMatch == "", caller)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if created {
		h.notify("Create", t.entity, id, caller, row)
	} else {
		h.notify("Update", t.entity, id, caller, payload)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeWritten(w, r, t, row, status)
}

// DeleteRecord handles DELETE /{set}({id}).
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	t := h.resolve(r)
	if !t.keyed {
		twincore.Error(w, http.StatusMethodNotAllowed, record.CodeInvalidArgs, "DELETE requires a record key")
		return
	}
	id, err := record.ParseID(t.key)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.checkETag(t.entity, id, r.Header.Get("If-Match")); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.Delete(t.entity, id); err != nil {
		writeError(w, err)
		return
	}
	h.notify("Delete", t.entity, id, callerFrom(r.Context()), nil)
	twincore.NoContent(w)
}

// checkETag enforces a specific If-Match entity tag. "" and "*" pass.
func (h *Handler) checkETag(entity, id, ifMatch string) error {
	if ifMatch == "" || ifMatch == "*" {
		return nil
	}
	row, err := h.store.Get(entity, id)
	if err != nil {
		return err
	}
	if etag(row) != ifMatch {
		return fmt.Errorf("%w: the version of the existing record doesn't match the RowVersion provided", errPrecondition)
	}
	return nil
}

// writeWritten answers a create or update: 204 with OData-EntityId, or the
// row itself under Prefer: return=representation.
func (h *Handler) writeWritten(w http.ResponseWriter, r *http.Request, t target, row record.Payload, status int) {
	id, _ := row.GetString(dvstore.PrimaryKey(t.entity))
	w.Header().Set("OData-EntityId", entityID(r, t.set, id))
	if parsePrefer(r).returnRepresentation {
		w.Header().Set("Preference-Applied", "return=representation")
		twincore.JSON(w, status, h.entityBody(r, t, row))
		return
	}
	twincore.NoContent(w)
}

func (h *Handler) notify(message, entity, id, caller string, target map[string]any) {
	if h.dispatcher == nil {
		return
	}
	h.dispatcher.Enqueue(message, entity, id, caller, target)
}

func decodePayload(r *http.Request) (record.Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", record.ErrBadRequest, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return record.Payload{}, nil
	}
	var payload record.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", record.ErrBadRequest, err)
	}
	if payload == nil {
		payload = record.Payload{}
	}
	return payload, nil
}

// writeError maps store and query errors onto OData error responses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, record.ErrNotFound):
		twincore.Error(w, http.StatusNotFound, record.CodeNotFound, err.Error())
	case errors.Is(err, record.ErrConflict):
		twincore.Error(w, http.StatusPreconditionFailed, record.CodeDuplicate, err.Error())
	case errors.Is(err, errPrecondition):
		twincore.Error(w, http.StatusPreconditionFailed, record.CodeConcurrency, err.Error())
	case errors.Is(err, record.ErrInvalidID), errors.Is(err, record.ErrBadRequest):
		twincore.Error(w, http.StatusBadRequest, record.CodeInvalidArgs, err.Error())
	case errors.Is(err, fetchxml.ErrInvalidQuery):
		twincore.Error(w, http.StatusBadRequest, record.CodeBadQuery, err.Error())
	default:
		twincore.Error(w, http.StatusInternalServerError, record.CodeUnexpected, err.Error())
	}
}
