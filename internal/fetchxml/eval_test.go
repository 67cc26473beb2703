package fetchxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accounts() []map[string]any {
	return []map[string]any{
		{"accountid": "a1", "name": "Fabrikam", "revenue": 5000.0, "telephone1": "555-0100", "active": true},
		{"accountid": "a2", "name": "contoso", "revenue": 15000.0, "telephone1": nil, "active": false},
		{"accountid": "a3", "name": "Adventure Works", "revenue": 5000.0, "active": true},
		{"accountid": "a4", "revenue": 100.0, "active": true},
		{"accountid": "a5", "name": "Contoso Pharma", "revenue": 250000.0, "telephone1": "555-0199", "active": false},
	}
}

func ids(rows []map[string]any) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["accountid"].(string))
	}
	return out
}

func str(s string) *string { return &s }

func TestEvaluateDefaultQuerySortsByNameNullsFirst(t *testing.T) {
	res, err := DefaultAccountQuery().Evaluate(accounts(), "accountid")
	require.NoError(t, err)

	assert.Equal(t, []string{"a4", "a3", "a2", "a5", "a1"}, ids(res.Rows))
	assert.Equal(t, -1, res.TotalCount)
	assert.False(t, res.MoreRecords)

	// projection keeps only requested attributes that are present
	assert.NotContains(t, res.Rows[1], "revenue")
	assert.Equal(t, "Adventure Works", res.Rows[1]["name"])
}

func TestEvaluateDescendingMultiKeyStable(t *testing.T) {
	q := New("account").OrderBy("revenue", true).OrderBy("name", false)
	res, err := q.Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a5", "a2", "a3", "a1", "a4"}, ids(res.Rows))
}

func TestEvaluateUnorderedKeepsInputOrder(t *testing.T) {
	res, err := New("account").Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, ids(res.Rows))
	// no attributes requested returns all columns
	assert.Equal(t, 5000.0, res.Rows[0]["revenue"])
}

func TestEvaluateConditions(t *testing.T) {
	tests := []struct {
		name string
		q    *Fetch
		want []string
	}{
		{"eq number", New("account").Where("revenue", OpEqual, 5000), []string{"a1", "a3"}},
		{"eq string case-insensitive", New("account").Where("name", OpEqual, "CONTOSO"), []string{"a2"}},
		{"ne skips nulls", New("account").Where("name", OpNotEqual, "contoso"), []string{"a1", "a3", "a5"}},
		{"gt", New("account").Where("revenue", OpGreater, 5000), []string{"a2", "a5"}},
		{"le", New("account").Where("revenue", OpLessEqual, 5000), []string{"a1", "a3", "a4"}},
		{"like prefix", New("account").Where("name", OpLike, "contoso%"), []string{"a2", "a5"}},
		{"like single char", New("account").Where("name", OpLike, "_abrikam"), []string{"a1"}},
		{"not-like", New("account").Where("name", OpNotLike, "%a%"), []string{"a2"}},
		{"begins-with", New("account").Where("name", OpBeginsWith, "adv"), []string{"a3"}},
		{"ends-with", New("account").Where("name", OpEndsWith, "PHARMA"), []string{"a5"}},
		{"null", New("account").Where("telephone1", OpNull), []string{"a2", "a3", "a4"}},
		{"not-null", New("account").Where("telephone1", OpNotNull), []string{"a1", "a5"}},
		{"in", New("account").Where("revenue", OpIn, 100, 15000), []string{"a2", "a4"}},
		{"not-in", New("account").Where("revenue", OpNotIn, 5000), []string{"a2", "a4", "a5"}},
		{"bool", New("account").Where("active", OpEqual, false), []string{"a2", "a5"}},
		{"and", New("account").Where("active", OpEqual, true).Where("revenue", OpGreater, 1000), []string{"a1", "a3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.q.Evaluate(accounts(), "accountid")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.Rows))
		})
	}
}

func TestEvaluateOrFilterWithNestedAnd(t *testing.T) {
	q := New("account")
	q.Entity.Filters = []Filter{{
		Type: "or",
		Conditions: []Condition{
			{Attribute: "revenue", Operator: OpEqual, Value: str("100")},
		},
		Filters: []Filter{{
			Conditions: []Condition{
				{Attribute: "name", Operator: OpLike, Value: str("contoso%")},
				{Attribute: "active", Operator: OpEqual, Value: str("0")},
				{Attribute: "telephone1", Operator: OpNotNull},
			},
		}},
	}}
	res, err := q.Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a4", "a5"}, ids(res.Rows))
}

func TestEvaluateTypeMismatch(t *testing.T) {
	_, err := New("account").Where("revenue", OpGreater, "lots").Evaluate(accounts(), "accountid")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestEvaluateTop(t *testing.T) {
	res, err := New("account").OrderBy("revenue", true).Limit(2).Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a5", "a2"}, ids(res.Rows))
	assert.False(t, res.MoreRecords)
}

func TestEvaluatePaging(t *testing.T) {
	q := New("account").Select("name").OrderBy("accountid", false).Paged(2, 1).WithTotalCount()

	res, err := q.Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(res.Rows))
	assert.True(t, res.MoreRecords)
	assert.Equal(t, 5, res.TotalCount)
	assert.Equal(t, `<cookie page="1"><accountid last="{a2}" first="{a1}" /></cookie>`, res.PagingCookie)

	q.Page = 3
	res, err = q.Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a5"}, ids(res.Rows))
	assert.False(t, res.MoreRecords)
	assert.Empty(t, res.PagingCookie)

	q.Page = 9
	res, err = q.Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestEvaluateDistinct(t *testing.T) {
	q := New("account").Select("revenue").Where("revenue", OpEqual, 5000)
	q.Distinct = true
	res, err := q.Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
}

func TestEvaluateAlias(t *testing.T) {
	q := New("account")
	q.Entity.Attributes = []Attribute{{Name: "name", Alias: "company"}}
	res, err := q.Where("accountid", OpEqual, "a1").Evaluate(accounts(), "accountid")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Fabrikam", res.Rows[0]["company"])
	assert.NotContains(t, res.Rows[0], "name")
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	rows := accounts()
	res, err := DefaultAccountQuery().Evaluate(rows, "accountid")
	require.NoError(t, err)
	require.Equal(t, "a4", res.Rows[0]["accountid"])
	res.Rows[0]["name"] = "changed"
	assert.NotContains(t, rows[3], "name")
}

func TestLikeMatch(t *testing.T) {
	assert.True(t, likeMatch("Contoso Ltd", "%ltd"))
	assert.True(t, likeMatch("abc", "a%c"))
	assert.True(t, likeMatch("abc", "%"))
	assert.True(t, likeMatch("", "%"))
	assert.False(t, likeMatch("abc", "a_"))
	assert.False(t, likeMatch("abc", "b%"))
}

func TestEvaluateEmptyStringValue(t *testing.T) {
	q, err := Parse(`<fetch><entity name="account"><filter><condition attribute="name" operator="eq" value=""/></filter></entity></fetch>`)
	require.NoError(t, err)

	rows := append(accounts(), map[string]any{"accountid": "a6", "name": ""})
	res, err := q.Evaluate(rows, "accountid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a6"}, ids(res.Rows))
}
