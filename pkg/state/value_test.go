package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) Value {
	t.Helper()
	var v Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestMerge_MapKeysCombineOneLevel(t *testing.T) {
	base := mustParse(t, `{"a":{"x":1}}`)
	delta := mustParse(t, `{"a":{"y":2}}`)

	got := Merge(base, delta)

	a, ok := got.Get("a")
	require.True(t, ok)
	x, _ := a.Get("x")
	y, _ := a.Get("y")
	xv, _ := x.NumberVal()
	yv, _ := y.NumberVal()
	assert.Equal(t, 1.0, xv)
	assert.Equal(t, 2.0, yv)
}

func TestMerge_ListValuesReplaceWholesale(t *testing.T) {
	base := mustParse(t, `{"b":[1,2]}`)
	delta := mustParse(t, `{"b":[3]}`)

	got := Merge(base, delta)

	b, ok := got.Get("b")
	require.True(t, ok)
	require.Equal(t, 1, b.Len())
	v, _ := b.Elems()[0].NumberVal()
	assert.Equal(t, 3.0, v)
}

func TestMerge_ScalarsReplace(t *testing.T) {
	base := mustParse(t, `{"route":"/posts","cursor":1}`)
	delta := mustParse(t, `{"cursor":2}`)

	got := Merge(base, delta)

	route, _ := got.Get("route")
	cursor, _ := got.Get("cursor")
	rs, _ := route.StringVal()
	cv, _ := cursor.NumberVal()
	assert.Equal(t, "/posts", rs)
	assert.Equal(t, 2.0, cv)
}

func TestMerge_InnerMapValuesReplaceNotDeepMerge(t *testing.T) {
	// The recursion is one level only: a map nested two levels down is
	// replaced wholesale, not combined.
	base := mustParse(t, `{"a":{"inner":{"keep":1}}}`)
	delta := mustParse(t, `{"a":{"inner":{"new":2}}}`)

	got := Merge(base, delta)

	a, _ := got.Get("a")
	inner, _ := a.Get("inner")
	_, hasKeep := inner.Get("keep")
	_, hasNew := inner.Get("new")
	assert.False(t, hasKeep, "second-level map should have been replaced")
	assert.True(t, hasNew)
}

func TestMerge_TypeChangeReplaces(t *testing.T) {
	base := mustParse(t, `{"a":{"x":1}}`)
	delta := mustParse(t, `{"a":"flattened"}`)

	got := Merge(base, delta)

	a, _ := got.Get("a")
	s, ok := a.StringVal()
	require.True(t, ok)
	assert.Equal(t, "flattened", s)
}

func TestMerge_NonMapBaseIsReplaced(t *testing.T) {
	got := Merge(String("old"), mustParse(t, `{"k":1}`))
	assert.Equal(t, KindMap, got.Kind())
}

func TestMerge_DoesNotMutateBase(t *testing.T) {
	base := mustParse(t, `{"a":{"x":1}}`)
	_ = Merge(base, mustParse(t, `{"a":{"y":2}}`))

	a, _ := base.Get("a")
	_, hasY := a.Get("y")
	assert.False(t, hasY, "merge must not write through to the base value")
}

func TestCanonical_KeyOrderIndependent(t *testing.T) {
	v1 := mustParse(t, `{"b":2,"a":{"z":1,"y":[1,2]}}`)
	v2 := mustParse(t, `{"a":{"y":[1,2],"z":1},"b":2}`)

	assert.Equal(t, v1.Canonical(), v2.Canonical())
	assert.Equal(t, `{"a":{"y":[1,2],"z":1},"b":2}`, v1.Canonical())
}

func TestCanonical_ListOrderSignificant(t *testing.T) {
	v1 := mustParse(t, `{"tags":["go","blog"]}`)
	v2 := mustParse(t, `{"tags":["blog","go"]}`)
	assert.NotEqual(t, v1.Canonical(), v2.Canonical())
}

func TestCacheKeyFor_Deterministic(t *testing.T) {
	f1 := mustParse(t, `{"author":"ada","tag":"go"}`)
	f2 := mustParse(t, `{"tag":"go","author":"ada"}`)

	assert.Equal(t, CacheKeyFor(f1, "newest"), CacheKeyFor(f2, "newest"))
	assert.NotEqual(t, CacheKeyFor(f1, "newest"), CacheKeyFor(f1, "oldest"))
	assert.NotEqual(t, CacheKeyFor(f1, "newest"), CacheKeyFor(mustParse(t, `{"author":"ada"}`), "newest"))
}

func TestValue_JSONRoundTrip(t *testing.T) {
	raw := `{"route":"/posts","pagination":{"cursor":3},"tags":["a","b"],"flag":true,"nothing":null}`
	v := mustParse(t, raw)

	out, err := json.Marshal(v)
	require.NoError(t, err)

	var v2 Value
	require.NoError(t, json.Unmarshal(out, &v2))
	assert.Equal(t, v.Canonical(), v2.Canonical())
}
