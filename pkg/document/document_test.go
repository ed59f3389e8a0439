package document

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Document {
	t.Helper()
	d, err := Parse([]byte(s))
	require.NoError(t, err)
	return d
}

func TestParsePreservesUnknownFields(t *testing.T) {
	raw := `{"id":12,"name":"Shirt","x_custom":{"nested":[1,2,3]},"price":"19.99","big":12345678901234567890}`
	d := mustParse(t, raw)

	out, err := d.Marshal()
	require.NoError(t, err)
	require.JSONEq(t, raw, string(out))
}

func TestParseRejectsNonObject(t *testing.T) {
	_, err := Parse([]byte(`[1,2]`))
	require.ErrorIs(t, err, ErrNotObject)

	_, err = ParseList([]byte(`{"code":"rest_no_route"}`))
	require.ErrorIs(t, err, ErrNotList)
}

func TestID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr error
	}{
		{name: "number", raw: `{"id":42}`, want: 42},
		{name: "numeric string", raw: `{"id":"42"}`, want: 42},
		{name: "missing", raw: `{"name":"x"}`, wantErr: ErrMissingID},
		{name: "null", raw: `{"id":null}`, wantErr: ErrMissingID},
		{name: "word", raw: `{"id":"abc"}`, wantErr: ErrNonNumericID},
		{name: "fraction", raw: `{"id":1.5}`, wantErr: ErrNonNumericID},
		{name: "zero", raw: `{"id":0}`, wantErr: ErrNonNumericID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := mustParse(t, tt.raw).ID()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, id)
		})
	}
}

func TestDecodeProduct(t *testing.T) {
	p, err := DecodeProduct(mustParse(t, `{"id":7,"name":"Mug","type":"simple","sku":"MUG-1","status":"publish"}`))
	require.NoError(t, err)
	require.Equal(t, Product{ID: 7, Name: "Mug", Type: "simple", SKU: "MUG-1", Status: "publish"}, p)

	_, err = DecodeProduct(mustParse(t, `{"name":"nameless"}`))
	require.ErrorIs(t, err, ErrMissingID)
}

func TestIsVariableAndVariationIDs(t *testing.T) {
	require.True(t, IsVariable(mustParse(t, `{"id":1,"type":"variable"}`)))
	require.True(t, IsVariable(mustParse(t, `{"id":1,"type":"simple","variations":[5]}`)))
	require.False(t, IsVariable(mustParse(t, `{"id":1,"type":"simple","variations":[]}`)))

	d := mustParse(t, `{"id":1,"variations":[10,"11",{"id":12},{"sku":"x"}]}`)
	require.Equal(t, []int64{10, 11, 12}, VariationIDs(d))
}

func TestWithVariationsSanitizes(t *testing.T) {
	product := mustParse(t, `{"id":1,"type":"variable","variations":[10,11]}`)
	items, err := ParseList([]byte(`[{"id":10,"sku":"A"},{"sku":"no-id"},5,{"id":11}]`))
	require.NoError(t, err)

	kept, dropped := SanitizeVariations(items)
	require.Equal(t, 2, dropped)
	merged := WithVariations(product, kept)

	require.Equal(t, []int64{10, 11}, VariationIDs(merged))
	require.Len(t, MergedVariations(merged), 2)
	require.Empty(t, MergedVariations(product))

	b, err := merged.Marshal()
	require.NoError(t, err)
	require.JSONEq(t, `{"id":1,"type":"variable","variations":[{"id":10,"sku":"A"},{"id":11}]}`, string(b))
}

func TestRemapCategoriesIsIdempotent(t *testing.T) {
	d := mustParse(t, `{"id":1,"categories":[{"id":3,"name":"A","slug":"a"},{"id":4,"name":"B","slug":"b"}]}`)
	mapping := map[int64]int64{3: 103}
	lookup := func(id int64) (int64, bool) {
		v, ok := mapping[id]
		return v, ok
	}

	out, changed, unmapped := RemapCategories(d, lookup)
	require.True(t, changed)
	require.Equal(t, []int64{4}, unmapped)

	want := []CategoryRef{
		{ID: 103, SourceID: 3, Name: "A", Slug: "a"},
		{ID: 4, Name: "B", Slug: "b"},
	}
	require.Empty(t, cmp.Diff(want, CategoryRefs(out)))
	require.Equal(t, []int64{3, 4}, ReferencedCategoryIDs(out))

	// the input is left untouched
	require.Equal(t, json.Number("3"), d["categories"].([]any)[0].(map[string]any)["id"])

	again, changed, _ := RemapCategories(out, lookup)
	require.False(t, changed)
	require.Empty(t, cmp.Diff(CategoryRefs(out), CategoryRefs(again)))

	mapping[4] = 104
	final, changed, unmapped := RemapCategories(again, lookup)
	require.True(t, changed)
	require.Empty(t, unmapped)
	require.Equal(t, []int64{3, 4}, ReferencedCategoryIDs(final))
}

func TestRemapFollowsChangedDestination(t *testing.T) {
	d := mustParse(t, `{"id":1,"categories":[{"id":103,"source_id":3}]}`)
	out, changed, _ := RemapCategories(d, func(int64) (int64, bool) { return 200, true })
	require.True(t, changed)
	require.Equal(t, []CategoryRef{{ID: 200, SourceID: 3}}, CategoryRefs(out))
}

func TestDecodeCategory(t *testing.T) {
	c, err := DecodeCategory(mustParse(t, `{"id":9,"name":"Café Tables","slug":"","parent":0,"display":"both","image":{"id":3,"src":"https://img/x.jpg","alt":"x"}}`))
	require.NoError(t, err)
	require.Equal(t, "cafe-tables", c.Slug)
	require.Nil(t, c.ParentID())
	require.Equal(t, "both", c.Display)
	require.NotNil(t, c.Image)
	require.Equal(t, "https://img/x.jpg", c.Image.Src)

	child, err := DecodeCategory(mustParse(t, `{"id":10,"name":"Chairs","slug":"chairs","parent":"9","image":null}`))
	require.NoError(t, err)
	require.Equal(t, int64(9), *child.ParentID())
	require.Nil(t, child.Image)
}

func TestNormalizeSlug(t *testing.T) {
	tests := map[string]string{
		"Hello World":        "hello-world",
		"  Déjà  Vu!! ":      "deja-vu",
		"already-a-slug":     "already-a-slug",
		"T-Shirts & Tops":    "t-shirts-tops",
		"%d0%be%d0%b4%d0%b5": "%d0%be%d0%b4%d0%b5",
	}
	for in, want := range tests {
		require.Equal(t, want, NormalizeSlug(in), in)
	}
}

func TestHashIsStable(t *testing.T) {
	a := mustParse(t, `{"b":1,"a":{"y":2,"x":1}}`)
	b := mustParse(t, `{"a":{"x":1,"y":2},"b":1}`)
	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	require.Equal(t, ha, hb)
}

func TestCategoryHashCoversTermFields(t *testing.T) {
	hash := func(s string) string {
		t.Helper()
		c, err := DecodeCategory(mustParse(t, s))
		require.NoError(t, err)
		h, err := c.Hash()
		require.NoError(t, err)
		return h
	}

	base := hash(`{"id":1,"name":"Lamps","slug":"lamps","count":4}`)
	require.Equal(t, base, hash(`{"id":1,"name":"Lamps","slug":"lamps","count":12,"_links":{"self":[]}}`))
	require.NotEqual(t, base, hash(`{"id":1,"name":"Lighting","slug":"lamps","count":4}`))
	require.NotEqual(t, base, hash(`{"id":1,"name":"Lamps","slug":"lamps","parent":3}`))
	require.NotEqual(t, base, hash(`{"id":1,"name":"Lamps","slug":"lamps","image":{"src":"https://img/l.png"}}`))
}

func TestValidDisplayMode(t *testing.T) {
	require.True(t, ValidDisplayMode("subcategories"))
	require.False(t, ValidDisplayMode("grid"))
}
