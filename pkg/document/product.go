package document

import (
	"github.com/mitchellh/mapstructure"
)

const ProductTypeVariable = "variable"

// Product is the typed view of the product fields the engine relies on.
type Product struct {
	ID     int64  `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Type   string `mapstructure:"type"`
	SKU    string `mapstructure:"sku"`
	Status string `mapstructure:"status"`
}

// CategoryRef is one element of a product's "categories" list. SourceID is
// only present once the reference has been rewritten to a destination id.
type CategoryRef struct {
	ID       int64  `mapstructure:"id"`
	SourceID int64  `mapstructure:"source_id"`
	Name     string `mapstructure:"name"`
	Slug     string `mapstructure:"slug"`
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// DecodeProduct validates the id and reads the known product fields.
func DecodeProduct(d Document) (Product, error) {
	var p Product
	id, err := d.ID()
	if err != nil {
		return p, err
	}
	view := map[string]any{}
	for _, k := range []string{"name", "type", "sku", "status"} {
		if v, ok := d[k]; ok && v != nil {
			view[k] = v
		}
	}
	if err := decode(view, &p); err != nil {
		return p, err
	}
	p.ID = id
	return p, nil
}

// IsVariable reports whether the product has variations that need a separate fetch.
func IsVariable(d Document) bool {
	if d.String("type") == ProductTypeVariable {
		return true
	}
	return len(asList(d["variations"])) > 0
}

// VariationIDs returns the ids in "variations", which holds either bare ids as
// delivered by the remote API or full variation objects once merged.
func VariationIDs(d Document) []int64 {
	var ids []int64
	for _, v := range asList(d["variations"]) {
		if obj, ok := asObject(v); ok {
			v = obj["id"]
		}
		if id, ok := NumericID(v); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// MergedVariations returns the variation objects previously merged into d.
func MergedVariations(d Document) []Document {
	var ret []Document
	for _, v := range asList(d["variations"]) {
		if obj, ok := asObject(v); ok {
			ret = append(ret, obj)
		}
	}
	return ret
}

// SanitizeVariations keeps the variations that carry a numeric id.
func SanitizeVariations(items []Document) ([]Document, int) {
	kept := make([]Document, 0, len(items))
	dropped := 0
	for _, item := range items {
		if item == nil {
			dropped++
			continue
		}
		if _, err := item.ID(); err != nil {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	return kept, dropped
}

// WithVariations returns a copy of d with "variations" replaced by items.
func WithVariations(d Document, items []Document) Document {
	out := d.Clone()
	list := make([]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any(item.Clone()))
	}
	out["variations"] = list
	return out
}

// CategoryRefs returns the typed category references of a product. Elements
// without a usable id are skipped.
func CategoryRefs(d Document) []CategoryRef {
	var refs []CategoryRef
	for _, v := range asList(d["categories"]) {
		obj, ok := asObject(v)
		if !ok {
			continue
		}
		var ref CategoryRef
		if err := decode(map[string]any(obj), &ref); err != nil {
			continue
		}
		if ref.ID <= 0 && ref.SourceID <= 0 {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// Source is the remote category id the reference points at.
func (r CategoryRef) Source() int64 {
	if r.SourceID > 0 {
		return r.SourceID
	}
	return r.ID
}

// Mapped reports whether the reference already carries destID.
func (r CategoryRef) Mapped(destID int64) bool {
	return r.SourceID > 0 && r.ID == destID
}

// ReferencedCategoryIDs returns the distinct remote category ids of a product.
func ReferencedCategoryIDs(d Document) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, ref := range CategoryRefs(d) {
		id := ref.Source()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// RemapCategories rewrites category references to destination ids using lookup.
// It returns the rewritten copy, whether anything changed, and the source ids
// that have no destination yet.
func RemapCategories(d Document, lookup func(sourceID int64) (int64, bool)) (Document, bool, []int64) {
	list := asList(d["categories"])
	if len(list) == 0 {
		return d, false, nil
	}

	out := d.Clone()
	newList := asList(out["categories"])
	changed := false
	var unmapped []int64

	for i, v := range newList {
		obj, ok := asObject(v)
		if !ok {
			continue
		}
		var ref CategoryRef
		if err := decode(map[string]any(obj), &ref); err != nil {
			continue
		}
		src := ref.Source()
		if src <= 0 {
			continue
		}
		dest, ok := lookup(src)
		if !ok {
			unmapped = append(unmapped, src)
			continue
		}
		if ref.Mapped(dest) {
			continue
		}
		obj["source_id"] = src
		obj["id"] = dest
		newList[i] = obj
		changed = true
	}

	if !changed {
		return d, false, unmapped
	}
	out["categories"] = newList
	return out, true, unmapped
}
