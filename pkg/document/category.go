package document

// DisplayModes are the accepted values of a category's "display" attribute.
var DisplayModes = []string{"default", "products", "subcategories", "both"}

type Image struct {
	ID   int64  `mapstructure:"id"`
	Src  string `mapstructure:"src"`
	Name string `mapstructure:"name"`
	Alt  string `mapstructure:"alt"`
}

// Category is the typed view of a remote product category.
type Category struct {
	ID          int64  `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Slug        string `mapstructure:"slug"`
	Parent      int64  `mapstructure:"parent"`
	Description string `mapstructure:"description"`
	Display     string `mapstructure:"display"`
	MenuOrder   int64  `mapstructure:"menu_order"`
	Image       *Image `mapstructure:"image"`
}

// DecodeCategory validates the id and reads the known category fields. A slug
// is derived from the name when the remote omits it.
func DecodeCategory(d Document) (Category, error) {
	var c Category
	id, err := d.ID()
	if err != nil {
		return c, err
	}

	view := make(map[string]any, len(d))
	for k, v := range d {
		if v == nil || k == "id" {
			continue
		}
		switch k {
		case "name", "slug", "parent", "description", "display", "menu_order":
			view[k] = v
		case "image":
			if obj, ok := asObject(v); ok {
				view[k] = map[string]any(obj)
			}
		}
	}
	if err := decode(view, &c); err != nil {
		return c, err
	}
	c.ID = id
	if c.Parent < 0 {
		c.Parent = 0
	}
	c.Slug = NormalizeSlug(c.Slug)
	if c.Slug == "" {
		c.Slug = NormalizeSlug(c.Name)
	}
	return c, nil
}

// Hash digests the fields that are written to a destination term. Remote
// bookkeeping such as the product "count" is left out.
func (c Category) Hash() (string, error) {
	d := Document{
		"name":        c.Name,
		"slug":        c.Slug,
		"parent":      c.Parent,
		"description": c.Description,
		"display":     c.Display,
	}
	if c.Image != nil {
		d["image"] = map[string]any{"src": c.Image.Src, "alt": c.Image.Alt}
	}
	return d.Hash()
}

// ParentID returns nil for top level categories.
func (c Category) ParentID() *int64 {
	if c.Parent <= 0 {
		return nil
	}
	p := c.Parent
	return &p
}

// ValidDisplayMode reports whether mode is one of DisplayModes.
func ValidDisplayMode(mode string) bool {
	for _, m := range DisplayModes {
		if m == mode {
			return true
		}
	}
	return false
}
