package field

type fieldOption func(SchemaField) SchemaField

func WithRequired(required bool) fieldOption {
	return func(o SchemaField) SchemaField {
		o.Required = required
		return o
	}
}

func WithDescription(description string) fieldOption {
	return func(o SchemaField) SchemaField {
		o.Description = description

		return o
	}
}

func WithDefaultValue(value any) fieldOption {
	return func(o SchemaField) SchemaField {
		o.DefaultValue = value

		return o
	}
}

func WithHidden(hidden bool) fieldOption {
	return func(o SchemaField) SchemaField {
		o.CLIConfig.Hidden = hidden

		return o
	}
}

func WithShortHand(sh string) fieldOption {
	return func(o SchemaField) SchemaField {
		o.CLIConfig.ShortHand = sh

		return o
	}
}

func WithPersistent(value bool) fieldOption {
	return func(o SchemaField) SchemaField {
		o.CLIConfig.Persistent = value

		return o
	}
}

// WithIsSecret keeps the value out of debug output.
func WithIsSecret(secret bool) fieldOption {
	return func(o SchemaField) SchemaField {
		o.Secret = secret

		return o
	}
}

// WithURL requires a string field to hold an absolute http(s) URL when set.
func WithURL() fieldOption {
	return func(o SchemaField) SchemaField {
		if o.Rules.s != nil {
			o.Rules.s.URL = true
		}

		return o
	}
}

// WithMin sets the smallest accepted value of an int field.
func WithMin(min int) fieldOption {
	return func(o SchemaField) SchemaField {
		if o.Rules.i != nil {
			v := min
			o.Rules.i.Gte = &v
		}

		return o
	}
}
