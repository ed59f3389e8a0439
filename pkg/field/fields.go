package field

import (
	"errors"
	"fmt"
	"strings"
)

var WrongValueTypeErr = errors.New("unable to cast any to concrete type")

// EnvPrefix is prepended to every field name when it is looked up in the environment.
const EnvPrefix = "CATALOG_SYNC"

type Variant string

const (
	StringVariant Variant = "StringField"
	BoolVariant   Variant = "BoolField"
	IntVariant    Variant = "IntField"
)

type FieldRule struct {
	s *StringRules
	i *IntRules
}

type CLIConfig struct {
	Hidden     bool
	ShortHand  string
	Persistent bool
}

type SchemaField struct {
	FieldName    string
	Required     bool
	Secret       bool
	DefaultValue any
	Description  string

	Variant Variant
	Rules   FieldRule

	CLIConfig CLIConfig
}

type SchemaTypes interface {
	~string | ~bool | ~int
}

func (s SchemaField) GetName() string {
	return s.FieldName
}

func (s SchemaField) GetCLIShortHand() string {
	return s.CLIConfig.ShortHand
}

func (s SchemaField) IsPersistent() bool {
	return s.CLIConfig.Persistent
}

func (s SchemaField) IsHidden() bool {
	return s.CLIConfig.Hidden
}

// EnvName is the environment variable the field is bound to.
func (s SchemaField) EnvName() string {
	return fmt.Sprintf("%s_%s", EnvPrefix, toUpperCase(s.FieldName))
}

func (s SchemaField) GetDescription() string {
	var line string
	if s.Description == "" {
		line = fmt.Sprintf("($%s)", s.EnvName())
	} else {
		line = fmt.Sprintf("%s ($%s)", s.Description, s.EnvName())
	}

	if s.Required {
		line = fmt.Sprintf("required: %s", line)
	}

	return line
}

func toUpperCase(i string) string {
	return strings.ReplaceAll(strings.ToUpper(i), "-", "_")
}

// GetDefaultValue returns the default value of the field as T.
func GetDefaultValue[T SchemaTypes](s SchemaField) (*T, error) {
	value, ok := s.DefaultValue.(T)
	if !ok {
		return nil, WrongValueTypeErr
	}
	return &value, nil
}

func BoolField(name string, optional ...fieldOption) SchemaField {
	field := SchemaField{
		FieldName:    name,
		Variant:      BoolVariant,
		DefaultValue: false,
	}

	for _, o := range optional {
		field = o(field)
	}

	if field.Required {
		panic(fmt.Sprintf("requiring %s of type %s does not make sense", field.FieldName, field.Variant))
	}

	return field
}

func StringField(name string, optional ...fieldOption) SchemaField {
	field := SchemaField{
		FieldName:    name,
		Variant:      StringVariant,
		DefaultValue: "",
		Rules: FieldRule{
			s: &StringRules{},
		},
	}

	for _, o := range optional {
		field = o(field)
	}

	return field
}

func IntField(name string, optional ...fieldOption) SchemaField {
	field := SchemaField{
		FieldName:    name,
		Variant:      IntVariant,
		DefaultValue: 0,
		Rules: FieldRule{
			i: &IntRules{},
		},
	}

	for _, o := range optional {
		field = o(field)
	}

	return field
}

func SelectField(name string, options []string, optional ...fieldOption) SchemaField {
	field := StringField(name, optional...)
	field.Rules.s.In = options
	return field
}
