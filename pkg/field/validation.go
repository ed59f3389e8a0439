package field

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type StringRules struct {
	In  []string
	URL bool
}

type IntRules struct {
	Gte *int
}

type ErrConfigurationMissingFields struct {
	errors []error
}

func (e *ErrConfigurationMissingFields) Error() string {
	var messages []string

	for _, err := range e.errors {
		messages = append(messages, err.Error())
	}

	return fmt.Sprintf("errors found:\n%s", strings.Join(messages, "\n"))
}

func (e *ErrConfigurationMissingFields) Push(err error) {
	e.errors = append(e.errors, err)
}

func (r *StringRules) Validate(v string, name string) error {
	if r == nil || v == "" {
		return nil
	}

	if len(r.In) > 0 {
		found := false
		for _, o := range r.In {
			if o == v {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("field %s: value must be one of %v but got '%s'", name, r.In, v)
		}
	}

	if r.URL {
		u, err := url.Parse(v)
		if err != nil {
			return fmt.Errorf("field %s: value must be a valid URL: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("field %s: URL scheme must be http or https but got '%s'", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("field %s: URL must include a host", name)
		}
	}

	return nil
}

func (r *IntRules) Validate(v int, name string) error {
	if r == nil {
		return nil
	}
	if r.Gte != nil && v < *r.Gte {
		return fmt.Errorf("field %s: value must be greater than or equal to %d but got %d", name, *r.Gte, v)
	}
	return nil
}

// Validate checks values in v against the schema's per-field rules and relationship constraints.
func Validate(c Configuration, v *viper.Viper) error {
	present := make(map[string]int)
	missingFieldsError := &ErrConfigurationMissingFields{}

	for _, f := range c.Fields {
		isNonZero := false
		switch f.Variant {
		case BoolVariant:
			isNonZero = v.GetBool(f.FieldName)
		case IntVariant:
			value := v.GetInt(f.FieldName)
			isNonZero = value != 0
			if err := f.Rules.i.Validate(value, f.FieldName); err != nil {
				missingFieldsError.Push(err)
			}
		case StringVariant:
			value := v.GetString(f.FieldName)
			isNonZero = value != ""
			if err := f.Rules.s.Validate(value, f.FieldName); err != nil {
				missingFieldsError.Push(err)
			}
		default:
			return fmt.Errorf("field %s has unsupported type %s", f.FieldName, f.Variant)
		}

		if isNonZero {
			present[f.FieldName] = 1
		}

		if f.Required && !isNonZero {
			missingFieldsError.Push(fmt.Errorf("field %s of type %s is marked as required but it has a zero-value", f.FieldName, strings.TrimSuffix(strings.ToLower(string(f.Variant)), "field")))
		}
	}

	if len(missingFieldsError.errors) > 0 {
		return missingFieldsError
	}

	return validateConstraints(present, c.Constraints)
}

func validateConstraints(fieldsPresent map[string]int, relationships []SchemaFieldRelationship) error {
	for _, relationship := range relationships {
		var present int
		for _, f := range relationship.Fields {
			present += fieldsPresent[f.FieldName]
		}

		var expected int
		for _, e := range relationship.ExpectedFields {
			expected += fieldsPresent[e.FieldName]
		}

		switch relationship.Kind {
		case RequiredTogether:
			if present > 0 && present < len(relationship.Fields) {
				return makeNeededTogetherError(fieldsPresent, relationship)
			}
		case Dependents:
			if present > 0 && expected != len(relationship.ExpectedFields) {
				return makeDependentFieldsError(fieldsPresent, relationship)
			}
		default:
			return errors.New("invalid relationship constraint")
		}
	}

	return nil
}

func nice(elements []string) string {
	return strings.Join(elements, ", ")
}

func makeNeededTogetherError(fields map[string]int, relation SchemaFieldRelationship) error {
	var found []string
	for _, f := range relation.Fields {
		if fields[f.FieldName] == 0 {
			found = append(found, f.FieldName)
		}
	}

	return fmt.Errorf(
		"fields marked as needed together are missing: %s",
		nice(found),
	)
}

func makeDependentFieldsError(fields map[string]int, relation SchemaFieldRelationship) error {
	var notfoundExpected []string
	for _, n := range relation.ExpectedFields {
		if fields[n.FieldName] == 0 {
			notfoundExpected = append(notfoundExpected, n.FieldName)
		}
	}

	var foundDependent []string
	for _, f := range relation.Fields {
		if fields[f.FieldName] == 1 {
			foundDependent = append(foundDependent, f.FieldName)
		}
	}

	return fmt.Errorf(
		"set fields %s are dependent on %s being set",
		nice(foundDependent),
		nice(notfoundExpected),
	)
}
