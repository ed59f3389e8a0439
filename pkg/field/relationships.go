package field

type Relationship int

const (
	RequiredTogether Relationship = iota + 1
	Dependents
)

type SchemaFieldRelationship struct {
	Kind           Relationship
	Fields         []SchemaField
	ExpectedFields []SchemaField
}

func FieldsRequiredTogether(fields ...SchemaField) SchemaFieldRelationship {
	return SchemaFieldRelationship{
		Kind:   RequiredTogether,
		Fields: fields,
	}
}

func FieldsDependentOn(dependent []SchemaField, expected []SchemaField) SchemaFieldRelationship {
	return SchemaFieldRelationship{
		Kind:           Dependents,
		Fields:         dependent,
		ExpectedFields: expected,
	}
}
