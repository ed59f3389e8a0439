package config

import (
	"github.com/conductorone/catalog-sync/pkg/field"
)

const (
	DefaultDBPath            = "catalog-sync.db"
	DefaultPageSize          = 10
	DefaultVariationBatch    = 5
	DefaultCategoryPageSize  = 100
	DefaultRequestsPerSecond = 5
	DefaultHTTPTimeout       = 60
	DefaultMaxRetries        = 3
)

var (
	SourceURLField            = field.StringField("source-url", field.WithURL(), field.WithDescription("Base URL of the store to copy from"))
	SourceConsumerKeyField    = field.StringField("source-consumer-key", field.WithIsSecret(true), field.WithDescription("REST API consumer key of the source store"))
	SourceConsumerSecretField = field.StringField("source-consumer-secret", field.WithIsSecret(true), field.WithDescription("REST API consumer secret of the source store"))

	DestURLField            = field.StringField("dest-url", field.WithURL(), field.WithDescription("Base URL of the store receiving categories"))
	DestConsumerKeyField    = field.StringField("dest-consumer-key", field.WithIsSecret(true), field.WithDescription("REST API consumer key of the destination store"))
	DestConsumerSecretField = field.StringField("dest-consumer-secret", field.WithIsSecret(true), field.WithDescription("REST API consumer secret of the destination store"))
	DestWPUserField         = field.StringField("dest-wp-user", field.WithDescription("WordPress user for media uploads on the destination"))
	DestWPAppPasswordField  = field.StringField("dest-wp-app-password", field.WithIsSecret(true), field.WithDescription("WordPress application password for media uploads"))

	DBField = field.StringField("db", field.WithShortHand("d"), field.WithDefaultValue(DefaultDBPath),
		field.WithDescription("Path of the local catalog database"), field.WithPersistent(true))

	PageSizeField = field.IntField("page-size", field.WithMin(1), field.WithDefaultValue(DefaultPageSize),
		field.WithDescription("Products fetched per page"))
	VariationBatchSizeField = field.IntField("variation-batch-size", field.WithMin(1), field.WithDefaultValue(DefaultVariationBatch),
		field.WithDescription("Variable products processed per variation batch"))
	CategoryPageSizeField = field.IntField("category-page-size", field.WithMin(1), field.WithDefaultValue(DefaultCategoryPageSize),
		field.WithDescription("Categories fetched per page"))

	RequestsPerSecondField = field.IntField("requests-per-second", field.WithMin(0), field.WithDefaultValue(DefaultRequestsPerSecond),
		field.WithDescription("Upper bound on outgoing requests per second, 0 disables the limit"))
	HTTPTimeoutField = field.IntField("http-timeout", field.WithMin(1), field.WithDefaultValue(DefaultHTTPTimeout),
		field.WithDescription("Timeout of a single HTTP request in seconds"))
	MaxRetriesField = field.IntField("max-retries", field.WithMin(0), field.WithDefaultValue(DefaultMaxRetries),
		field.WithDescription("Retries of a throttled or failed idempotent request"))
)

var fields = []field.SchemaField{
	SourceURLField,
	SourceConsumerKeyField,
	SourceConsumerSecretField,
	DestURLField,
	DestConsumerKeyField,
	DestConsumerSecretField,
	DestWPUserField,
	DestWPAppPasswordField,
	DBField,
	PageSizeField,
	VariationBatchSizeField,
	CategoryPageSizeField,
	RequestsPerSecondField,
	HTTPTimeoutField,
	MaxRetriesField,
}

var constraints = []field.SchemaFieldRelationship{
	field.FieldsRequiredTogether(SourceURLField, SourceConsumerKeyField, SourceConsumerSecretField),
	field.FieldsRequiredTogether(DestURLField, DestConsumerKeyField, DestConsumerSecretField),
	field.FieldsRequiredTogether(DestWPUserField, DestWPAppPasswordField),
	field.FieldsDependentOn([]field.SchemaField{DestWPUserField, DestWPAppPasswordField}, []field.SchemaField{DestURLField}),
}

// Schema is the configuration of the catalog-sync command.
var Schema = field.NewConfiguration(fields, constraints...)
