package field

import "github.com/conductorone/catalog-sync/pkg/logging"

var (
	logFormatField     = SelectField("log-format", []string{logging.LogFormatJSON, logging.LogFormatConsole}, WithDefaultValue(logging.LogFormatJSON), WithDescription("The output format for logs: json, console"), WithPersistent(true))
	logLevelField      = StringField("log-level", WithDefaultValue("info"), WithDescription("The log level: debug, info, warn, error"), WithPersistent(true))
	metricsStdoutField = BoolField("metrics-stdout", WithHidden(true), WithDescription("Periodically print sync metrics to stdout"), WithPersistent(true))
)

// DefaultFields are present on every command regardless of the schema passed in.
var DefaultFields = []SchemaField{
	logFormatField,
	logLevelField,
	metricsStdoutField,
}

// EnsureDefaultFieldsExists appends any default field missing from originalFields.
func EnsureDefaultFieldsExists(originalFields []SchemaField) []SchemaField {
	var notfound []SchemaField

	for _, d := range DefaultFields {
		found := false
		for _, o := range originalFields {
			if o.FieldName == d.FieldName {
				found = true
				break
			}
		}
		if !found {
			notfound = append(notfound, d)
		}
	}

	return append(originalFields, notfound...)
}
