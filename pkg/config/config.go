package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conductorone/catalog-sync/pkg/field"
)

// ConfigPathEnv overrides the location of the optional yaml config file.
const ConfigPathEnv = "CATALOG_SYNC_CONFIG_PATH"

var (
	ErrSourceNotConfigured      = errors.New("source store is not configured: set source-url, source-consumer-key and source-consumer-secret")
	ErrDestinationNotConfigured = errors.New("destination store is not configured: set dest-url, dest-consumer-key and dest-consumer-secret")
)

// Endpoint is a store reachable over the REST API.
type Endpoint struct {
	URL            string
	ConsumerKey    string
	ConsumerSecret string
}

func (e Endpoint) Configured() bool {
	return e.URL != "" && e.ConsumerKey != "" && e.ConsumerSecret != ""
}

type Config struct {
	Source      Endpoint
	Destination Endpoint

	MediaUser     string
	MediaPassword string

	DBPath string

	PageSize           int
	VariationBatchSize int
	CategoryPageSize   int

	RequestsPerSecond int
	HTTPTimeout       time.Duration
	MaxRetries        int

	LogLevel      string
	LogFormat     string
	MetricsStdout bool
}

// RequireSource fails when the source store credentials are incomplete.
func (c *Config) RequireSource() error {
	if !c.Source.Configured() {
		return ErrSourceNotConfigured
	}
	return nil
}

// RequireDestination fails when the destination store credentials are incomplete.
func (c *Config) RequireDestination() error {
	if !c.Destination.Configured() {
		return ErrDestinationNotConfigured
	}
	return nil
}

// Load validates v against schema and returns the typed configuration.
func Load(v *viper.Viper, schema field.Configuration) (*Config, error) {
	schema.Fields = field.EnsureDefaultFieldsExists(schema.Fields)
	if err := field.Validate(schema, v); err != nil {
		return nil, err
	}

	return &Config{
		Source: Endpoint{
			URL:            v.GetString(SourceURLField.FieldName),
			ConsumerKey:    v.GetString(SourceConsumerKeyField.FieldName),
			ConsumerSecret: v.GetString(SourceConsumerSecretField.FieldName),
		},
		Destination: Endpoint{
			URL:            v.GetString(DestURLField.FieldName),
			ConsumerKey:    v.GetString(DestConsumerKeyField.FieldName),
			ConsumerSecret: v.GetString(DestConsumerSecretField.FieldName),
		},
		MediaUser:          v.GetString(DestWPUserField.FieldName),
		MediaPassword:      v.GetString(DestWPAppPasswordField.FieldName),
		DBPath:             v.GetString(DBField.FieldName),
		PageSize:           v.GetInt(PageSizeField.FieldName),
		VariationBatchSize: v.GetInt(VariationBatchSizeField.FieldName),
		CategoryPageSize:   v.GetInt(CategoryPageSizeField.FieldName),
		RequestsPerSecond:  v.GetInt(RequestsPerSecondField.FieldName),
		HTTPTimeout:        time.Duration(v.GetInt(HTTPTimeoutField.FieldName)) * time.Second,
		MaxRetries:         v.GetInt(MaxRetriesField.FieldName),
		LogLevel:           v.GetString("log-level"),
		LogFormat:          v.GetString("log-format"),
		MetricsStdout:      v.GetBool("metrics-stdout"),
	}, nil
}

// DefineConfiguration builds the root command with one persistent flag per
// schema field, bound to viper together with CATALOG_SYNC_* environment
// variables and an optional .catalog-sync.yaml file.
func DefineConfiguration(name string, schema field.Configuration) (*viper.Viper, *cobra.Command, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	path, cfgName, err := CleanOrGetConfigPath(os.Getenv(ConfigPathEnv))
	if err != nil {
		return nil, nil, err
	}
	v.SetConfigName(cfgName)
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, err
		}
	}
	v.SetEnvPrefix(field.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	schema.Fields = field.EnsureDefaultFieldsExists(schema.Fields)

	mainCMD := &cobra.Command{
		Use:           name,
		Short:         "Copy a remote product catalog into a local store, resumably",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := mainCMD.PersistentFlags()
	for _, f := range schema.Fields {
		if err := addFlag(flags, f); err != nil {
			return nil, nil, err
		}
		if f.IsHidden() {
			if err := flags.MarkHidden(f.FieldName); err != nil {
				return nil, nil, fmt.Errorf("cannot hide field %s, %s: %w", f.FieldName, f.Variant, err)
			}
		}
	}

	if err := v.BindPFlags(flags); err != nil {
		return nil, nil, err
	}

	return v, mainCMD, nil
}

func addFlag(flags *pflag.FlagSet, f field.SchemaField) error {
	switch f.Variant {
	case field.BoolVariant:
		value, err := field.GetDefaultValue[bool](f)
		if err != nil {
			return fmt.Errorf("field %s, %s: %w", f.FieldName, f.Variant, err)
		}
		flags.BoolP(f.FieldName, f.GetCLIShortHand(), *value, f.GetDescription())
	case field.IntVariant:
		value, err := field.GetDefaultValue[int](f)
		if err != nil {
			return fmt.Errorf("field %s, %s: %w", f.FieldName, f.Variant, err)
		}
		flags.IntP(f.FieldName, f.GetCLIShortHand(), *value, f.GetDescription())
	case field.StringVariant:
		value, err := field.GetDefaultValue[string](f)
		if err != nil {
			return fmt.Errorf("field %s, %s: %w", f.FieldName, f.Variant, err)
		}
		flags.StringP(f.FieldName, f.GetCLIShortHand(), *value, f.GetDescription())
	default:
		return fmt.Errorf("field %s, %s is not yet supported", f.FieldName, f.Variant)
	}
	return nil
}

// CleanOrGetConfigPath splits customPath into a directory and a config name
// without extension. An empty path resolves to ./.catalog-sync.
func CleanOrGetConfigPath(customPath string) (string, string, error) {
	if customPath != "" {
		cfgDir, cfgFile := filepath.Split(filepath.Clean(customPath))
		if cfgDir == "" {
			cfgDir = "."
		}

		ext := filepath.Ext(cfgFile)
		if ext == "" || (ext != ".yaml" && ext != ".yml") {
			return "", "", errors.New("expected config file to have .yaml or .yml extension")
		}

		return strings.TrimSuffix(cfgDir, string(filepath.Separator)), strings.TrimSuffix(cfgFile, ext), nil
	}

	return ".", ".catalog-sync", nil
}
