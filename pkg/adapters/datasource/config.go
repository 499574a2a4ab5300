package datasource

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeConfig decodes a datasource config map into out, a pointer to a
// struct with mapstructure tags. Numbers arriving as float64 (JSON) or
// strings are converted to the target field type.
func DecodeConfig(config map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("invalid datasource config: %w", err)
	}
	return nil
}

// KeywordValue formats one key=value pair of a libpq-style connection
// string, quoting the value when it is empty or contains spaces or quotes.
func KeywordValue(key, value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return key + "=" + value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return key + "='" + escaped + "'"
}
