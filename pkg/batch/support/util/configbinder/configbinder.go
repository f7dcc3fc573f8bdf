// Package configbinder decodes raw, YAML-sourced adapter configuration into typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Bind decodes raw into target using mapstructure.
// It uses the "yaml" tag for binding and allows weakly typed input, so values that
// arrive as strings from environment overrides still decode into numeric and bool fields.
func Bind(raw interface{}, target interface{}) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindNamed looks up name in a map of named adapter configurations and decodes it into target.
func BindNamed(configs map[string]interface{}, name string, target interface{}) error {
	raw, ok := configs[name]
	if !ok {
		return fmt.Errorf("configuration '%s' not found", name)
	}
	return Bind(raw, target)
}
