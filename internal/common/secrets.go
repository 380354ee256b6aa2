package common

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/ternarybob/arbor"
)

// secretRefPattern matches {NAME} references in strings
var secretRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// LookupFunc resolves a secret reference, usually os.LookupEnv
type LookupFunc func(name string) (string, bool)

// ExpandSecretRefs replaces {NAME} references with resolved values.
// Unresolved references are left unchanged and logged.
func ExpandSecretRefs(input string, lookup LookupFunc, logger arbor.ILogger) string {
	if input == "" {
		return input
	}

	return secretRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := lookup(name); ok {
			return value
		}
		logger.Warn().
			Str("reference", match).
			Msg("Unresolved secret reference")
		return match
	})
}

// ExpandSecretsInStruct walks a struct pointer and expands references in
// string fields, nested structs, slices and map[string]string values.
func ExpandSecretsInStruct(v interface{}, lookup LookupFunc, logger arbor.ILogger) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("ExpandSecretsInStruct requires a struct pointer, got %T", v)
	}
	expandValue(val.Elem(), lookup, logger)
	return nil
}

func expandValue(val reflect.Value, lookup LookupFunc, logger arbor.ILogger) {
	switch val.Kind() {
	case reflect.String:
		if val.CanSet() {
			val.SetString(ExpandSecretRefs(val.String(), lookup, logger))
		}

	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			if field := val.Field(i); field.CanSet() {
				expandValue(field, lookup, logger)
			}
		}

	case reflect.Ptr:
		if !val.IsNil() {
			expandValue(val.Elem(), lookup, logger)
		}

	case reflect.Slice:
		for i := 0; i < val.Len(); i++ {
			expandValue(val.Index(i), lookup, logger)
		}

	case reflect.Map:
		if val.Type().Key().Kind() == reflect.String && val.Type().Elem().Kind() == reflect.String {
			for _, key := range val.MapKeys() {
				expanded := ExpandSecretRefs(val.MapIndex(key).String(), lookup, logger)
				val.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
