package configtest

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

const modulePath = "github.com/livekit/dynascale"

// CheckYAMLTags reports non-bool fields of this module's config types missing an omitempty tag.
// Types from other modules are not inspected.
func CheckYAMLTags(config any) error {
	return checkYAMLTags(reflect.TypeOf(config), map[reflect.Type]struct{}{})
}

func checkYAMLTags(t reflect.Type, seen map[reflect.Type]struct{}) error {
	if _, ok := seen[t]; ok {
		return nil
	}
	seen[t] = struct{}{}

	switch t.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.Pointer:
		return checkYAMLTags(t.Elem(), seen)
	case reflect.Struct:
	default:
		return nil
	}

	if !strings.HasPrefix(t.PkgPath(), modulePath) {
		return nil
	}

	var errs error
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Type.Kind() == reflect.Bool {
			continue
		}

		parts := strings.Split(field.Tag.Get("yaml"), ",")
		if parts[0] == "-" {
			continue
		}
		if !slices.Contains(parts, "omitempty") && !slices.Contains(parts, "inline") {
			errs = multierr.Append(errs, fmt.Errorf("%s.%s.%s missing omitempty tag", t.PkgPath(), t.Name(), field.Name))
		}
		errs = multierr.Append(errs, checkYAMLTags(field.Type, seen))
	}
	return errs
}
