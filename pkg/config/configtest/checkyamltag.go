package configtest

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// tags of embedded types from other modules, such as logger.Config, are not ours to check
const modulePath = "github.com/livekit/room-coordinator/"

func checkYAMLTags(t reflect.Type, seen map[reflect.Type]struct{}) error {
	if _, ok := seen[t]; ok {
		return nil
	}
	seen[t] = struct{}{}

	switch t.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.Pointer:
		return checkYAMLTags(t.Elem(), seen)
	case reflect.Struct:
		if t.PkgPath() != "" && !strings.HasPrefix(t.PkgPath(), modulePath) {
			return nil
		}
		var errs error
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			parts := strings.Split(field.Tag.Get("yaml"), ",")
			if parts[0] == "-" {
				continue
			}
			if slices.Contains(parts, "inline") {
				errs = multierr.Append(errs, checkYAMLTags(field.Type, seen))
				continue
			}

			if !snakeCase.MatchString(parts[0]) {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s.%s yaml name %q is not snake_case", t.PkgPath(), t.Name(), field.Name, parts[0]))
			}
			// booleans default to false, omitting them loses nothing
			if field.Type.Kind() != reflect.Bool && field.Tag.Get("config") != "allowempty" && !slices.Contains(parts, "omitempty") {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s.%s missing omitempty tag", t.PkgPath(), t.Name(), field.Name))
			}

			errs = multierr.Append(errs, checkYAMLTags(field.Type, seen))
		}
		return errs
	default:
		return nil
	}
}

// CheckYAMLTags verifies every config field has a snake_case yaml name and omitempty
func CheckYAMLTags(config any) error {
	return checkYAMLTags(reflect.TypeOf(config), map[reflect.Type]struct{}{})
}
