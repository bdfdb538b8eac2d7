package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// EnvFeeder reads environment variables named <Prefix>_<env tag> and fills
// the tagged fields of a config structure. Unset variables leave fields
// untouched, so the env feeder layers cleanly over file feeders.
type EnvFeeder struct {
	Prefix string
}

// NewEnvFeeder creates an EnvFeeder with the given prefix (e.g. "ACDIN").
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed reads environment variables and populates the provided structure.
func (f EnvFeeder) Feed(structure interface{}) error {
	if f.Prefix == "" {
		return ErrEmptyPrefix
	}

	inputType := reflect.TypeOf(structure)
	if inputType == nil || inputType.Kind() != reflect.Ptr || inputType.Elem().Kind() != reflect.Struct {
		return ErrInvalidStructure
	}

	return f.processStructFields(reflect.ValueOf(structure).Elem())
}

// processStructFields iterates through struct fields, recursing into nested
// structs.
func (f EnvFeeder) processStructFields(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		if field.Kind() == reflect.Struct {
			if err := f.processStructFields(field); err != nil {
				return err
			}
			continue
		}

		envTag, exists := fieldType.Tag.Lookup("env")
		if !exists {
			continue
		}
		if err := f.setFieldFromEnv(field, envTag); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

// setFieldFromEnv sets a field value from its prefixed environment variable.
func (f EnvFeeder) setFieldFromEnv(field reflect.Value, envTag string) error {
	envName := strings.ToUpper(f.Prefix) + "_" + strings.ToUpper(envTag)

	envValue := os.Getenv(envName)
	if envValue == "" {
		return nil
	}
	return setFieldValue(field, envValue)
}

// setFieldValue converts and sets a field value.
func setFieldValue(field reflect.Value, strValue string) error {
	convertedValue, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}

	if !field.CanSet() {
		return ErrFieldNotSettable
	}

	rv := reflect.ValueOf(convertedValue)
	if rv.Type() != field.Type() {
		// Named types (e.g. string-based enums) come back as their
		// underlying kind; convert before assignment.
		if !rv.Type().ConvertibleTo(field.Type()) {
			return fmt.Errorf("cannot assign %v to field of type %v", rv.Type(), field.Type())
		}
		rv = rv.Convert(field.Type())
	}
	field.Set(rv)
	return nil
}
