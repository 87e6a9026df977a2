package errors

import (
	"fmt"
	"strings"
)

// ValidationErrorData contains structured data for validation errors
type ValidationErrorData struct {
	Field      string      `json:"field"`
	Value      interface{} `json:"value,omitempty"`
	Expected   string      `json:"expected"`
	Got        string      `json:"got,omitempty"`
	Constraint string      `json:"constraint,omitempty"`
}

// MultiValidationData is the data of an error combining several
// validation errors
type MultiValidationData struct {
	Errors []RMError `json:"-"`
	Fields []string  `json:"fields"`
}

// ValidationError creates a generic validation error
func ValidationError(message string) RMError {
	return NewError(CodeValidationError, message, CategoryValidation, SeverityError)
}

// ValidationErrorf creates a generic validation error with formatting
func ValidationErrorf(format string, args ...interface{}) RMError {
	return NewErrorf(CodeValidationError, CategoryValidation, SeverityError, format, args...)
}

// InvalidFieldValue creates an error for an invalid settings or message field
func InvalidFieldValue(field string, value interface{}, constraint string) RMError {
	return NewError(
		CodeInvalidParameter,
		fmt.Sprintf("Invalid value for field '%s': %s", field, constraint),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{
		Field:      field,
		Value:      value,
		Constraint: constraint,
	})
}

// InvalidEnum creates an error for invalid enumeration values
func InvalidEnum(field string, value interface{}, validValues []string) RMError {
	return NewError(
		CodeInvalidParameter,
		fmt.Sprintf("Invalid value for field '%s': must be one of %v", field, validValues),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{
		Field:      field,
		Value:      value,
		Expected:   fmt.Sprintf("one of %v", validValues),
		Constraint: "enumeration",
	})
}

// UnknownKeys reports configuration keys that match no field
func UnknownKeys(source string, keys []string) RMError {
	return NewError(
		CodeValidationError,
		fmt.Sprintf("config %s: unknown keys %s", source, strings.Join(keys, ", ")),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{
		Field:      source,
		Got:        strings.Join(keys, ","),
		Constraint: "known keys",
	})
}

// CombineValidationErrors combines validation errors into one. Errors that
// already combine others are flattened.
func CombineValidationErrors(errs []RMError) RMError {
	var flat []RMError
	for _, err := range errs {
		if multi, ok := err.Data().(*MultiValidationData); ok {
			flat = append(flat, multi.Errors...)
			continue
		}
		flat = append(flat, err)
	}

	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}

	messages := make([]string, len(flat))
	fields := make([]string, 0, len(flat))
	for i, err := range flat {
		messages[i] = err.Message()
		if data, ok := err.Data().(*ValidationErrorData); ok {
			fields = append(fields, data.Field)
		}
	}

	return NewError(
		CodeValidationError,
		fmt.Sprintf("%d validation errors: %s", len(flat), strings.Join(messages, "; ")),
		CategoryValidation,
		SeverityError,
	).WithData(&MultiValidationData{Errors: flat, Fields: fields})
}

// Validator collects validation errors for a settings structure
type Validator struct {
	prefix string
	errs   []RMError
}

// NewValidator creates a validator prefixing field names with prefix
func NewValidator(prefix string) *Validator {
	return &Validator{prefix: prefix}
}

func (v *Validator) field(name string) string {
	if v.prefix == "" {
		return name
	}
	return v.prefix + "." + name
}

// Add records err unless it is nil. Errors that are not RM errors become
// generic validation errors.
func (v *Validator) Add(err error) {
	if err == nil {
		return
	}
	if rmErr, ok := AsRMError(err); ok {
		v.errs = append(v.errs, rmErr)
		return
	}
	v.errs = append(v.errs, ValidationError(err.Error()))
}

// Check records an InvalidFieldValue for field when ok is false
func (v *Validator) Check(ok bool, field string, value interface{}, constraint string) {
	if !ok {
		v.errs = append(v.errs, InvalidFieldValue(v.field(field), value, constraint))
	}
}

// Enum records an InvalidEnum for field unless value is one of valid
func (v *Validator) Enum(field, value string, valid []string) {
	for _, candidate := range valid {
		if value == candidate {
			return
		}
	}
	v.errs = append(v.errs, InvalidEnum(v.field(field), value, valid))
}

// Err combines everything recorded, or returns nil
func (v *Validator) Err() error {
	if err := CombineValidationErrors(v.errs); err != nil {
		return err
	}
	return nil
}
