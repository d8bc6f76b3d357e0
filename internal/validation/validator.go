// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared across the process; it caches struct
// metadata so repeated validation of staged events stays cheap. Two custom tags
// are registered:
//
//   - cron_spec: anything cron.ParseStandard accepts (five fields or @every/@daily)
//   - byte_size: a DuckDB memory limit such as "2GB" or "512MB"
//
// Example:
//
//	type ETLConfig struct {
//	    ReprocessWindowDays int `validate:"gte=0,lte=3650"`
//	}
//	if err := validation.ValidateStruct(&cfg); err != nil {
//	    return fmt.Errorf("invalid etl config: %w", err)
//	}
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var byteSizePattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?\s*(B|KB|MB|GB|TB|KiB|MiB|GiB|TiB)$`)

// FieldError is a single field validation failure.
type FieldError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct namespace of the field that failed.
func (e *FieldError) Field() string {
	return e.field
}

// Tag returns the validation tag that failed.
func (e *FieldError) Tag() string {
	return e.tag
}

// Param returns the tag parameter (e.g. "100" for "max=100").
func (e *FieldError) Param() string {
	return e.param
}

// Error returns a human-readable error message.
func (e *FieldError) Error() string {
	return e.message
}

// Errors is the collection of failures for one struct.
type Errors struct {
	errors []FieldError
}

// Fields returns the individual field failures.
func (ve *Errors) Fields() []FieldError {
	return ve.errors
}

// Error joins all field messages.
func (ve *Errors) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for i := range ve.errors {
		messages = append(messages, ve.errors[i].Error())
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Registration only fails on empty tags or nil funcs.
		_ = validate.RegisterValidation("byte_size", func(fl validator.FieldLevel) bool {
			return byteSizePattern.MatchString(strings.TrimSpace(fl.Field().String()))
		})
		_ = validate.RegisterValidation("cron_spec", func(fl validator.FieldLevel) bool {
			return validCronSpec(fl.Field().String())
		})
	})
	return validate
}

// validCronSpec accepts what the scheduler's standard parser accepts.
func validCronSpec(spec string) bool {
	_, err := cron.ParseStandard(strings.TrimSpace(spec))
	return err == nil
}

// ValidateStruct validates s and returns nil or an *Errors.
// The return type is error so callers can wrap it with %w.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &Errors{errors: []FieldError{{field: "unknown", tag: "unknown", message: err.Error()}}}
	}

	fieldErrors := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = FieldError{
			field:   fe.Namespace(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translateError(fe),
		}
	}
	return &Errors{errors: fieldErrors}
}

var errorMessageTemplates = map[string]string{
	"required":      "%s is required",
	"byte_size":     "%s must be a size such as 2GB or 512MB",
	"cron_spec":     "%s must be a cron expression or @descriptor",
	"hostname_port": "%s must be host:port",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
}

// translateError converts a validator.FieldError to a human-readable message.
func translateError(fe validator.FieldError) string {
	field := fe.Namespace()
	if template, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
