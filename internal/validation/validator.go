// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package validation provides struct validation using go-playground/validator v10.
// It exposes a thread-safe singleton validator instance with custom validators
// for VisitForge-specific rules.
//
// Custom tags:
//   - iana_tz:   value resolves with time.LoadLocation
//   - currency3: three uppercase letters (ISO 4217 shape)
//   - cap_mode:  off, lifetime or rolling24h
//   - isodate:   YYYY-MM-DD
//
// Example:
//
//	type Window struct {
//	    Start string `validate:"omitempty,isodate"`
//	    End   string `validate:"omitempty,isodate"`
//	}
//	if err := validation.ValidateStruct(&w); err != nil { ... }
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Validator returns the singleton validator instance, initializing it on
// first use. The instance caches struct metadata and is safe for concurrent
// use.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		registerCustomValidators(validate)
	})
	return validate
}

// registerCustomValidators wires the VisitForge-specific tags.
func registerCustomValidators(v *validator.Validate) {
	// The registrations below cannot fail: all tags are non-empty constants.
	_ = v.RegisterValidation("iana_tz", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("currency3", func(fl validator.FieldLevel) bool {
		return currencyRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("cap_mode", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "off", "lifetime", "rolling24h":
			return true
		}
		return false
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
}

// FieldError describes a single failed field in a readable form.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// Error returns a human-readable message for the failed field.
func (e FieldError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s failed %s=%s", e.Field, e.Tag, e.Param)
	}
	return fmt.Sprintf("%s failed %s", e.Field, e.Tag)
}

// StructError aggregates the field errors from one ValidateStruct call.
type StructError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *StructError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidateStruct validates s against its `validate` tags and returns a
// *StructError listing every failed field, or nil when valid.
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: caller passed a non-struct
		return err
	}

	se := &StructError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		se.Fields = append(se.Fields, FieldError{
			Field: fe.Namespace(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return se
}
