// Package schema checks the shape of JSON request bodies before they are
// decoded. Field rules proper live in the validate package; the schemas
// here only reject bodies whose values have the wrong JSON type.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

// Body names.
const (
	LiveStream = "livestream"
	Login      = "login"
	Register   = "register"
)

var bodies = map[string]string{
	LiveStream: `{"type":"object","properties":{
		"isLive":{"type":["boolean","string","integer","null"]},
		"title":{"type":["string","null"]},
		"videoUrl":{"type":["string","null"]}}}`,
	Login: `{"type":"object","properties":{
		"email":{"type":["string","null"]},
		"password":{"type":["string","null"]}}}`,
	Register: `{"type":"object","properties":{
		"name":{"type":["string","null"]},
		"email":{"type":["string","null"]},
		"password":{"type":["string","null"]},
		"password_confirmation":{"type":["string","null"]}}}`,
}

// Validator validates request bodies against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles every body schema.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(bodies))}
	for name, src := range bodies {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// Validate checks raw against the named schema. Type mismatches are
// returned as validate.FieldErrors keyed by the offending property.
func (v *Validator) Validate(name string, raw []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("schema not found: %s", name)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := validate.FieldErrors{}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" {
			field = "body"
		}
		field = strings.TrimPrefix(field, "(root).")
		errs.Add(field, fmt.Sprintf("The %s field has an invalid type: %s.", field, desc.Description()))
	}
	return errs
}
