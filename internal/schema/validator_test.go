package schema

import (
	"errors"
	"testing"

	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

func TestValidate(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	tests := []struct {
		name    string
		body    string
		field   string
		wantErr bool
	}{
		{"livestream bool", `{"isLive":true,"title":"Sunday","videoUrl":"https://youtu.be/x"}`, "", false},
		{"livestream string flag", `{"isLive":"1","title":"Sunday"}`, "", false},
		{"livestream number title", `{"isLive":true,"title":5}`, "title", true},
		{"livestream array", `[1,2]`, "body", true},
		{"unknown fields ignored", `{"isLive":false,"extra":{"a":1}}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(LiveStream, []byte(tt.body))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var fe validate.FieldErrors
			if !errors.As(err, &fe) || len(fe[tt.field]) == 0 {
				t.Fatalf("errors = %v, want field %s", err, tt.field)
			}
		})
	}
}

func TestValidateMalformed(t *testing.T) {
	v, _ := NewValidator()
	err := v.Validate(Login, []byte(`{"email":`))
	var fe validate.FieldErrors
	if err == nil || errors.As(err, &fe) {
		t.Fatalf("malformed body must be a plain error, got %v", err)
	}
	if err := v.Validate("nope", []byte(`{}`)); err == nil {
		t.Fatal("unknown schema accepted")
	}
	if err := v.Validate(Register, []byte(`{"name":"Ada","email":"a@example.org","password":"secret1","password_confirmation":"secret1"}`)); err != nil {
		t.Fatalf("register: %v", err)
	}
}
