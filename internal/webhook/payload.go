package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mattjoyce/courier/internal/message"
)

// Payload is the wire shape of a webhook delivery. Pointer fields keep
// "absent" apart from "present but empty".
type Payload struct {
	MessageID *string `json:"message_id" validate:"required,min=1,no_nul"`
	From      *string `json:"from" validate:"required,e164"`
	To        *string `json:"to" validate:"required,e164"`
	TS        *string `json:"ts" validate:"required,utc_timestamp"`
	Text      *string `json:"text" validate:"omitempty,max=4096,no_nul"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Replaces the built-in e164, which allows a missing '+' and requires 8+ digits.
	mustRegister(v, "e164", func(fl validator.FieldLevel) bool {
		return message.ValidPhone(fl.Field().String())
	})
	mustRegister(v, "utc_timestamp", func(fl validator.FieldLevel) bool {
		_, err := message.ParseTimestamp(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "no_nul", func(fl validator.FieldLevel) bool {
		return !message.HasNUL(fl.Field().String())
	})
	return v
}

// mustRegister panics on failure; a silently missing override would fall
// back to a looser built-in tag.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Validate decodes and validates a raw request body. On failure the error is a
// *message.ValidationError naming every offending field. Unknown fields are
// ignored; a JSON null counts as absent.
func Validate(raw []byte) (message.Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return message.Message{}, message.NewValidationError(message.FieldError{Field: "body", Reason: "must be a JSON object"})
		}
		return message.Message{}, message.NewValidationError(message.FieldError{Field: "body", Reason: "malformed JSON"})
	}
	if fields == nil {
		return message.Message{}, message.NewValidationError(message.FieldError{Field: "body", Reason: "must be a JSON object"})
	}

	var (
		p        Payload
		failures []message.FieldError
		mistyped = map[string]bool{}
	)
	for name, dst := range map[string]**string{
		"message_id": &p.MessageID,
		"from":       &p.From,
		"to":         &p.To,
		"ts":         &p.TS,
		"text":       &p.Text,
	} {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			mistyped[name] = true
			failures = append(failures, message.FieldError{Field: name, Reason: "must be a string"})
		}
	}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return message.Message{}, fmt.Errorf("validate payload: %w", err)
		}
		for _, fe := range verrs {
			if mistyped[fe.Field()] {
				continue
			}
			failures = append(failures, message.FieldError{Field: fe.Field(), Reason: reasonFor(fe, p)})
		}
	}
	if len(failures) > 0 {
		return message.Message{}, message.NewValidationError(failures...)
	}

	// Already validated above; the error cannot be non-nil here.
	ts, _ := message.ParseTimestamp(*p.TS)
	return message.Message{
		ID:        *p.MessageID,
		Sender:    *p.From,
		Recipient: *p.To,
		Timestamp: ts,
		Text:      p.Text,
	}, nil
}

func reasonFor(fe validator.FieldError, p Payload) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must not be empty"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "no_nul":
		return "must not contain NUL (\\u0000) characters"
	case "e164":
		return "must be an E.164 phone number (+ followed by 1-15 digits)"
	case "utc_timestamp":
		if p.TS != nil {
			if _, err := message.ParseTimestamp(*p.TS); err != nil {
				return err.Error()
			}
		}
		return message.ErrTimestampFormat.Error()
	default:
		return "is invalid"
	}
}
