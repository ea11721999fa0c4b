package webhook

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mattjoyce/courier/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var verr *message.ValidationError
	require.True(t, errors.As(err, &verr), "expected *message.ValidationError, got %T: %v", err, err)
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	raw := []byte(`{"message_id":"m-1","from":"+14155550100","to":"+14155550101","ts":"2025-01-15T10:30:00.5+00:00","text":"hello","extra":{"ignored":true}}`)

	msg, err := Validate(raw)
	require.NoError(t, err)

	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "+14155550100", msg.Sender)
	assert.Equal(t, "+14155550101", msg.Recipient)
	assert.True(t, msg.Timestamp.Equal(time.Date(2025, 1, 15, 10, 30, 0, 500_000_000, time.UTC)), "ts = %v", msg.Timestamp)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
	require.NotNil(t, msg.Text)
	assert.Equal(t, "hello", *msg.Text)
}

func TestValidateTextPresence(t *testing.T) {
	base := `"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00Z"`

	absent, err := Validate([]byte("{" + base + "}"))
	require.NoError(t, err)
	assert.Nil(t, absent.Text)

	null, err := Validate([]byte("{" + base + `,"text":null}`))
	require.NoError(t, err)
	assert.Nil(t, null.Text)

	empty, err := Validate([]byte("{" + base + `,"text":""}`))
	require.NoError(t, err)
	require.NotNil(t, empty.Text)
	assert.Equal(t, "", *empty.Text)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantFields []string
	}{
		{
			name:       "empty object reports every required field",
			body:       `{}`,
			wantFields: []string{"from", "message_id", "to", "ts"},
		},
		{
			name:       "phone without plus",
			body:       `{"message_id":"m","from":"12345","to":"+1556","ts":"2025-01-01T00:00:00Z"}`,
			wantFields: []string{"from"},
		},
		{
			name:       "phone with leading zero",
			body:       `{"message_id":"m","from":"+1555","to":"+0123","ts":"2025-01-01T00:00:00Z"}`,
			wantFields: []string{"to"},
		},
		{
			name:       "phone too long",
			body:       `{"message_id":"m","from":"+1234567890123456","to":"+1556","ts":"2025-01-01T00:00:00Z"}`,
			wantFields: []string{"from"},
		},
		{
			name:       "naive timestamp",
			body:       `{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00"}`,
			wantFields: []string{"ts"},
		},
		{
			name:       "non-utc offset",
			body:       `{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T02:00:00+02:00"}`,
			wantFields: []string{"ts"},
		},
		{
			name:       "unknown offset",
			body:       `{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00-00:00"}`,
			wantFields: []string{"ts"},
		},
		{
			name:       "empty message id",
			body:       `{"message_id":"","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00Z"}`,
			wantFields: []string{"message_id"},
		},
		{
			name:       "wrong json types reported per field",
			body:       `{"message_id":7,"from":15551234,"to":"+1556","ts":"2025-01-01T00:00:00Z","text":false}`,
			wantFields: []string{"from", "message_id", "text"},
		},
		{
			name:       "text too long",
			body:       `{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00Z","text":"` + strings.Repeat("a", 4097) + `"}`,
			wantFields: []string{"text"},
		},
		{
			name:       "nul in message id",
			body:       `{"message_id":"a\u0000b","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00Z"}`,
			wantFields: []string{"message_id"},
		},
		{
			name:       "nul in text",
			body:       `{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00Z","text":"x\u0000y"}`,
			wantFields: []string{"text"},
		},
		{
			name:       "nul in phone",
			body:       `{"message_id":"m","from":"+1555\u0000","to":"+1556","ts":"2025-01-01T00:00:00Z"}`,
			wantFields: []string{"from"},
		},
		{
			name:       "more than nanosecond precision",
			body:       `{"message_id":"m","from":"+1555","to":"+1556","ts":"2023-01-01T00:00:00.1234567891Z"}`,
			wantFields: []string{"ts"},
		},
		{
			name:       "malformed json",
			body:       `{"message_id":`,
			wantFields: []string{"body"},
		},
		{
			name:       "array body",
			body:       `[1,2,3]`,
			wantFields: []string{"body"},
		},
		{
			name:       "null body",
			body:       `null`,
			wantFields: []string{"body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate([]byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.wantFields, fieldNames(t, err))
		})
	}
}

func TestValidateTextLimitCountsCharacters(t *testing.T) {
	text := strings.Repeat("é", message.MaxTextLen)
	raw := `{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00Z","text":"` + text + `"}`

	msg, err := Validate([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, text, *msg.Text)
}

func TestValidateReasons(t *testing.T) {
	_, err := Validate([]byte(`{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T02:00:00+02:00"}`))

	var verr *message.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, message.ErrTimestampZone.Error(), verr.Fields[0].Reason)

	_, err = Validate([]byte(`{"from":1}`))
	require.ErrorAs(t, err, &verr)
	for _, f := range verr.Fields {
		if f.Field == "from" {
			assert.Equal(t, "must be a string", f.Reason)
		}
		if f.Field == "message_id" {
			assert.Equal(t, "is required", f.Reason)
		}
	}
}

func TestValidateNULReason(t *testing.T) {
	_, err := Validate([]byte(`{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-01-01T00:00:00Z","text":"\u0000"}`))

	var verr *message.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "text", verr.Fields[0].Field)
	assert.Contains(t, verr.Fields[0].Reason, "NUL")
}

func TestValidateTimestampPrecisionReason(t *testing.T) {
	_, err := Validate([]byte(`{"message_id":"m","from":"+1555","to":"+1556","ts":"2023-01-01T00:00:00.1234567891Z"}`))

	var verr *message.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, message.ErrTimestampPrecision.Error(), verr.Fields[0].Reason)
}

func TestValidateKeepsNanosecondTimestamp(t *testing.T) {
	msg, err := Validate([]byte(`{"message_id":"m","from":"+1555","to":"+1556","ts":"2025-03-04T05:06:07.123456789Z"}`))
	require.NoError(t, err)
	assert.Equal(t, 123456789, msg.Timestamp.Nanosecond())
}

func TestMustRegisterPanicsOnFailure(t *testing.T) {
	assert.Panics(t, func() {
		mustRegister(validator.New(), "", func(validator.FieldLevel) bool { return true })
	})
	assert.NotPanics(t, func() {
		mustRegister(validator.New(), "always", func(validator.FieldLevel) bool { return true })
	})
}
