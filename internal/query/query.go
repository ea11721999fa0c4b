// Package query turns GET /messages parameters into a validated store query.
package query

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/message"
)

// Params is a validated message listing request.
type Params struct {
	Filter message.Filter
	Limit  int
	Offset int
}

// Reader is the read side of the message store.
type Reader interface {
	Query(ctx context.Context, f message.Filter, limit, offset int) (message.Page, error)
}

// ParseParams validates sender, from_ts, to_ts, text_contains, limit and
// offset. Empty values count as absent. Every invalid parameter is reported
// in the returned *message.ValidationError.
func ParseParams(values url.Values) (Params, error) {
	p := Params{Limit: message.DefaultLimit}
	var failures []message.FieldError
	fail := func(field, reason string) {
		failures = append(failures, message.FieldError{Field: field, Reason: reason})
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			fail("limit", "must be an integer")
		case n < 1 || n > message.MaxLimit:
			fail("limit", fmt.Sprintf("must be between 1 and %d", message.MaxLimit))
		default:
			p.Limit = n
		}
	}

	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			fail("offset", "must be an integer")
		case n < 0:
			fail("offset", "must be zero or greater")
		default:
			p.Offset = n
		}
	}

	if raw := values.Get("sender"); raw != "" {
		sender := restorePlus(raw)
		if message.ValidPhone(sender) {
			p.Filter.Sender = sender
		} else {
			fail("sender", "must be an E.164 phone number (+ followed by 1-15 digits)")
		}
	}

	p.Filter.FromTS = parseTimeParam(values, "from_ts", fail)
	p.Filter.ToTS = parseTimeParam(values, "to_ts", fail)
	if p.Filter.FromTS != nil && p.Filter.ToTS != nil && p.Filter.FromTS.After(*p.Filter.ToTS) {
		fail("from_ts", "must not be after to_ts")
	}

	p.Filter.TextContains = values.Get("text_contains")

	if len(failures) > 0 {
		return Params{}, message.NewValidationError(failures...)
	}
	return p, nil
}

func parseTimeParam(values url.Values, name string, fail func(field, reason string)) *time.Time {
	raw := values.Get(name)
	if raw == "" {
		return nil
	}
	t, err := message.ParseTimestamp(restorePlus(raw))
	if err != nil {
		fail(name, err.Error())
		return nil
	}
	return &t
}

// restorePlus undoes form decoding of an unescaped '+' into a space. Phone
// numbers and timestamps never contain spaces, so this is lossless for them.
func restorePlus(s string) string {
	return strings.ReplaceAll(s, " ", "+")
}

// Service answers message listing requests.
type Service struct {
	store Reader
}

func NewService(store Reader) *Service {
	return &Service{store: store}
}

// List returns one page for already validated params.
func (s *Service) List(ctx context.Context, p Params) (message.Page, error) {
	page, err := s.store.Query(ctx, p.Filter, p.Limit, p.Offset)
	if err != nil {
		return message.Page{}, fmt.Errorf("query messages: %w", err)
	}
	return page, nil
}
