// Package message defines the persisted Message entity and the value types
// shared by the ingestion pipeline, the query service and the storage backends.
package message

import (
	"time"
)

// Message is a validated, persisted webhook notification.
type Message struct {
	ID         string
	Sender     string
	Recipient  string
	Timestamp  time.Time
	Text       *string
	ReceivedAt time.Time
	// Fingerprint is "blake3:<hex>" of the raw body that produced the message.
	Fingerprint string
}

// InsertOutcome reports whether an insert created a row.
type InsertOutcome string

const (
	Created       InsertOutcome = "created"
	AlreadyExists InsertOutcome = "already_exists"
)

// InsertResult is returned by a store insert.
type InsertResult struct {
	Outcome InsertOutcome
	// ReceivedAt is the stored received_at of the row, new or pre-existing.
	ReceivedAt time.Time
	// FingerprintMismatch is set on AlreadyExists when the stored row was
	// produced by a different request body.
	FingerprintMismatch bool
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	Sender       string
	FromTS       *time.Time
	ToTS         *time.Time
	TextContains string
}

// Page is one window of query results.
type Page struct {
	Messages []Message
	Total    int
	Limit    int
	Offset   int
}

// SenderCount is one row of the per-sender breakdown in Stats.
type SenderCount struct {
	Sender string
	Count  int
}

// Stats summarizes the stored messages.
type Stats struct {
	TotalMessages int
	SendersCount  int
	TopSenders    []SenderCount
	FirstTS       *time.Time
	LastTS        *time.Time
}

// Pagination bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 100
	MaxTextLen   = 4096
	TopSenders   = 10
)
