package api

import (
	"time"

	"github.com/mattjoyce/courier/internal/message"
	"github.com/samber/lo"
)

// Error kinds carried in ErrorResponse.Error.
const (
	kindSignatureInvalid   = "signature_invalid"
	kindValidationFailed   = "validation_failed"
	kindPayloadTooLarge    = "payload_too_large"
	kindStorageUnavailable = "storage_unavailable"
	kindNotFound           = "not_found"
	kindMethodNotAllowed   = "method_not_allowed"
	kindInternal           = "internal"
)

// WebhookResponse is returned by POST /webhook on 200 and 201.
type WebhookResponse struct {
	Result    string `json:"result"`
	MessageID string `json:"message_id"`
}

// ErrorResponse is returned on every non-2xx response.
type ErrorResponse struct {
	Error   string               `json:"error"`
	Message string               `json:"message"`
	Fields  []message.FieldError `json:"fields,omitempty"`
}

// MessageResponse is one item of GET /messages.
type MessageResponse struct {
	MessageID  string  `json:"message_id"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	TS         string  `json:"ts"`
	Text       *string `json:"text,omitempty"`
	ReceivedAt string  `json:"received_at"`
}

// MessagesResponse is returned by GET /messages.
type MessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// SenderCountResponse is one row of StatsResponse.MessagesPerSender.
type SenderCountResponse struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	TotalMessages     int                   `json:"total_messages"`
	SendersCount      int                   `json:"senders_count"`
	MessagesPerSender []SenderCountResponse `json:"messages_per_sender"`
	FirstMessageTS    *string               `json:"first_message_ts"`
	LastMessageTS     *string               `json:"last_message_ts"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toMessagesResponse(page message.Page) MessagesResponse {
	return MessagesResponse{
		Messages: lo.Map(page.Messages, func(m message.Message, _ int) MessageResponse {
			return MessageResponse{
				MessageID:  m.ID,
				From:       m.Sender,
				To:         m.Recipient,
				TS:         formatTime(m.Timestamp),
				Text:       m.Text,
				ReceivedAt: formatTime(m.ReceivedAt),
			}
		}),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
}

func toStatsResponse(st message.Stats) StatsResponse {
	return StatsResponse{
		TotalMessages: st.TotalMessages,
		SendersCount:  st.SendersCount,
		MessagesPerSender: lo.Map(st.TopSenders, func(sc message.SenderCount, _ int) SenderCountResponse {
			return SenderCountResponse{Sender: sc.Sender, Count: sc.Count}
		}),
		FirstMessageTS: formatOptionalTime(st.FirstTS),
		LastMessageTS:  formatOptionalTime(st.LastTS),
	}
}
