package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattjoyce/courier/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var baseTS = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newMessage(id, sender string, ts time.Time, text *string) message.Message {
	return message.Message{
		ID:          id,
		Sender:      sender,
		Recipient:   "+14155550100",
		Timestamp:   ts,
		Text:        text,
		Fingerprint: "fp-" + id,
	}
}

func mustInsert(t *testing.T, s Store, m message.Message) message.InsertResult {
	t.Helper()
	res, err := s.Insert(context.Background(), m)
	require.NoError(t, err)
	return res
}

// runStoreContract exercises the behaviour every backend must share. open
// returns a fresh, empty store.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("insert then duplicate", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		m := newMessage("m-1", "+15550001", baseTS, strPtr("hi"))

		first, err := s.Insert(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, message.Created, first.Outcome)
		assert.False(t, first.ReceivedAt.IsZero())

		second, err := s.Insert(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, message.AlreadyExists, second.Outcome)
		assert.True(t, first.ReceivedAt.Equal(second.ReceivedAt), "duplicate must report the original received_at")
		assert.False(t, second.FingerprintMismatch)

		page, err := s.Query(ctx, message.Filter{}, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("duplicate with different body keeps stored row", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		orig := newMessage("m-1", "+15550001", baseTS, strPtr("original"))
		mustInsert(t, s, orig)

		changed := orig
		changed.Text = strPtr("changed")
		changed.Sender = "+15550002"
		changed.Fingerprint = "fp-other"

		res, err := s.Insert(ctx, changed)
		require.NoError(t, err)
		assert.Equal(t, message.AlreadyExists, res.Outcome)
		assert.True(t, res.FingerprintMismatch)

		page, err := s.Query(ctx, message.Filter{}, 50, 0)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "original", *page.Messages[0].Text)
		assert.Equal(t, "+15550001", page.Messages[0].Sender)
	})

	t.Run("concurrent inserts of one id create one row", func(t *testing.T) {
		s := open(t)
		m := newMessage("race", "+15550001", baseTS, nil)

		var created, duplicates atomic.Int32
		g, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < 16; i++ {
			g.Go(func() error {
				res, err := s.Insert(ctx, m)
				if err != nil {
					return err
				}
				switch res.Outcome {
				case message.Created:
					created.Add(1)
				case message.AlreadyExists:
					duplicates.Add(1)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.EqualValues(t, 1, created.Load())
		assert.EqualValues(t, 15, duplicates.Load())

		page, err := s.Query(context.Background(), message.Filter{}, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("round trip preserves fields", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ts := time.Date(2025, 3, 4, 5, 6, 7, 123456789, time.UTC)

		received := map[string]time.Time{}
		for id, text := range map[string]*string{"absent": nil, "empty": strPtr(""), "full": strPtr("héllo wörld")} {
			received[id] = mustInsert(t, s, newMessage(id, "+15550001", ts, text)).ReceivedAt
		}

		page, err := s.Query(ctx, message.Filter{}, 50, 0)
		require.NoError(t, err)
		require.Len(t, page.Messages, 3)

		byID := map[string]message.Message{}
		for _, m := range page.Messages {
			byID[m.ID] = m
			assert.True(t, m.Timestamp.Equal(ts), "ts for %s = %v", m.ID, m.Timestamp)
			assert.True(t, m.ReceivedAt.Equal(received[m.ID]), "received_at for %s = %v, want %v", m.ID, m.ReceivedAt, received[m.ID])
			assert.Equal(t, time.UTC, m.Timestamp.Location())
			assert.Equal(t, "+14155550100", m.Recipient)
			assert.Equal(t, "fp-"+m.ID, m.Fingerprint)
		}
		assert.Nil(t, byID["absent"].Text)
		require.NotNil(t, byID["empty"].Text)
		assert.Equal(t, "", *byID["empty"].Text)
		assert.Equal(t, "héllo wörld", *byID["full"].Text)
	})

	t.Run("pagination", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		const total = 7
		for i := 0; i < total; i++ {
			mustInsert(t, s, newMessage(fmt.Sprintf("m-%d", i), "+15550001", baseTS.Add(time.Duration(i)*time.Minute), nil))
		}

		var seen []string
		for _, offset := range []int{0, 3, 6} {
			page, err := s.Query(ctx, message.Filter{}, 3, offset)
			require.NoError(t, err)
			assert.Equal(t, total, page.Total)
			assert.Len(t, page.Messages, min(3, max(0, total-offset)))
			for _, m := range page.Messages {
				seen = append(seen, m.ID)
			}
		}
		assert.Equal(t, []string{"m-0", "m-1", "m-2", "m-3", "m-4", "m-5", "m-6"}, seen)

		past, err := s.Query(ctx, message.Filter{}, 3, 50)
		require.NoError(t, err)
		assert.Empty(t, past.Messages)
		assert.NotNil(t, past.Messages)
		assert.Equal(t, total, past.Total)

		again, err := s.Query(ctx, message.Filter{}, 3, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"m-3", "m-4", "m-5"}, ids(again.Messages), "repeated query must be stable")
	})

	t.Run("filters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		mustInsert(t, s, newMessage("a", "+15550001", baseTS, strPtr("Hello there")))
		mustInsert(t, s, newMessage("b", "+15550002", baseTS.Add(time.Hour), strPtr("hello again")))
		mustInsert(t, s, newMessage("c", "+15550001", baseTS.Add(2*time.Hour), nil))
		mustInsert(t, s, newMessage("d", "+15550001", baseTS.Add(3*time.Hour), strPtr("100% sure_thing")))

		from := baseTS.Add(time.Hour)
		to := baseTS.Add(2 * time.Hour)

		tests := []struct {
			name   string
			filter message.Filter
			want   []string
		}{
			{"no filter", message.Filter{}, []string{"a", "b", "c", "d"}},
			{"sender", message.Filter{Sender: "+15550001"}, []string{"a", "c", "d"}},
			{"inclusive range", message.Filter{FromTS: &from, ToTS: &to}, []string{"b", "c"}},
			{"from only", message.Filter{FromTS: &to}, []string{"c", "d"}},
			{"case sensitive text", message.Filter{TextContains: "Hello"}, []string{"a"}},
			{"lowercase text", message.Filter{TextContains: "hello"}, []string{"b"}},
			{"no wildcard semantics", message.Filter{TextContains: "%"}, []string{"d"}},
			{"underscore literal", message.Filter{TextContains: "_"}, []string{"d"}},
			{"combined", message.Filter{Sender: "+15550001", TextContains: "e"}, []string{"a", "d"}},
			{"no match", message.Filter{Sender: "+19999999"}, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := s.Query(ctx, tt.filter, 50, 0)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(page.Messages))
				assert.Equal(t, len(tt.want), page.Total)
			})
		}
	})

	t.Run("range bounds keep nanoseconds", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		first := time.Date(2025, 3, 4, 5, 6, 7, 123456789, time.UTC)
		second := first.Add(time.Nanosecond)
		mustInsert(t, s, newMessage("first", "+15550001", first, nil))
		mustInsert(t, s, newMessage("second", "+15550001", second, nil))

		page, err := s.Query(ctx, message.Filter{FromTS: &second}, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"second"}, ids(page.Messages))

		page, err = s.Query(ctx, message.Filter{ToTS: &first}, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"first"}, ids(page.Messages))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		require.NotNil(t, st.FirstTS)
		require.NotNil(t, st.LastTS)
		assert.True(t, st.FirstTS.Equal(first), "first_ts = %v", st.FirstTS)
		assert.True(t, st.LastTS.Equal(second), "last_ts = %v", st.LastTS)
	})

	t.Run("received_at is non-decreasing", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i := 0; i < 20; i++ {
			mustInsert(t, s, newMessage(fmt.Sprintf("m-%02d", i), "+15550001", baseTS, nil))
		}
		page, err := s.Query(ctx, message.Filter{}, 50, 0)
		require.NoError(t, err)
		for i := 1; i < len(page.Messages); i++ {
			assert.False(t, page.Messages[i].ReceivedAt.Before(page.Messages[i-1].ReceivedAt))
		}
	})

	t.Run("rejects invalid page bounds", func(t *testing.T) {
		s := open(t)
		for _, bounds := range [][2]int{{0, 0}, {101, 0}, {10, -1}} {
			_, err := s.Query(context.Background(), message.Filter{}, bounds[0], bounds[1])
			assert.ErrorIs(t, err, ErrInvalidPage, "limit=%d offset=%d", bounds[0], bounds[1])
		}
	})

	t.Run("rejects empty message id", func(t *testing.T) {
		s := open(t)
		_, err := s.Insert(context.Background(), newMessage("", "+15550001", baseTS, nil))
		assert.ErrorIs(t, err, ErrEmptyMessageID)
	})

	t.Run("stats", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		empty, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, empty.TotalMessages)
		assert.Nil(t, empty.FirstTS)
		assert.Empty(t, empty.TopSenders)

		mustInsert(t, s, newMessage("a", "+15550002", baseTS.Add(time.Hour), nil))
		mustInsert(t, s, newMessage("b", "+15550001", baseTS, nil))
		mustInsert(t, s, newMessage("c", "+15550001", baseTS.Add(2*time.Hour), nil))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, st.TotalMessages)
		assert.Equal(t, 2, st.SendersCount)
		assert.Equal(t, []message.SenderCount{{Sender: "+15550001", Count: 2}, {Sender: "+15550002", Count: 1}}, st.TopSenders)
		require.NotNil(t, st.FirstTS)
		require.NotNil(t, st.LastTS)
		assert.True(t, st.FirstTS.Equal(baseTS))
		assert.True(t, st.LastTS.Equal(baseTS.Add(2*time.Hour)))
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func ids(msgs []message.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
