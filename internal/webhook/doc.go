// Package webhook authenticates, validates and stores inbound webhook deliveries.
//
// Every delivery carries an HMAC-SHA256 signature of its raw body in the
// X-Hub-Signature-256 header, keyed with the shared WEBHOOK_SECRET.
//
// # Security Model
//
// - The MAC is computed over the exact bytes received, before any JSON parsing
// - Signatures are compared in constant time (hmac.Equal)
// - Malformed, truncated or missing signatures fail closed
// - Signature failures carry no detail about what was wrong
// - The secret is held only by the Ingestor
//
// # Request Flow
//
//  1. The HTTP layer reads the full body, bounded by max_body_size (413 if larger)
//  2. Verify checks the signature (ErrSignatureInvalid, 401)
//  3. Validate decodes the payload and checks every field (*message.ValidationError, 400)
//  4. The message is inserted on a context detached from the client
//  5. Created becomes 201 "success", AlreadyExists becomes 200 "duplicate"
//  6. Store failures wrap ErrStorageUnavailable (503)
//
// Each delivery increments webhook_requests_total{result} exactly once.
//
// # Payload
//
//	{
//	  "message_id": "m-123",
//	  "from": "+14155550100",
//	  "to": "+14155550101",
//	  "ts": "2025-01-15T10:30:00Z",
//	  "text": "optional, up to 4096 characters"
//	}
//
// # Example Usage
//
//	ing := webhook.NewIngestor(webhook.IngestorConfig{
//		Secret:        cfg.Secret(),
//		InsertTimeout: cfg.InsertTimeout,
//	}, store, registry, logger)
//
//	res, err := ing.Ingest(ctx, body, r.Header.Get(webhook.SignatureHeader))
package webhook
