package api

import (
	"net/http"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the public endpoints.
func buildOpenAPIDoc(version string) map[string]any {
	errorResponse := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/Error"},
				},
			},
		}
	}
	jsonResponse := func(desc, schema string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/" + schema},
				},
			},
		}
	}
	queryParam := func(name, typ, desc string) map[string]any {
		return map[string]any{
			"name":        name,
			"in":          "query",
			"required":    false,
			"description": desc,
			"schema":      map[string]any{"type": typ},
		}
	}

	paths := map[string]any{
		"/webhook": map[string]any{
			"post": map[string]any{
				"operationId": "ingestWebhook",
				"summary":     "Ingest a signed message notification",
				"parameters": []any{
					map[string]any{
						"name":        "X-Hub-Signature-256",
						"in":          "header",
						"required":    true,
						"description": "sha256=<hex HMAC-SHA256 of the raw body>",
						"schema":      map[string]any{"type": "string"},
					},
				},
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"$ref": "#/components/schemas/Payload"},
						},
					},
				},
				"responses": map[string]any{
					"201": jsonResponse("Message stored", "WebhookResult"),
					"200": jsonResponse("Duplicate message_id, nothing stored", "WebhookResult"),
					"400": errorResponse("Validation failed"),
					"401": errorResponse("Invalid or missing signature"),
					"413": errorResponse("Body too large"),
					"503": errorResponse("Storage unavailable"),
				},
			},
		},
		"/messages": map[string]any{
			"get": map[string]any{
				"operationId": "listMessages",
				"summary":     "List stored messages",
				"parameters": []any{
					queryParam("sender", "string", "E.164 sender, exact match"),
					queryParam("from_ts", "string", "Inclusive lower bound on ts (UTC ISO-8601)"),
					queryParam("to_ts", "string", "Inclusive upper bound on ts (UTC ISO-8601)"),
					queryParam("text_contains", "string", "Case-sensitive substring of text"),
					queryParam("limit", "integer", "1-100, default 50"),
					queryParam("offset", "integer", ">= 0, default 0"),
				},
				"responses": map[string]any{
					"200": jsonResponse("One page of messages", "MessagePage"),
					"400": errorResponse("Invalid query parameters"),
					"503": errorResponse("Storage unavailable"),
				},
			},
		},
		"/stats": map[string]any{
			"get": map[string]any{
				"operationId": "getStats",
				"summary":     "Aggregate message statistics",
				"responses": map[string]any{
					"200": map[string]any{"description": "Statistics"},
					"503": errorResponse("Storage unavailable"),
				},
			},
		},
		"/health/live": map[string]any{
			"get": map[string]any{
				"operationId": "live",
				"responses":   map[string]any{"200": map[string]any{"description": "Process is alive"}},
			},
		},
		"/health/ready": map[string]any{
			"get": map[string]any{
				"operationId": "ready",
				"responses": map[string]any{
					"200": map[string]any{"description": "Storage reachable"},
					"503": errorResponse("Storage unreachable"),
				},
			},
		},
	}

	stringProp := map[string]any{"type": "string"}
	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "courier",
			"version": version,
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": map[string]any{
				"Payload": map[string]any{
					"type":     "object",
					"required": []string{"message_id", "from", "to", "ts"},
					"properties": map[string]any{
						"message_id": stringProp,
						"from":       map[string]any{"type": "string", "pattern": `^\+[1-9][0-9]{0,14}$`},
						"to":         map[string]any{"type": "string", "pattern": `^\+[1-9][0-9]{0,14}$`},
						"ts":         map[string]any{"type": "string", "format": "date-time"},
						"text":       map[string]any{"type": "string", "maxLength": 4096},
					},
				},
				"WebhookResult": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"result":     map[string]any{"type": "string", "enum": []string{"success", "duplicate"}},
						"message_id": stringProp,
					},
				},
				"Message": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"message_id":  stringProp,
						"from":        stringProp,
						"to":          stringProp,
						"ts":          map[string]any{"type": "string", "format": "date-time"},
						"text":        stringProp,
						"received_at": map[string]any{"type": "string", "format": "date-time"},
					},
				},
				"MessagePage": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"messages": map[string]any{"type": "array", "items": map[string]any{"$ref": "#/components/schemas/Message"}},
						"total":    map[string]any{"type": "integer"},
						"limit":    map[string]any{"type": "integer"},
						"offset":   map[string]any{"type": "integer"},
					},
				},
				"Error": map[string]any{
					"type":     "object",
					"required": []string{"error", "message"},
					"properties": map[string]any{
						"error":   stringProp,
						"message": stringProp,
						"fields": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"field":  stringProp,
									"reason": stringProp,
								},
							},
						},
					},
				},
			},
		},
	}
}

// handleOpenAPI serves the OpenAPI document.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Version))
}
