// Package handlers implements the HTTP endpoints: the platform webhook, the
// OAuth login flow and the read-only admin API.
//
// This file holds the machine-readable error codes returned in the error
// envelope. Clients branch on code, not on message.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "unauthorized",
//	  "message": "invalid signature"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeListFailed         = "list_failed"
	ErrCodeOAuthNotConfigured = "oauth_not_configured"
	ErrCodeOAuthDenied        = "oauth_denied"
	ErrCodeInvalidState       = "invalid_state"
	ErrCodeTokenExchange      = "token_exchange_failed"
	ErrCodeTokenRefresh       = "token_refresh_failed"
)
