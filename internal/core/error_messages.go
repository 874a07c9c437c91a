package core

// error_messages.go maps technical errors to user-facing messages.
//
// # Error Codes Reference
//
// Users quote the code to support staff; the code identifies the category
// and the suggested action.
//
//	VAL001 - Invalid request: one or more request fields were rejected
//	         Action: Correct the listed fields
//	         Match: ErrInvalidQuery
//
//	IMP001 - Import in progress: another import holds the only writer slot
//	         Action: Wait for the running import to finish
//	         Match: ErrImportInProgress
//
//	IMP002 - No feed: no file or URL was given
//	         Action: Provide a feed file or URL
//	         Match: ErrNoSource, "no file provided"
//
//	IMP003 - Feed too large: upload exceeds the configured maximum
//	         Action: Import the feed with the CLI instead
//	         Patterns: "request body too large", "feed too large"
//
//	IMP004 - Feed unavailable: the feed URL could not be fetched
//	         Action: Check the URL and try again
//	         Patterns: "fetch feed"
//
//	IMP005 - Feed line too long: a line exceeds the reader buffer
//	         Action: Check the feed uses newline-separated rows
//	         Patterns: "token too long"
//
//	DB001 - Connection refused: Unable to connect to database
//	        Match: ErrStoreUnavailable, "connection refused"
//	DB002 - Connection reset: Database connection was interrupted
//	DB003 - Missing schema: tables do not exist yet
//	        Action: Run the migrations (cmd/migrate up)
//	        Patterns: "does not exist"
//	DB004 - Deadlock: Database was busy with conflicting operations
//
//	REQ001 - Request cancelled ("context canceled")
//	REQ002 - Request timed out ("context deadline exceeded", "timeout")
//
//	RATE001 - Too many requests: set by the web rate limiter, not mapped here
//
//	ERR000 - Unknown error: check application logs for the technical error
//
// Sentinel errors are matched with errors.Is before any pattern. Patterns
// are matched case-insensitively with strings.Contains; the first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrInvalidQuery, UserMessage{"Some fields are invalid", "Correct the listed fields and try again", "VAL001"}},
	{ErrImportInProgress, UserMessage{"Another import is running", "Wait for the running import to finish", "IMP001"}},
	{ErrNoSource, UserMessage{"No feed was provided", "Provide a feed file or URL", "IMP002"}},
	{ErrStoreUnavailable, UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Feeds
	{"no file provided", UserMessage{"No feed was provided", "Provide a feed file or URL", "IMP002"}},
	{"request body too large", UserMessage{"Feed exceeds the upload size limit", "Import the feed with the CLI instead", "IMP003"}},
	{"feed too large", UserMessage{"Feed exceeds the upload size limit", "Import the feed with the CLI instead", "IMP003"}},
	{"fetch feed", UserMessage{"The feed could not be downloaded", "Check the URL and try again", "IMP004"}},
	{"token too long", UserMessage{"A feed line is too long", "Check the feed uses newline-separated rows", "IMP005"}},

	// Database
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"does not exist", UserMessage{"Database schema is missing", "Run the migrations before importing", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},

	// Requests
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "REQ001"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Please try again later", "REQ002"}},
	{"timeout", UserMessage{"Request timed out", "Please try again later", "REQ002"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
