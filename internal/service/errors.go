// Package service provides the upload orchestration layer for Alexander Uploads.
package service

import "errors"

// Common service errors.
var (
	// Session errors
	ErrSessionBusy    = errors.New("upload session is locked by another operation")
	ErrMissingSession = errors.New("session id is required")
	ErrMissingStatus  = errors.New("status is required to list sessions")
)
