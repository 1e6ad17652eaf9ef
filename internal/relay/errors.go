package relay

import "errors"

var (
	// ErrBadRequest is returned for missing required input, before any network call.
	ErrBadRequest = errors.New("bad request")

	// ErrUploadFailed wraps every failure after an upload was accepted.
	ErrUploadFailed = errors.New("upload failed")

	// ErrDownloadFailed wraps every failure before a download starts streaming.
	ErrDownloadFailed = errors.New("download failed")

	// ErrIncompleteMetadata is returned when the remote object lacks a content type or name.
	ErrIncompleteMetadata = errors.New("MIME type or filename missing from the file metadata")

	// ErrStreamTransport is returned when the media stream breaks after the response started.
	ErrStreamTransport = errors.New("stream transport failure")
)
