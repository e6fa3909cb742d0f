// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an API request to be forwarded to the backend.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawPath  string
	RawQuery string
	Header   http.Header

	// Body is consumed exactly once by the forwarder. ContentLength is the
	// exact number of bytes Body yields; 0 means no body.
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the backend response to be streamed back.
// ContentLength is -1 when the backend did not declare a length.
type ProxyResponse struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}
