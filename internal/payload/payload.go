// Package payload prepares API request bodies for forwarding.
//
// A request body is a single-consumption stream. Prepare hands it to the
// forwarder together with the exact number of bytes it will yield, so the
// outbound Content-Length is always correct. In passthrough mode a body of
// known length is streamed untouched; only bodies of unknown length are
// buffered. The validate and canonicalize modes read JSON bodies fully.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"spa-gateway/internal/config"
	"spa-gateway/internal/model"
)

// Prepare returns the body to forward for r and its exact length.
// A request without a body yields http.NoBody and 0.
func Prepare(r *http.Request, mode string, maxBytes int64) (io.ReadCloser, int64, error) {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return http.NoBody, 0, nil
	}

	inspect := isJSON(r.Header.Get("Content-Type")) &&
		(mode == config.BodyModeValidate || mode == config.BodyModeCanonicalize)

	if !inspect && r.ContentLength > 0 {
		// Known length: stream through. net/http stops reading at
		// ContentLength, so the forwarded byte count matches exactly.
		return r.Body, r.ContentLength, nil
	}

	raw, err := readAll(r.Body, maxBytes)
	if err != nil {
		return nil, 0, err
	}
	if len(raw) == 0 {
		return http.NoBody, 0, nil
	}

	if inspect {
		switch mode {
		case config.BodyModeValidate:
			if !json.Valid(raw) {
				return nil, 0, model.ErrInvalidBody
			}
		case config.BodyModeCanonicalize:
			raw, err = Canonicalize(raw)
			if err != nil {
				return nil, 0, model.Wrap(model.ErrInvalidBody, err)
			}
		}
	}

	return io.NopCloser(bytes.NewReader(raw)), int64(len(raw)), nil
}

// readAll reads body fully, failing once more than maxBytes arrive.
// maxBytes <= 0 disables the cap.
func readAll(body io.ReadCloser, maxBytes int64) ([]byte, error) {
	defer func() { _ = body.Close() }()

	var src io.Reader = body
	if maxBytes > 0 {
		src = io.LimitReader(body, maxBytes+1)
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		if isTooLarge(err) {
			return nil, model.Wrap(model.ErrBodyTooLarge, err)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if maxBytes > 0 && int64(len(raw)) > maxBytes {
		return nil, model.ErrBodyTooLarge
	}
	return raw, nil
}

// isTooLarge reports whether err comes from a body size limiter, either
// net/http's MaxBytesReader or echo's BodyLimit middleware.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	var he *echo.HTTPError
	return errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge
}

// isJSON reports whether the content type names a JSON document.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}

// Canonicalize re-serializes a JSON document deterministically: object keys
// sorted, insignificant whitespace removed, numbers kept as written and no
// HTML escaping. Equal input always produces byte-identical output, and
// Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode json: trailing data after document")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	// Encode appends a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
