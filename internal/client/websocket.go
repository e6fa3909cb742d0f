package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"spa-gateway/internal/model"
)

// DialWebSocket opens a WebSocket connection to the backend. The handshake
// shares the request budget of DoStream.
//
// When the backend answers the handshake with a plain HTTP response (for
// example 401 or 404), conn is nil and that response is returned so it can be
// relayed to the client as is.
func (c *BackendClient) DialWebSocket(ctx context.Context, wsURL string, header http.Header) (*websocket.Conn, *model.ProxyResponse, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	c.logger.Debug("backend websocket dial", "url", wsURL)

	conn, resp, err := dialer.DialContext(ctx, wsURL, header) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			// The dialer keeps at most 1KB of the body, so the declared
			// length no longer applies.
			return nil, &model.ProxyResponse{
				StatusCode:    resp.StatusCode,
				Header:        resp.Header,
				ContentLength: -1,
				Body:          resp.Body,
			}, nil
		}
		return nil, nil, classify(ctx, false, err)
	}

	return conn, &model.ProxyResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: 0,
		Body:          http.NoBody,
	}, nil
}
