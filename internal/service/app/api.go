package app

import (
	"net/url"

	"github.com/gorilla/websocket"
)

var (
	host string = "localhost:9090"
)

// SetHost overrides the relay address, e.g. from an env var in cmd/client.
func SetHost(h string) {
	if h != "" {
		host = h
	}
}

// Host returns the relay address as currently configured.
func Host() string {
	return host
}

func (c *App) initWebhook(name string) (*websocket.Conn, error) {
	params := url.Values{
		"userID": []string{name},
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     host,
		Path:     "/init",
		RawQuery: params.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
