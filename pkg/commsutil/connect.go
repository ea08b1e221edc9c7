// Package commsutil provides bridge connection helpers and utilities.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Connect creates a bridge connection to the given URL. Extra options are
// applied after the defaults.
func Connect(url, name string, opts ...comms.Option) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to bridge at %s as %s", logPrefix, url, name))

	all := append([]comms.Option{
		comms.Name(name),
		comms.Timeout(10 * time.Second),
		comms.ReconnectWait(2 * time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - bridge disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - bridge reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - bridge connection closed", logPrefix))
		}),
	}, opts...)

	nc, err := comms.Connect(url, all...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to bridge: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to bridge at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// StartEmbedded starts an in-process broker so host and renderer can talk
// without an external server. Port -1 picks a random free port.
func StartEmbedded(host string, port int) (*commsserver.Server, error) {
	srv, err := commsserver.NewServer(&commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create embedded bridge: %w", logPrefix, err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("%s - embedded bridge not ready on %s:%d", logPrefix, host, port)
	}

	slog.Info(fmt.Sprintf("%s - Embedded bridge listening at %s", logPrefix, srv.ClientURL()))
	return srv, nil
}
