package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/torque2mqtt/internal/config"
)

// PahoDialer builds autopaho connection managers for the configured
// broker. Each Dial yields an independent client generation.
type PahoDialer struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger
}

// NewPahoDialer creates a dialer for cfg using clientID on CONNECT.
func NewPahoDialer(cfg config.MQTTConfig, clientID string, logger *slog.Logger) *PahoDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PahoDialer{cfg: cfg, clientID: clientID, logger: logger}
}

// BrokerURL returns the broker address. A configured CA bundle selects
// the mqtts scheme.
func (d *PahoDialer) BrokerURL() *url.URL {
	scheme := "mqtt"
	if d.cfg.Cert != "" {
		scheme = "mqtts"
	}
	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port)),
	}
}

// TLSConfig returns the client TLS settings, or nil when no CA bundle is
// configured.
func (d *PahoDialer) TLSConfig() (*tls.Config, error) {
	if d.cfg.Cert == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(d.cfg.Cert)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", d.cfg.Cert)
	}
	return &tls.Config{
		RootCAs:    pool,
		ServerName: d.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Dial starts a connection manager. It returns without waiting for the
// broker; the outcome arrives through notify.
func (d *PahoDialer) Dial(ctx context.Context, notify func(Event)) (Conn, error) {
	tlsCfg, err := d.TLSConfig()
	if err != nil {
		return nil, err
	}
	brokerURL := d.BrokerURL()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     uint16(d.cfg.KeepAlive),
		CleanStartOnInitialConnection: true,
		ConnectUsername:               d.cfg.Username,
		TlsCfg:                        tlsCfg,
		OnConnectionUp: func(_ *autopaho.ConnectionManager, ack *paho.Connack) {
			notify(Event{Kind: EventConnected, Code: int(ack.ReasonCode)})
		},
		OnConnectError: func(err error) {
			d.logger.Debug("mqtt connect error", "broker", brokerURL.String(), "error", err)
			notify(Event{Kind: EventConnectFailed, Err: err})
		},
		ClientConfig: paho.ClientConfig{
			ClientID: d.clientID,
			OnServerDisconnect: func(dc *paho.Disconnect) {
				notify(Event{Kind: EventDisconnected, Code: int(dc.ReasonCode)})
			},
			OnClientError: func(err error) {
				notify(Event{Kind: EventDisconnected, Err: err})
			},
		},
	}
	if d.cfg.Password != "" {
		pahoCfg.ConnectPassword = []byte(d.cfg.Password)
	}

	connCtx, cancel := context.WithCancel(ctx)
	cm, err := autopaho.NewConnection(connCtx, pahoCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	d.logger.Debug("mqtt dialing", "broker", brokerURL.String(), "client_id", d.clientID)
	return &pahoConn{cm: cm, ctx: connCtx, cancel: cancel}, nil
}

type pahoConn struct {
	cm     *autopaho.ConnectionManager
	ctx    context.Context
	cancel context.CancelFunc
}

// Publish waits for the broker's PUBCOMP. It is abandoned when either ctx
// or the connection ends.
func (c *pahoConn) Publish(ctx context.Context, topic string, payload []byte) error {
	pubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	_, err := c.cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})
	return err
}

func (c *pahoConn) Close(ctx context.Context) error {
	defer c.cancel()
	return c.cm.Disconnect(ctx)
}
