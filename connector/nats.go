package connector

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/xerrors"
)

type natsConnector struct {
	base
	cfg  *NATSConfig
	conn *nats.Conn
}

// NewNATS 创建 NATS 连接器，Connect 之前 GetClient 返回 nil
func NewNATS(cfg *NATSConfig, opts ...Option) (NATSConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "nats config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &natsConnector{cfg: cfg}
	c.init("nats", cfg.Name, opts)
	return c, nil
}

func (c *natsConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.conn != nil:
		return nil
	}

	conn, err := nats.Connect(c.cfg.URL, c.natsOptions()...)
	c.connected(ctx, c.cfg.URL, err)
	if err != nil {
		return xerrors.Combine(xerrors.Wrapf(ErrConnection, "nats %s", c.name), err)
	}
	c.conn = conn
	return nil
}

func (c *natsConnector) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.Timeout(c.cfg.Timeout),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.PingInterval(c.cfg.PingInterval),
		nats.MaxPingsOutstanding(c.cfg.MaxPingsOut),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.healthy.Store(false)
			if err != nil {
				c.logger.Warn("disconnected", clog.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.healthy.Store(true)
			c.logger.Info("reconnected", clog.String("target", conn.ConnectedUrl()))
		}),
	}
	switch {
	case c.cfg.Token != "":
		opts = append(opts, nats.Token(c.cfg.Token))
	case c.cfg.Username != "":
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	return opts
}

func (c *natsConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.healthy.Store(false)
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

func (c *natsConnector) HealthCheck(context.Context) error {
	conn := c.GetClient()
	if conn == nil {
		return c.checked(xerrors.Wrap(ErrHealthCheck, "nats not connected"))
	}
	if status := conn.Status(); status != nats.CONNECTED {
		return c.checked(xerrors.Wrapf(ErrHealthCheck, "nats status %s", status))
	}
	return c.checked(nil)
}

func (c *natsConnector) GetClient() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}
