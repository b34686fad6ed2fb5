package broadcast

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/fnportal/clog"
	"github.com/ceyewan/fnportal/trace"
	"github.com/ceyewan/fnportal/xerrors"
)

// Publisher NATS 发布端，*nats.Conn 满足该接口
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSSink 把错误事件以 JSON 发布到 NATS，供进程外的界面订阅
type NATSSink struct {
	pub     Publisher
	subject string
	logger  clog.Logger
}

// NewNATSSink 创建 NATS 事件出口，用 Reporter.Subscribe(sink.Handle) 挂载
func NewNATSSink(pub Publisher, subject string, opts ...Option) (*NATSSink, error) {
	if pub == nil {
		return nil, xerrors.Invalidf("broadcast: nats publisher is nil")
	}
	if subject == "" {
		return nil, xerrors.Invalidf("broadcast: nats subject is empty")
	}
	opt := applyOptions(opts)
	return &NATSSink{pub: pub, subject: subject, logger: opt.logger.WithNamespace("nats")}, nil
}

// Handle 发布一个事件，失败只记录日志，不影响 Reporter 的分发
func (s *NATSSink) Handle(e Event) {
	if err := s.Publish(context.Background(), e); err != nil {
		s.logger.Warn("publish error event failed",
			clog.ErrorID(e.ErrorID),
			clog.String("subject", s.subject),
			clog.Error(err))
	}
}

// Publish 发布一个事件，trace 上下文写入消息头
func (s *NATSSink) Publish(ctx context.Context, e Event) error {
	_, span, headers := trace.StartPublish(ctx, trace.Channel{System: trace.SystemNATS, Destination: s.subject})
	defer span.End()

	data, err := json.Marshal(e)
	if err != nil {
		trace.MarkSpanError(span, err)
		return xerrors.Wrap(err, "encode event")
	}

	msg := &nats.Msg{Subject: s.subject, Data: data, Header: make(nats.Header, len(headers))}
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if err := s.pub.PublishMsg(msg); err != nil {
		trace.MarkSpanError(span, err)
		return xerrors.Wrapf(err, "publish to %s", s.subject)
	}
	return nil
}

// SubscribeNATS 订阅 NATSSink 发布的事件，返回的函数用于取消订阅
func SubscribeNATS(conn *nats.Conn, subject string, fn func(ctx context.Context, e Event), opts ...Option) (func() error, error) {
	if conn == nil || fn == nil {
		return nil, xerrors.Invalidf("broadcast: nats connection and handler are required")
	}
	logger := applyOptions(opts).logger.WithNamespace("nats")

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		headers := make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			headers[k] = msg.Header.Get(k)
		}
		ctx, span := trace.StartProcess(context.Background(),
			trace.Channel{System: trace.SystemNATS, Destination: msg.Subject}, headers)
		defer span.End()

		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			trace.MarkSpanError(span, err)
			logger.WarnContext(ctx, "malformed error event", clog.Error(err))
			return
		}
		fn(ctx, e)
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "subscribe to %s failed", subject)
	}
	return sub.Unsubscribe, nil
}
