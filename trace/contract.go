package trace

// Messaging 语义属性键
const (
	AttrMessagingSystem      = "messaging.system"
	AttrMessagingDestination = "messaging.destination"
	AttrMessagingOperation   = "messaging.operation"
)

// 消息系统
const (
	SystemNATS  = "nats"
	SystemRedis = "redis"
)

// Relation 消费端 Span 与生产端的关系
type Relation string

const (
	// RelationLink 以 Span Link 关联上游（默认）
	RelationLink Relation = "link"
	// RelationChildOf 作为上游的子 Span，串成一条 Trace
	RelationChildOf Relation = "child_of"
)

// Channel 一条通知通道：NATS 主题或 Redis Pub/Sub 频道
type Channel struct {
	System      string
	Destination string
	Relation    Relation
}

func (c Channel) spanName(operation string) string {
	if c.Destination == "" {
		return c.System + "." + operation
	}
	return c.System + "." + operation + " " + c.Destination
}
