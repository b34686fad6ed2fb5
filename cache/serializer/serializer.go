// Package serializer 定义缓存条目落到 Redis 时的编码方式。
package serializer

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/fnportal/xerrors"
)

// ErrUnsupportedSerializer 不支持的序列化器类型
var ErrUnsupportedSerializer = xerrors.Wrap(xerrors.ErrInvalidInput, "unsupported serializer type")

// Serializer 定义序列化接口
type Serializer interface {
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
	Name() string
}

// JSONSerializer JSON 序列化器，响应体以 base64 存放，便于在 redis-cli 中排查
type JSONSerializer struct{}

func (JSONSerializer) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONSerializer) Unmarshal(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}

func (JSONSerializer) Name() string { return "json" }

// MessagePackSerializer MessagePack 序列化器，响应体按原始字节存放
type MessagePackSerializer struct{}

func (MessagePackSerializer) Marshal(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (MessagePackSerializer) Unmarshal(data []byte, dest any) error {
	return msgpack.Unmarshal(data, dest)
}

func (MessagePackSerializer) Name() string { return "msgpack" }

// New 创建序列化器，支持 "json"（默认）与 "msgpack"
func New(serializerType string) (Serializer, error) {
	switch serializerType {
	case "json", "":
		return JSONSerializer{}, nil
	case "msgpack":
		return MessagePackSerializer{}, nil
	default:
		return nil, xerrors.Wrapf(ErrUnsupportedSerializer, "%q", serializerType)
	}
}
