package cache

import (
	"strings"

	"github.com/ceyewan/fnportal/xerrors"
)

// keySeparator 分隔操作名与子键，操作名中不允许出现
const keySeparator = "|"

// Identity 一次可缓存调用的身份：操作名加上区分参数的子键。
// 按值比较，可作为 map 键。
type Identity struct {
	Operation string
	Key       string
}

// subkeyEscaper 转义子键中的 "\" 与 "|"，不同的子键序列不会拼出同一个 Key
var subkeyEscaper = strings.NewReplacer(`\`, `\\`, keySeparator, `\`+keySeparator)

// ID 由操作名和若干子键构造 Identity，子键转义后按顺序以 "|" 连接
func ID(operation string, subkeys ...string) Identity {
	escaped := make([]string, len(subkeys))
	for i, k := range subkeys {
		escaped[i] = subkeyEscaper.Replace(k)
	}
	return Identity{Operation: operation, Key: strings.Join(escaped, keySeparator)}
}

// String 返回存储层使用的键
func (i Identity) String() string {
	return i.Operation + keySeparator + i.Key
}

func (i Identity) validate() error {
	if i.Operation == "" {
		return xerrors.Invalidf("cache: identity operation is empty")
	}
	if strings.Contains(i.Operation, keySeparator) {
		return xerrors.Invalidf("cache: operation %q must not contain %q", i.Operation, keySeparator)
	}
	return nil
}

func operationPrefix(operation string) string {
	return operation + keySeparator
}

// Source 结果的来源
type Source int

const (
	// SourceComputed 本次调用执行了计算
	SourceComputed Source = iota
	// SourceStore 命中已缓存的条目
	SourceStore
	// SourceShared 等待并复用了另一个调用者正在进行的计算
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceComputed:
		return "computed"
	case SourceStore:
		return "store"
	case SourceShared:
		return "shared"
	default:
		return "unknown"
	}
}
