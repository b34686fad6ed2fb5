package metrics

// Label 指标标签
//
// 标签值应保持低基数：operation、status_class、severity 可以，
// 站点 URL、request id 之类不要作为标签。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数
//
//	counter.Inc(ctx, metrics.L("operation", "getFunctions"))
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
