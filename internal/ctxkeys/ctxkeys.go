package ctxkeys

// TraceIDKey 单次拦截处理的追踪 ID
type TraceIDKey struct{}

// OpKey 触发持久化的控制面操作名，例如 add、toggle
type OpKey struct{}
