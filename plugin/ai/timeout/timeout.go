// Package timeout defines centralized timeout constants for AI operations.
// Package timeout 定义 AI 操作的集中式超时常量。
package timeout

import "time"

// AI operation timeout constants.
// AI 操作超时常量。
const (
	// LLMCallTimeout bounds a single chat completion request.
	// LLMCallTimeout 是单次对话补全请求的超时时间。
	LLMCallTimeout = 60 * time.Second

	// EmbeddingTimeout is the timeout for embedding generation.
	// EmbeddingTimeout 是向量生成的超时时间。
	EmbeddingTimeout = 30 * time.Second

	// ArchiveTimeout bounds one background archival run, retries included.
	// ArchiveTimeout 是一次后台归档（含重试）的超时时间。
	ArchiveTimeout = 5 * time.Minute

	// MirrorTimeout bounds a best-effort write to the external memory provider.
	// MirrorTimeout 是外部记忆服务镜像写入的超时时间。
	MirrorTimeout = 10 * time.Second
)
