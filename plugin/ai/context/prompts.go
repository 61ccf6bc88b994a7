package context

import (
	"fmt"
	"strings"

	"github.com/hrygo/groupmind/store"
)

const classifySystemPrompt = `你是一个对话消息分类器。请把每条消息归入以下类型之一：
- user: 用户发出的消息
- status: 关键状态、结论、决定、任务完成情况
- reasoning: 推理过程、方案比较、思考过程
- failure: 失败、报错、问题记录
- normal: 其他普通消息

只输出 JSON 数组，不要输出其他内容。格式：
[{"index": 0, "type": "user"}, {"index": 1, "type": "status"}]`

const summarizeSystemPrompt = `你是一个对话摘要专家。你的任务是将一段对话历史压缩成简洁的结构化摘要。

要求：
1. 保留关键信息：用户的核心问题、重要决策、任务状态
2. 删除冗余：移除重复的讨论过程、无关的闲聊
3. 保持结构：使用清晰的分点格式
4. 控制长度：摘要长度不超过原文的 30%

输出格式：
📋 对话摘要
- 核心话题：...
- 关键结论：...
- 待办事项：...（如有）`

// senderLabel is the display name used in prompts.
func senderLabel(m *store.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.Role == store.RoleUser {
		return "用户"
	}
	return "AI"
}

func buildClassifyUserPrompt(msgs []*store.Message) string {
	lines := make([]string, 0, len(msgs))
	for i, m := range msgs {
		lines = append(lines, fmt.Sprintf("[%d] [%s]: %s", i, senderLabel(m), m.Content))
	}
	return "请对以下消息进行分类：\n\n" + strings.Join(lines, "\n")
}

// transcript renders messages as "[sender]: content" lines.
func transcript(msgs []*store.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("[%s]: %s", senderLabel(m), m.Content))
	}
	return strings.Join(lines, "\n")
}

func buildSummarizeUserPrompt(conversation string) string {
	return "请对以下对话历史进行摘要：\n\n" + conversation + "\n\n请生成简洁的结构化摘要："
}
