package memory

const extractSystemPrompt = `你是长期记忆抽取器。请从对话中提取"稳定、可复用"的信息。

只允许输出 JSON 数组，不要输出额外说明。
每个元素格式：
{
  "scope": "user_global|group_local|agent_local",
  "memory_type": "user_profile|discussion_asset|agent_profile",
  "content": "不超过80字的记忆内容",
  "confidence": 0.0~1.0,
  "sender_name": "可选，agent_local 时建议填写"
}

规则：
1) user_global：用户偏好、稳定个人事实。
2) group_local：群内长期结论、约定、任务资产。
3) agent_local：特定成员在当前群的稳定画像/职责经验。
4) 不要提取时效性强的外部事实（价格、政策、版本实时状态等）。
5) 低价值噪声不要提取。`

func buildExtractUserPrompt(conversation string) string {
	return "请从以下对话中提取长期记忆候选：\n\n" + conversation
}
