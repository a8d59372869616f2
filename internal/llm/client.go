package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/sanitizer"
	"github.com/fachebot/meeting-dashboard/internal/summarizer"
	"github.com/sashabaranov/go-openai"
)

// openAIClientInterface 定义 OpenAI 客户端接口，便于测试
type openAIClientInterface interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client 通过兼容 OpenAI 的接口实现 summarizer.Backend
type Client struct {
	config         *config.LLM
	openaiClient   openAIClientInterface
	maxInputTokens int
}

// NewClient transport 非空时通过其访问 API（如 SOCKS5 代理）
func NewClient(cfg *config.LLM, transport *http.Transport) *Client {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	if transport != nil {
		openaiConfig.HTTPClient = &http.Client{Transport: transport}
	}

	client := &Client{
		config:         cfg,
		openaiClient:   openai.NewClientWithConfig(openaiConfig),
		maxInputTokens: cfg.MaxTokens - 2000, // 预留 2000 tokens 给 system prompt 和输出
	}

	return client
}

// estimateTokens 估算文本的 token 数量
func estimateTokens(text string) int {
	// 简单估算：中文约 1.5 token/字，英文约 1.3 token/词
	chineseChars := 0
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			chineseChars++
		}
	}
	englishWords := len(strings.Fields(text))

	tokens := int(float64(chineseChars)*1.5 + float64(englishWords)*1.3)
	if tokens < len(text)/4 {
		// 如果估算值太小，使用字符数的 1/4 作为下限
		tokens = len(text) / 4
	}

	return tokens
}

// splitTranscriptIntoChunks 将转录按行拆分为多个 chunk，单行超限时独占一个 chunk
func splitTranscriptIntoChunks(transcript string, maxTokensPerChunk int) []string {
	lines := strings.Split(transcript, "\n")
	chunks := make([]string, 0)
	current := make([]string, 0)
	currentTokens := 0

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens := estimateTokens(line)
		if currentTokens+tokens > maxTokensPerChunk && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = nil
			currentTokens = 0
		}
		current = append(current, line)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

// task 描述一种总结请求
type task struct {
	name   string
	key    string // 合并多个 chunk 结果时使用的 JSON 字段
	prompt string
}

var (
	notesTask = task{
		name: "notes",
		key:  "notes",
		prompt: `You are a meeting note taker. Read the meeting transcript and list the key points that were discussed.
Return strict JSON: {"notes": ["point", ...]}. Each point is one short sentence. Output JSON only.`,
	}
	minutesTask = task{
		name: "minutes",
		key:  "mom",
		prompt: `You are writing formal minutes of meeting. Read the meeting transcript and list decisions, action items and notable discussion.
Return strict JSON: {"mom": ["line", ...]}. Prefix lines with "Decision:", "Action:" or "Discussion:". Output JSON only.`,
	}
	tasksTask = task{
		name: "tasks",
		key:  "tasks",
		prompt: `You extract action items from a meeting transcript.
Return strict JSON: {"tasks": [{"task": "what to do", "assigned_to": "person or Unassigned", "deadline": "deadline or empty", "labels": []}]}.
Output JSON only. Return {"tasks": []} when there are no action items.`,
	}
)

// TakeNotes 会议笔记，返回 {"notes": [...]}
func (c *Client) TakeNotes(ctx context.Context, transcript string) (summarizer.Raw, error) {
	return c.run(ctx, notesTask, transcript)
}

// GenerateMinutes 会议纪要，返回 {"mom": [...]}
func (c *Client) GenerateMinutes(ctx context.Context, transcript string) (summarizer.Raw, error) {
	return c.run(ctx, minutesTask, transcript)
}

// ExtractTasks 行动项，返回 {"tasks": [...]}
func (c *Client) ExtractTasks(ctx context.Context, transcript string) (summarizer.Raw, error) {
	return c.run(ctx, tasksTask, transcript)
}

func (c *Client) run(ctx context.Context, t task, transcript string) (summarizer.Raw, error) {
	if strings.TrimSpace(transcript) == "" {
		return summarizer.Raw{Text: ""}, nil
	}

	tokens := estimateTokens(transcript)
	if tokens <= c.maxInputTokens {
		content, err := c.completeOnce(ctx, t, transcript)
		if err != nil {
			return summarizer.Raw{}, err
		}
		return summarizer.Raw{Text: content}, nil
	}

	// Token 超限，逐个 chunk 请求后合并
	chunks := splitTranscriptIntoChunks(transcript, c.maxInputTokens)
	logger.Infof("[LLM] 转录过长 (%d tokens)，将拆分为 %d 个 chunk 生成 %s", tokens, len(chunks), t.name)

	merged := make([]json.RawMessage, 0)
	for i, chunk := range chunks {
		logger.Debugf("[LLM] 处理 %s chunk %d/%d", t.name, i+1, len(chunks))

		content, err := c.completeOnce(ctx, t, chunk)
		if err != nil {
			return summarizer.Raw{}, fmt.Errorf("处理 chunk %d 失败: %w", i+1, err)
		}

		items, err := decodeItems(content, t.key)
		if err != nil {
			return summarizer.Raw{}, fmt.Errorf("解析 chunk %d 的 JSON 失败: %w", i+1, err)
		}
		merged = append(merged, items...)
	}

	data, err := json.Marshal(map[string][]json.RawMessage{t.key: merged})
	if err != nil {
		return summarizer.Raw{}, err
	}
	return summarizer.Raw{Text: string(data)}, nil
}

// decodeItems 解析 {"<key>": [...]} 或 [...]
func decodeItems(content, key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(content), &items); err == nil {
		return items, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, err
	}
	field, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("缺少字段 %q", key)
	}
	if err := json.Unmarshal(field, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// completeOnce 执行一次请求，返回去除代码块包裹后的内容
func (c *Client) completeOnce(ctx context.Context, t task, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: t.prompt},
			{Role: openai.ChatMessageRoleUser, Content: "Meeting transcript:\n" + transcript + "\n\nOutput JSON."},
		},
		Temperature: 0.3,
		MaxTokens:   4000,
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("调用 LLM API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM API 返回空结果")
	}

	return sanitizer.StripCodeFence(resp.Choices[0].Message.Content), nil
}
