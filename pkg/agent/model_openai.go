package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const defaultChatModelName = "gpt-4o-mini"

// OpenAIChatModel 基于 go-openai 的 ToolCallingChatModel，适用于任何 OpenAI 兼容的 chat/completions 接口
type OpenAIChatModel struct {
	client    *openai.Client
	modelName string
	maxTokens int
	tools     []openai.Tool
	logger    *zerolog.Logger
}

// ChatModelConfig 构造参数
type ChatModelConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    *zerolog.Logger
	Client    *openai.Client // 可选，测试时注入
}

// NewOpenAIChatModel 创建一个新的 OpenAIChatModel 实例
func NewOpenAIChatModel(cfg ChatModelConfig) (*OpenAIChatModel, error) {
	client := cfg.Client
	if client == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("API 密钥不能为空")
		}
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}

	name := cfg.Model
	if strings.TrimSpace(name) == "" {
		name = defaultChatModelName
	}
	l := cfg.Logger
	if l == nil {
		l = &log.Logger
	}

	return &OpenAIChatModel{
		client:    client,
		modelName: name,
		maxTokens: cfg.MaxTokens,
		logger:    l,
	}, nil
}

// Generate 实现 model.ChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.modelName}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    m.modelName,
		Messages: toOpenAIMessages(messages),
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	} else if m.maxTokens > 0 {
		req.MaxTokens = m.maxTokens
	}
	if len(m.tools) > 0 {
		req.Tools = m.tools
	}

	m.logger.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).Float32("temperature", req.Temperature).Msg("发送 chat completion 请求")

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion 调用失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion 返回空 choices")
	}

	choice := resp.Choices[0]
	out := &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(choice.FinishReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		},
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.ToolCalls = make([]schema.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			out.ToolCalls[i] = schema.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}
	return out, nil
}

// Stream 检索流程只需要一次性结果
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel 的 Stream 方法未实现")
}

// BindTools 实现 model.ChatModel 接口，原地绑定
func (m *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	converted, err := toOpenAITools(tools)
	if err != nil {
		return err
	}
	m.tools = converted
	return nil
}

// WithTools 返回绑定了工具的副本，原实例不受影响
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	converted, err := toOpenAITools(tools)
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.tools = converted
	return &clone, nil
}

var _ model.ChatModel = (*OpenAIChatModel)(nil)
var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)

func toOpenAITools(tools []*schema.ToolInfo) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("转换工具 %s 的参数 schema 失败: %w", info.Name, err)
			}
			if s != nil {
				params = s
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		cm := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

// FinishReason 读取响应的结束原因
func FinishReason(msg *schema.Message) string {
	if msg == nil || msg.ResponseMeta == nil {
		return ""
	}
	return msg.ResponseMeta.FinishReason
}

// UsageOf 读取响应的 token 用量
func UsageOf(msg *schema.Message) (prompt, completion int) {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0, 0
	}
	return msg.ResponseMeta.Usage.PromptTokens, msg.ResponseMeta.Usage.CompletionTokens
}
