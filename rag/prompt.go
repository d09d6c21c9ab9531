package rag

import (
	"fmt"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// systemPromptTemplate 补全调用的系统提示词模板。
// <|context|> 标记之间注入装配好的上下文；无上下文时注入空串，模板本身不变。
const systemPromptTemplate = `You are an expert assistant for the Ontario Building Code.
Use the following context to answer questions about the building code.
If you're not sure about something, say so.

The user is likely inquiring about something in the building code.
First determine whether the question concerns the building code. If it does, find the best answer you can and always cite the relevant sections, subsections, or tables so the user can navigate back to the website and check your response.
If you refer to any sections, subsections, tables, or any other kind of reference citation in your response, you must bold it using markdown bolding. Example: **Section 1.2.3**
You ALWAYS provide citations for any information you give. This is critical. You also ALWAYS provide a small sample of exact text, sections to look within, or tables to look within for the user to verify your response on the website.

--------------------------------
<|context|>
%s
<|/context|>`

// PromptBuilder 构建补全调用的消息列表。
// 模板固定，每轮只发送系统消息和当轮用户问题，不携带历史。
type PromptBuilder struct {
	template string
}

// PromptOption 配置 PromptBuilder。
type PromptOption func(*PromptBuilder)

// WithTemplate 覆盖默认模板。模板必须包含一个 %s 占位符用于注入上下文。
func WithTemplate(template string) PromptOption {
	return func(b *PromptBuilder) {
		b.template = template
	}
}

// NewPromptBuilder 创建提示词构建器。
func NewPromptBuilder(opts ...PromptOption) *PromptBuilder {
	b := &PromptBuilder{template: systemPromptTemplate}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// System 返回注入上下文后的系统提示词。
func (b *PromptBuilder) System(context string) string {
	return fmt.Sprintf(b.template, context)
}

// Messages 返回补全调用的完整消息列表：[system, user]。
func (b *PromptBuilder) Messages(context, query string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: b.System(context)},
		{Role: llm.RoleUser, Content: query},
	}
}
