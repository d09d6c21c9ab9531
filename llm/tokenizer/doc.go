// Package tokenizer 提供按模型族计数 token 的统一接口.
// tiktoken 实现覆盖 OpenAI 家族模型; 未知模型回退到字符比例估计器.
package tokenizer
