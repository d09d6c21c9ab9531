package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConversationRecord 归档的会话行。
type ConversationRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名。
func (ConversationRecord) TableName() string { return "conversations" }

// TurnRecord 归档的单轮问答行，含该轮的分项用量。
type TurnRecord struct {
	ID                        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID            string    `gorm:"index;size:64;not null" json:"conversation_id"`
	Query                     string    `gorm:"type:text;not null" json:"query"`
	Response                  string    `gorm:"type:text;not null" json:"response"`
	ExpansionPromptTokens     int       `json:"expansion_prompt_tokens"`
	ExpansionCompletionTokens int       `json:"expansion_completion_tokens"`
	ContextTokens             int       `json:"context_tokens"`
	PromptTokens              int       `json:"prompt_tokens"`
	CompletionTokens          int       `json:"completion_tokens"`
	CostUSD                   float64   `json:"cost_usd"`
	CreatedAt                 time.Time `json:"created_at"`
}

// TableName 指定表名。
func (TurnRecord) TableName() string { return "turns" }

// Archive 对话归档，回合完成后写入关系库。
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewArchive 创建对话归档。
func NewArchive(db *gorm.DB, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		db:     db,
		logger: logger.With(zap.String("component", "chat_archive")),
	}
}

// AutoMigrate 自动建表。生产环境走 SQL 迁移，这里供开发与测试使用。
func (a *Archive) AutoMigrate() error {
	if err := a.db.AutoMigrate(&ConversationRecord{}, &TurnRecord{}); err != nil {
		return fmt.Errorf("auto migrate archive tables: %w", err)
	}
	return nil
}

// RecordTurn 归档一轮问答。会话行不存在时创建。
func (a *Archive) RecordTurn(ctx context.Context, conversationID, query, response string, usage UsageTally) error {
	conv := ConversationRecord{ID: conversationID}
	if err := a.db.WithContext(ctx).FirstOrCreate(&conv, ConversationRecord{ID: conversationID}).Error; err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	turn := TurnRecord{
		ConversationID:            conversationID,
		Query:                     query,
		Response:                  response,
		ExpansionPromptTokens:     usage.ExpansionPromptTokens,
		ExpansionCompletionTokens: usage.ExpansionCompletionTokens,
		ContextTokens:             usage.ContextTokens,
		PromptTokens:              usage.PromptTokens,
		CompletionTokens:          usage.CompletionTokens,
		CostUSD:                   usage.CostUSD,
	}
	if err := a.db.WithContext(ctx).Create(&turn).Error; err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	// 会话行的 updated_at 跟随最新回合
	if err := a.db.WithContext(ctx).Model(&ConversationRecord{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now().UTC()).Error; err != nil {
		a.logger.Warn("touch conversation failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}

	a.logger.Debug("turn archived",
		zap.String("conversation_id", conversationID),
		zap.Int("completion_tokens", usage.CompletionTokens))
	return nil
}

// ConversationTurns 按时间序返回一个会话的全部回合。
func (a *Archive) ConversationTurns(ctx context.Context, conversationID string) ([]TurnRecord, error) {
	var turns []TurnRecord
	if err := a.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	return turns, nil
}
