package model

import "time"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat 对应 chats 表，一个对话可以关联多个知识库。
type Chat struct {
	ID             string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         uint                `gorm:"index;not null" json:"userId"`
	Title          string              `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"createdAt"`
	KnowledgeBases []ChatKnowledgeBase `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"knowledgeBases,omitempty"`
	Messages       []Message           `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (Chat) TableName() string {
	return "chats"
}

// ChatKnowledgeBase 是对话与知识库的关联表。
type ChatKnowledgeBase struct {
	ChatID          string `gorm:"type:varchar(36);primaryKey" json:"chatId"`
	KnowledgeBaseID string `gorm:"type:varchar(36);primaryKey" json:"knowledgeBaseId"`
}

func (ChatKnowledgeBase) TableName() string {
	return "chat_knowledge_bases"
}

// Message 对应 messages 表。
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);index;not null" json:"chatId"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// ChatMessage 是发送给 LLM 的一条角色消息。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
