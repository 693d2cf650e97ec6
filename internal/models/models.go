package models

import "time"

type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationPending  ConversationStatus = "pending"
	ConversationAssigned ConversationStatus = "assigned"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

type QueueStatus string

const (
	QueueQueued  QueueStatus = "queued"
	QueueRouting QueueStatus = "routing"
	QueueRouted  QueueStatus = "routed"
	QueueManual  QueueStatus = "manual"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type ChannelType string

const (
	ChannelWebchat     ChannelType = "webchat"
	ChannelWhatsApp    ChannelType = "whatsapp"
	ChannelInstagram   ChannelType = "instagram"
	ChannelFacebook    ChannelType = "facebook"
	ChannelMarketplace ChannelType = "marketplace"
	ChannelEmail       ChannelType = "email"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelWebchat, ChannelWhatsApp, ChannelInstagram, ChannelFacebook, ChannelMarketplace, ChannelEmail:
		return true
	}
	return false
}

type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentAway    AgentStatus = "away"
	AgentOffline AgentStatus = "offline"
)

type Sender string

const (
	SenderContact Sender = "contact"
	SenderAgent   Sender = "agent"
	SenderBot     Sender = "bot"
	SenderSystem  Sender = "system"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageLocation MessageType = "location"
	MessageSystem   MessageType = "system"
)

// IsMedia reports whether the type carries an attachment that channels send as media.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageFile, MessageAudio, MessageVideo:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

type Conversation struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	ChannelID       string             `json:"channel_id"`
	ContactID       string             `json:"contact_id"`
	AssignedToID    string             `json:"assigned_to_id,omitempty"`
	DepartmentID    string             `json:"department_id,omitempty"`
	Status          ConversationStatus `json:"status"`
	QueueStatus     QueueStatus        `json:"queue_status"`
	QueuePosition   int                `json:"queue_position"`
	QueuedAt        *time.Time         `json:"queued_at,omitempty"`
	LastMessageAt   *time.Time         `json:"last_message_at,omitempty"`
	FirstResponseAt *time.Time         `json:"first_response_at,omitempty"`
	IsBot           bool               `json:"is_bot"`
	Priority        Priority           `json:"priority"`
	Subject         string             `json:"subject,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type Contact struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	ExternalID string         `json:"external_id,omitempty"`
	Name       string         `json:"name"`
	Email      string         `json:"email,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Channel struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Type      ChannelType    `json:"type"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config,omitempty"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConfigString returns a string value from the channel config, or "".
func (c Channel) ConfigString(key string) string {
	v, ok := c.Config[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}

// ConfigBool reports whether a config flag is set to true.
func (c Channel) ConfigBool(key string) bool {
	switch t := c.Config[key].(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	}
	return false
}

type Department struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Priority           int       `json:"priority"`
	AutoAssignChannels []string  `json:"auto_assign_channels"`
	WelcomeMessage     string    `json:"welcome_message,omitempty"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
}

type Membership struct {
	ID           string    `json:"id"`
	DepartmentID string    `json:"department_id"`
	AgentID      string    `json:"agent_id"`
	Skills       []string  `json:"skills"`
	SkillLevel   int       `json:"skill_level"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Agent struct {
	ID                 string      `json:"id"`
	TenantID           string      `json:"tenant_id"`
	Name               string      `json:"name"`
	Email              string      `json:"email,omitempty"`
	Status             AgentStatus `json:"status"`
	MaxConcurrentChats int         `json:"max_concurrent_chats"`
	IsActive           bool        `json:"is_active"`
	CreatedAt          time.Time   `json:"created_at"`
}

type Attachment struct {
	URL      string `json:"url"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Sender         Sender         `json:"sender"`
	Type           MessageType    `json:"type"`
	Status         MessageStatus  `json:"status"`
	Content        string         `json:"content"`
	AgentID        string         `json:"agent_id,omitempty"`
	ExternalID     string         `json:"external_id,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Transfer struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	TenantID         string    `json:"tenant_id"`
	FromDepartmentID string    `json:"from_department_id,omitempty"`
	ToDepartmentID   string    `json:"to_department_id,omitempty"`
	FromAgentID      string    `json:"from_agent_id,omitempty"`
	ToAgentID        string    `json:"to_agent_id,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	TransferredAt    time.Time `json:"transferred_at"`
}
