package common

import "time"

// Platform identifies the channel a recipient is conversing on. Session
// keys, provider routing, and capability degradation all key off this.
type Platform string

const (
	PlatformWhatsApp Platform = "WHATSAPP"
	PlatformTelegram Platform = "TELEGRAM"
	PlatformWeb      Platform = "WEB"
	PlatformSMS      Platform = "SMS"
	PlatformVoice    Platform = "VOICE"
	PlatformTest     Platform = "TEST"
)

// Attachment is a single media item carried on an inbound message.
type Attachment struct {
	Type string `json:"type"` // image | audio | video | document | location
	URL  string `json:"url,omitempty"`
	ID   string `json:"id,omitempty"` // provider-native media id, when no URL is given
}

// Location is a lat/lng pair, shared by inbound location shares and
// send_location_request round-trips.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ButtonReply is the user's tap on a previously sent button or list item.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// InboundMessage is the canonical form every channel's Message Normalizer
// converges to, per spec §4.2.
type InboundMessage struct {
	RecipientID       string        `json:"recipient_id"`
	Platform          Platform      `json:"platform"`
	Text              string        `json:"text,omitempty"`
	Attachments       []Attachment  `json:"attachments,omitempty"`
	ButtonsReply      *ButtonReply  `json:"buttons_reply,omitempty"`
	Location          *Location     `json:"location,omitempty"`
	ReceivedAt        time.Time     `json:"received_at"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	CorrelationID     string        `json:"correlation_id,omitempty"`
}

// Button is one option within a send_buttons outbound message.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListItem is one row within a send_list outbound message.
type ListItem struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// OutboundKind selects which Outbound Dispatcher contract method an
// OutboundMessage is destined for (spec §4.3).
type OutboundKind string

const (
	OutboundText            OutboundKind = "text"
	OutboundImage            OutboundKind = "image"
	OutboundButtons          OutboundKind = "buttons"
	OutboundList             OutboundKind = "list"
	OutboundLocationRequest  OutboundKind = "location_request"
)

// OutboundMessage is queued by executors and committed through the
// dispatcher in emission order (spec §4.3, §4.4).
type OutboundMessage struct {
	Kind       OutboundKind
	RecipientID string
	Platform   Platform // resolved at commit time if empty
	Text       string
	ImageURL   string
	Caption    string
	Buttons    []Button
	Items      []ListItem
}

// Role identifies who spoke a given conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entity is a single NLU-extracted slot value.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ConversationLogEntry is one append-only row of conversation_messages
// (spec §3.4, §6.6).
type ConversationLogEntry struct {
	ID              int64
	SessionID       string
	RecipientID     string
	Role            Role
	Content         string
	Intent          string
	Confidence      float64
	Entities        []Entity
	TurnNumber      int
	RoutingDecision string
	ProcessingMS    int64
	CreatedAt       time.Time
}

// TrainingSampleSource identifies where a training sample originated.
type TrainingSampleSource string

const (
	TrainingSourceConversation TrainingSampleSource = "conversation"
	TrainingSourceGame         TrainingSampleSource = "game"
	TrainingSourceAdmin        TrainingSampleSource = "admin"
)

// ReviewStatus is the moderation state of a training sample.
type ReviewStatus string

const (
	ReviewPending      ReviewStatus = "pending"
	ReviewApproved     ReviewStatus = "approved"
	ReviewRejected     ReviewStatus = "rejected"
	ReviewAutoApproved ReviewStatus = "auto_approved"
)

// TrainingSample is an NLU training-grade record (spec §3.5).
type TrainingSample struct {
	ID           int64
	Text         string
	Intent       string
	Entities     []Entity
	Language     string
	Confidence   float64
	Source       TrainingSampleSource
	ReviewStatus ReviewStatus
	CreatedAt    time.Time
}

// PreferenceCategory groups related preference keys (spec §3.6).
type PreferenceCategory string

const (
	CategoryDietary       PreferenceCategory = "dietary"
	CategoryShopping      PreferenceCategory = "shopping"
	CategoryCommunication PreferenceCategory = "communication"
	CategoryPersonality   PreferenceCategory = "personality"
)

// PreferenceAttribute is a single categorized user attribute with its
// extraction confidence.
type PreferenceAttribute struct {
	Category   PreferenceCategory
	Key        string
	Value      string
	Confidence float64
	UpdatedAt  time.Time
}

// UserProfile is the full set of preferences known about one user, plus
// the derived completeness score (spec §3.6, §4.8).
type UserProfile struct {
	UserID               string
	Attributes           map[string]PreferenceAttribute // keyed by "category.key"
	ProfileCompleteness  float64                         // 0..100
	UpdatedAt            time.Time
}
