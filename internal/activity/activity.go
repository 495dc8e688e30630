// ABOUTME: Bot Framework activity schema subset used by the Teams SSO bot
// ABOUTME: Covers message/invoke activities, mention entities, and token-exchange payloads

package activity

import (
	"encoding/json"
	"errors"
	"strings"
)

// Activity types
const (
	TypeMessage      = "message"
	TypeInvoke       = "invoke"
	TypeConversation = "conversationUpdate"
)

// Invoke names handled by the SSO flow
const (
	InvokeTokenExchange = "signin/tokenExchange"
	InvokeVerifyState   = "signin/verifyState"
)

// TextFormatXML marks message text as the HTML subset Teams renders.
const TextFormatXML = "xml"

// ErrNoValue is returned when an activity carries no value payload.
var ErrNoValue = errors.New("activity has no value")

// ChannelAccount identifies a user or bot on a channel.
type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// Entity is a loosely typed activity entity. Only mentions are interpreted.
type Entity struct {
	Type      string          `json:"type"`
	Mentioned *ChannelAccount `json:"mentioned,omitempty"`
	Text      string          `json:"text,omitempty"`
}

// Attachment carries a card or file alongside an activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	ContentURL  string `json:"contentUrl,omitempty"`
	Name        string `json:"name,omitempty"`
	Content     any    `json:"content,omitempty"`
}

// Activity is a single Bot Framework activity.
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Name         string              `json:"name,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Conversation ConversationAccount `json:"conversation"`
	Text         string              `json:"text,omitempty"`
	TextFormat   string              `json:"textFormat,omitempty"`
	Locale       string              `json:"locale,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	Entities     []Entity            `json:"entities,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	Value        json.RawMessage     `json:"value,omitempty"`
}

// TokenExchangeInvokeRequest is the value of a signin/tokenExchange invoke.
type TokenExchangeInvokeRequest struct {
	ID             string `json:"id"`
	ConnectionName string `json:"connectionName"`
	Token          string `json:"token"`
}

// TokenExchangeInvokeResponse is the body returned for a signin/tokenExchange invoke.
type TokenExchangeInvokeResponse struct {
	ID             string `json:"id"`
	ConnectionName string `json:"connectionName"`
	FailureDetail  string `json:"failureDetail,omitempty"`
}

// ResourceResponse is returned by the connector when an activity is posted.
type ResourceResponse struct {
	ID string `json:"id"`
}

// IsInvoke reports whether the activity is an invoke with the given name.
func (a *Activity) IsInvoke(name string) bool {
	return a.Type == TypeInvoke && a.Name == name
}

// IsTokenExchange reports whether the activity is a signin/tokenExchange invoke.
func (a *Activity) IsTokenExchange() bool {
	return a.IsInvoke(InvokeTokenExchange)
}

// IsVerifyState reports whether the activity is a signin/verifyState invoke.
func (a *Activity) IsVerifyState() bool {
	return a.IsInvoke(InvokeVerifyState)
}

// ConversationKey identifies the conversation across channels: "channelId/conversationId".
func (a *Activity) ConversationKey() string {
	return a.ChannelID + "/" + a.Conversation.ID
}

// DecodeValue unmarshals the activity value payload into v.
func (a *Activity) DecodeValue(v any) error {
	if len(a.Value) == 0 || string(a.Value) == "null" {
		return ErrNoValue
	}
	return json.Unmarshal(a.Value, v)
}

// RemoveRecipientMention returns the activity text with every mention of the
// recipient (the bot itself) removed.
func (a *Activity) RemoveRecipientMention() string {
	text := a.Text
	for _, e := range a.Entities {
		if e.Type != "mention" || e.Mentioned == nil || e.Text == "" {
			continue
		}
		if e.Mentioned.ID != a.Recipient.ID {
			continue
		}
		text = strings.ReplaceAll(text, e.Text, "")
	}
	return text
}

// CommandText normalizes the activity text for command matching: the bot
// mention is removed, case is lowered, and newlines are dropped.
func (a *Activity) CommandText() string {
	text := strings.ToLower(a.RemoveRecipientMention())
	text = strings.NewReplacer("\r", "", "\n", "").Replace(text)
	return strings.TrimSpace(text)
}

// Reply builds an outgoing activity addressed back to the sender of a.
func (a *Activity) Reply(out *Activity) *Activity {
	reply := *out
	if reply.Type == "" {
		reply.Type = TypeMessage
	}
	reply.ChannelID = a.ChannelID
	reply.ServiceURL = a.ServiceURL
	reply.Conversation = a.Conversation
	reply.From = a.Recipient
	reply.Recipient = a.From
	if reply.ReplyToID == "" {
		reply.ReplyToID = a.ID
	}
	if reply.Locale == "" {
		reply.Locale = a.Locale
	}
	return &reply
}
