// Package transport defines the messaging-platform-agnostic types exchanged
// between the chat adapter and the rest of the bot.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget identifies where a message should be delivered.
type ChatTarget struct {
	ChatID int64
}

// MessageRef points at a previously delivered message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is an outbound message request.
type Notification struct {
	Target  ChatTarget
	Text    string
	Options *SendOptions
}

// Adapter is a messaging platform backend (Telegram in this project).
type Adapter interface {
	// Start begins receiving updates and returns a channel of them.
	// The channel is closed when the adapter stops.
	Start(ctx context.Context) (<-chan Update, error)
	Stop(ctx context.Context) error

	// SendText delivers a text message and returns a reference to it.
	SendText(ctx context.Context, target ChatTarget, text string, opts *SendOptions) (MessageRef, error)
}

// BotCommand is an entry for the platform's command menu.
type BotCommand struct {
	Name        string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the
// command list to the platform UI.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, commands []BotCommand) error
}
