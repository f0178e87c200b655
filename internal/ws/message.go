package ws

import (
	"time"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	// Server -> worker instructions.
	MessageExecuteCommand      MessageType = "executeCommand"
	MessageStopCommand         MessageType = "stopCommand"
	MessageStopTerminalCommand MessageType = "stop-terminal-command"

	// Server -> operator fan-out.
	MessageNotification MessageType = "notif"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Pentest   string      `json:"pentest,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// ExecuteCommandData instructs a worker to launch one tool.
type ExecuteCommandData struct {
	ToolIID string `json:"tool_iid"`
	Text    string `json:"text"`    // resolved command line
	Timeout int    `json:"timeout"` // seconds, 0 means no limit
	Plugin  string `json:"plugin"`  // parser plugin for the result file
}

// StopCommandData instructs a worker to kill one running tool.
type StopCommandData struct {
	ToolIID string `json:"tool_iid"`
}

// NotificationData is the payload for notif messages.
type NotificationData struct {
	Notification models.Notification `json:"notification"`
}
