package domain

import "time"

// MessageType classifies a notification pushed by the controller.
type MessageType string

const (
	MsgStatus                  MessageType = "STATUS"
	MsgWarning                 MessageType = "WARNING"
	MsgStartup                 MessageType = "STARTUP"
	MsgEntry                   MessageType = "ENTRY"
	MsgEntryFill               MessageType = "ENTRY_FILL"
	MsgEntryCancel             MessageType = "ENTRY_CANCEL"
	MsgExit                    MessageType = "EXIT"
	MsgExitFill                MessageType = "EXIT_FILL"
	MsgExitCancel              MessageType = "EXIT_CANCEL"
	MsgProtectionTrigger       MessageType = "PROTECTION_TRIGGER"
	MsgProtectionTriggerGlobal MessageType = "PROTECTION_TRIGGER_GLOBAL"
	MsgStrategy                MessageType = "STRATEGY_MSG"
	MsgException               MessageType = "EXCEPTION"
)

// Message is a fire-and-forget notification.
type Message struct {
	ID      string                 `json:"id"`
	Type    MessageType            `json:"type"`
	Time    time.Time              `json:"time"`
	Pair    string                 `json:"pair,omitempty"`
	TradeID int64                  `json:"trade_id,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
	Status  string                 `json:"status,omitempty"`
	LockEnd *time.Time             `json:"lock_end_time,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// EntrySignal is a strategy's verdict for opening a trade on a pair.
type EntrySignal struct {
	Enter   bool
	IsShort bool
	Tag     string
}

// ExitSignal is a strategy's verdict for closing an open trade.
type ExitSignal struct {
	Exit   bool
	Reason ExitReason
	Tag    string
}
