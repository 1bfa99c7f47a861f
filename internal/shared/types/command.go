package types

// CommandAction enumerates the browser actions a viewer may issue
type CommandAction string

const (
	ActionNavigate CommandAction = "navigate"
	ActionClick    CommandAction = "click"
	ActionType     CommandAction = "type"
	ActionSelect   CommandAction = "select"
	ActionWait     CommandAction = "wait"
	ActionEvaluate CommandAction = "evaluate"
)

// UserCommand is a human-issued browser command relayed through the event channel
type UserCommand struct {
	Action    CommandAction `json:"action"`
	URL       string        `json:"url,omitempty"`
	Selector  string        `json:"selector,omitempty"`
	Text      string        `json:"text,omitempty"`
	Value     string        `json:"value,omitempty"`
	Script    string        `json:"script,omitempty"`
	Submit    bool          `json:"submit,omitempty"`
	TimeoutMs int           `json:"timeout_ms,omitempty"`
}

// InboundFrame is a message received from a connected viewer socket
type InboundFrame struct {
	Type    string       `json:"type"`
	Command *UserCommand `json:"command,omitempty"`
}
