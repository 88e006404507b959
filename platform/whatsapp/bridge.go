package whatsapp

// Wire types for the bridge's JSON protocol. One frame per event,
// discriminated by type.

type bridgeEvent struct {
	Type string `json:"type"`

	// qr
	Data    string `json:"data,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds

	// connected
	Phone string `json:"phone,omitempty"`

	// disconnected
	Reason string `json:"reason,omitempty"`

	// message
	Message *bridgeMessage `json:"message,omitempty"`
}

type bridgeMessage struct {
	ID          string             `json:"id"`
	ChatID      string             `json:"chat_id"`
	ChatName    string             `json:"chat_name,omitempty"`
	ChatType    string             `json:"chat_type"` // "dm" or "group"
	Sender      string             `json:"sender"`
	SenderName  string             `json:"sender_name,omitempty"`
	Text        string             `json:"text"`
	Timestamp   int64              `json:"timestamp"` // unix ms
	QuotedID    string             `json:"quoted_id,omitempty"`
	Attachments []bridgeAttachment `json:"attachments,omitempty"`
}

type bridgeAttachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type bridgeSend struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Body   string `json:"body"`
}
