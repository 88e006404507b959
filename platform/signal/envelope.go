package signal

// Wire types for signal-cli receive notifications. Only the fields we
// read are declared; signal-cli sends plenty more.

type receiveNote struct {
	Envelope envelope `json:"envelope"`
	Account  string   `json:"account"`
}

type envelope struct {
	Source       string       `json:"source"`
	SourceNumber string       `json:"sourceNumber"`
	SourceName   string       `json:"sourceName"`
	Timestamp    int64        `json:"timestamp"`
	DataMessage  *dataMessage `json:"dataMessage"`
}

type dataMessage struct {
	Timestamp int64      `json:"timestamp"`
	Message   string     `json:"message"`
	GroupInfo *groupInfo `json:"groupInfo"`
	Quote     *quote     `json:"quote"`
	Mentions  []mention  `json:"mentions"`
}

type groupInfo struct {
	// GroupID is the canonical base64 form.
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

type quote struct {
	// ID is the quoted message's timestamp, signal's message identity.
	ID     int64  `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
}

type mention struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Start  int    `json:"start"`
	Length int    `json:"length"`
}
