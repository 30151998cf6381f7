package domain

// Envelope is the self-contained encrypted container for one message. The
// JSON field names are the wire contract and must round-trip byte-exact.
type Envelope struct {
	ConversationID ConversationID `json:"conversationId"`
	KeyID          SessionKeyID   `json:"keyId"`
	KeyNumber      uint32         `json:"keyNumber"`
	Nonce          []byte         `json:"nonce"`
	Ciphertext     []byte         `json:"ciphertext"`
	SenderID       ParticipantID  `json:"senderId"`
	SenderDeviceID DeviceID       `json:"senderDeviceId"`
	Timestamp      int64          `json:"timestamp"`
}

// PlaintextMessage is the contract with the UI collaborator: exactly this
// structure is serialised and encrypted inside an Envelope's ciphertext.
type PlaintextMessage struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId"`
}
