package domain

// SessionInfo is the root key state for one conversation. A rotation never
// mutates a SessionInfo in place; it supersedes it with a fresh record under
// a new SessionKeyID.
type SessionInfo struct {
	ConversationID ConversationID                 `json:"conversation_id"`
	KeyID          SessionKeyID                   `json:"key_id"`
	SessionKey     []byte                         `json:"session_key"`
	EstablishedAt  int64                          `json:"established_at"`
	Participants   map[ParticipantID]PreKeyBundle `json:"participants"`
	MessageCount   uint64                         `json:"message_count"`
}

// ReceivingChain tracks one peer's sending chain as seen from this device:
// chain key, consumed key number and the bounded cache of skipped message
// keys for out-of-order delivery from that peer.
type ReceivingChain struct {
	ChainKey    []byte            `json:"chain_key"`
	KeyNumber   uint32            `json:"key_number"`
	SkippedKeys map[uint32][]byte `json:"skipped_keys"`
	SkippedAt   map[uint32]int64  `json:"skipped_at,omitempty"`
}

// RatchetState tracks the symmetric chains derived from a session root key:
// one sending chain for this device and one receiving chain per peer, keyed
// by the envelope's sender id. Every holder of the root key seeds a peer's
// chain identically, so any participant can decrypt any other. It lives and
// dies with its SessionInfo.
type RatchetState struct {
	RootKey          []byte                            `json:"root_key"`
	SendingChainKey  []byte                            `json:"sending_chain_key"`
	SendingKeyNumber uint32                            `json:"sending_key_number"`
	Receiving        map[ParticipantID]*ReceivingChain `json:"receiving"`
}

// KeyExchangeMessage carries a session root key wrapped to one participant.
// It travels over the messaging transport collaborator, not the directory.
type KeyExchangeMessage struct {
	ConversationID  ConversationID  `json:"conversationId"`
	KeyID           SessionKeyID    `json:"keyId"`
	Nonce           []byte          `json:"nonce"`
	WrappedKey      []byte          `json:"wrappedKeyCiphertext"`
	SenderID        ParticipantID   `json:"senderId"`
	SenderPreKeyPub X25519Public    `json:"senderPreKeyPublic"`
	SignedPreKeyID  SignedPreKeyID  `json:"signedPreKeyId"`
	OneTimePreKeyID OneTimePreKeyID `json:"oneTimePreKeyId,omitempty"`
	EstablishedAt   int64           `json:"establishedAt"`
}
