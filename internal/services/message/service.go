package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sotto/internal/crypto"
	"sotto/internal/domain"
	"sotto/internal/protocol/ratchet"
	sessionsvc "sotto/internal/services/session"
	"sotto/internal/util/memzero"
)

// Reestablisher re-derives a conversation's session when local state is
// stale. Decrypt calls it once on a session-key miss before giving up.
type Reestablisher interface {
	Reestablish(ctx context.Context, conv domain.ConversationID) error
}

// Service encrypts and decrypts single messages.
type Service struct {
	provider    crypto.Provider
	sessions    *sessionsvc.Service
	participant domain.ParticipantID
	device      domain.DeviceID
	cfg         domain.Config
	reestablish Reestablisher
	log         *logrus.Entry
}

// New constructs the envelope cipher. reestablish may be nil.
func New(
	provider crypto.Provider,
	sessions *sessionsvc.Service,
	participant domain.ParticipantID,
	device domain.DeviceID,
	cfg domain.Config,
	reestablish Reestablisher,
) *Service {
	return &Service{
		provider:    provider,
		sessions:    sessions,
		participant: participant,
		device:      device,
		cfg:         cfg,
		reestablish: reestablish,
		log: logrus.WithFields(logrus.Fields{
			"component":   "message",
			"participant": participant,
		}),
	}
}

// Encrypt seals one plaintext message under the next sending chain key and
// packages it with the session's key id. Every call draws a fresh random
// nonce; reusing a nonce under the same key would be a fatal precondition
// violation, which random 24-byte nonces make unreachable.
func (s *Service) Encrypt(
	ctx context.Context,
	conv domain.ConversationID,
	msg domain.PlaintextMessage,
) (domain.Envelope, error) {
	rec, ok := s.sessions.Active(conv)
	if !ok {
		return domain.Envelope{}, fmt.Errorf("conversation %q: %w", conv, domain.ErrSessionKeyMissing)
	}

	n, mk, err := ratchet.NextSendingKey(&rec.Ratchet, s.cfg.PerfectForwardSecrecy)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer memzero.Zero(mk)

	nonce, err := s.provider.NewNonce()
	if err != nil {
		return domain.Envelope{}, err
	}
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return domain.Envelope{}, err
	}

	env := domain.Envelope{
		ConversationID: conv,
		KeyID:          rec.Info.KeyID,
		KeyNumber:      n,
		Nonce:          nonce,
		SenderID:       s.participant,
		SenderDeviceID: s.device,
		Timestamp:      time.Now().UnixMilli(),
	}
	ct, err := s.provider.AEADSeal(mk, nonce, plaintext, envelopeAD(env))
	memzero.Zero(plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}
	env.Ciphertext = ct
	rec.Info.MessageCount++
	return env, nil
}

// Decrypt resolves the envelope's session state, derives the matching
// receiving key and opens the ciphertext. An authentication failure leaves
// the ratchet untouched and reports the envelope as tampered or misrouted;
// a success advances the receiving chain exactly once for that key number.
func (s *Service) Decrypt(ctx context.Context, env domain.Envelope) (domain.PlaintextMessage, error) {
	rec, err := s.resolve(ctx, env)
	if err != nil {
		return domain.PlaintextMessage{}, err
	}

	// Snapshot so a forged envelope cannot burn the real key number.
	snapshot := ratchet.Clone(&rec.Ratchet)
	mk, err := ratchet.ReceivingKey(&rec.Ratchet, env.SenderID, env.KeyNumber, s.cfg.MaxSkipWindow, s.cfg.PerfectForwardSecrecy)
	if err != nil {
		ratchet.Wipe(&snapshot)
		return domain.PlaintextMessage{}, err
	}
	plaintext, err := s.provider.AEADOpen(mk, env.Nonce, env.Ciphertext, envelopeAD(env))
	memzero.Zero(mk)
	if err != nil {
		ratchet.Wipe(&rec.Ratchet)
		rec.Ratchet = snapshot
		s.log.WithFields(logrus.Fields{
			"conversation_id": env.ConversationID,
			"key_number":      env.KeyNumber,
			"sender_id":       env.SenderID,
		}).Warn("dropping envelope that failed authentication")
		return domain.PlaintextMessage{}, domain.ErrTamperedOrMisrouted
	}
	ratchet.Wipe(&snapshot)
	defer memzero.Zero(plaintext)

	var msg domain.PlaintextMessage
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		return domain.PlaintextMessage{}, fmt.Errorf("decode plaintext message: %w", err)
	}
	rec.Info.MessageCount++
	return msg, nil
}

func (s *Service) resolve(ctx context.Context, env domain.Envelope) (*sessionsvc.Record, error) {
	rec, err := s.sessions.Resolve(env.ConversationID, env.KeyID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrSessionKeyMissing) || s.reestablish == nil {
		return nil, err
	}
	// Stale local state: one re-derivation attempt, transparent on success.
	if rerr := s.reestablish.Reestablish(ctx, env.ConversationID); rerr != nil {
		return nil, err
	}
	return s.sessions.Resolve(env.ConversationID, env.KeyID)
}

// envelopeAD binds every header field except the ciphertext itself into the
// authenticated data, so key id or sender swaps break authentication.
func envelopeAD(env domain.Envelope) []byte {
	return fmt.Appendf(nil, "%s|%s|%d|%s|%s|%d",
		env.ConversationID, env.KeyID, env.KeyNumber,
		env.SenderID, env.SenderDeviceID, env.Timestamp)
}
