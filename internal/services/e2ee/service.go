package e2ee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sotto/internal/crypto"
	"sotto/internal/domain"
	identitysvc "sotto/internal/services/identity"
	messagesvc "sotto/internal/services/message"
	"sotto/internal/services/rotation"
	sessionsvc "sotto/internal/services/session"
)

// Inbox is an optional source of pending wrapped-key messages, drained when
// an envelope references a session key this device has not installed yet.
type Inbox interface {
	Drain(participant domain.ParticipantID) []domain.KeyExchangeMessage
}

// Service is the subsystem facade. One lock serialises every operation that
// touches session state, which gives each conversation the strict ordering
// the ratchet requires.
type Service struct {
	provider    crypto.Provider
	identity    *identitysvc.Service
	sessions    *sessionsvc.Service
	messages    *messagesvc.Service
	inbox       Inbox
	participant domain.ParticipantID
	device      domain.DeviceID
	cfg         domain.Config
	scheduler   *rotation.Scheduler
	log         *logrus.Entry

	mu sync.Mutex
}

// New wires the services over the given store, directory and key-exchange
// channel. Construction fails closed when the cryptographic provider does
// not pass its self-test. inbox may be nil.
func New(
	provider crypto.Provider,
	store domain.KeyMaterialStore,
	directory domain.Directory,
	exchange domain.KeyExchange,
	inbox Inbox,
	participant domain.ParticipantID,
	cfg domain.Config,
) (*Service, error) {
	ids, err := identitysvc.New(provider, store, directory, participant, cfg)
	if err != nil {
		return nil, err
	}
	s := &Service{
		provider:    provider,
		identity:    ids,
		sessions:    sessionsvc.New(provider, store, directory, exchange, participant, cfg),
		inbox:       inbox,
		participant: participant,
		cfg:         cfg,
		log: logrus.WithFields(logrus.Fields{
			"component":   "e2ee",
			"participant": participant,
		}),
	}
	if !cfg.PerfectForwardSecrecy {
		s.log.Warn("perfect forward secrecy disabled: message keys will not advance per message")
	}
	return s, nil
}

// Init provisions the device on first run and tops up published key
// material: device record, identity pair, current signed pre-key, the
// one-time pool and the directory bundle.
func (s *Service) Init(ctx context.Context) error {
	dev, err := s.identity.EnsureDevice(ctx)
	if err != nil {
		return fmt.Errorf("provision device: %w", err)
	}
	s.device = dev.DeviceID
	if _, err := s.identity.EnsureIdentity(ctx); err != nil {
		return fmt.Errorf("provision identity: %w", err)
	}
	if _, err := s.identity.EnsureSignedPreKey(ctx); err != nil {
		return fmt.Errorf("provision signed pre-key: %w", err)
	}
	n, err := s.identity.PoolSize()
	if err != nil {
		return err
	}
	if n < s.cfg.OneTimePreKeyPoolSize {
		if _, err := s.identity.ReplenishOneTimePreKeys(ctx, s.cfg.OneTimePreKeyPoolSize-n); err != nil {
			return fmt.Errorf("replenish one-time pre-keys: %w", err)
		}
	}
	if _, err := s.identity.PublishBundle(ctx); err != nil {
		return err
	}
	s.messages = messagesvc.New(s.provider, s.sessions, s.participant, s.device, s.cfg, s)
	return nil
}

// StartRotation launches the background maintenance loop. Stop it with
// Close.
func (s *Service) StartRotation(ctx context.Context, every time.Duration) {
	if s.scheduler != nil {
		return
	}
	s.scheduler = rotation.New(s, s.cfg, every)
	s.scheduler.Start(ctx)
}

// EstablishSession derives a fresh session key for the conversation and
// distributes it, wrapped, to every listed participant.
func (s *Service) EstablishSession(
	ctx context.Context,
	conv domain.ConversationID,
	participants []domain.ParticipantID,
) (domain.SessionKeyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.sessions.Establish(ctx, conv, participants)
	if err != nil {
		return "", err
	}
	return rec.Info.KeyID, nil
}

// AcceptWrappedKey installs a session key another participant distributed to
// this device.
func (s *Service) AcceptWrappedKey(ctx context.Context, msg domain.KeyExchangeMessage) (domain.SessionKeyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.sessions.Accept(ctx, msg)
	if err != nil {
		return "", err
	}
	return rec.Info.KeyID, nil
}

// Encrypt seals one message for the conversation's active session.
func (s *Service) Encrypt(
	ctx context.Context,
	conv domain.ConversationID,
	msg domain.PlaintextMessage,
) (domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		return domain.Envelope{}, errors.New("e2ee: Init not called")
	}
	return s.messages.Encrypt(ctx, conv, msg)
}

// Decrypt opens one envelope, installing any pending wrapped key first when
// the referenced session is unknown.
func (s *Service) Decrypt(ctx context.Context, env domain.Envelope) (domain.PlaintextMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		return domain.PlaintextMessage{}, errors.New("e2ee: Init not called")
	}
	return s.messages.Decrypt(ctx, env)
}

// EndSession destroys all key material for the conversation.
func (s *Service) EndSession(conv domain.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.End(conv)
}

// IdentityFingerprint returns the short fingerprint of this device's
// long-term key, for out-of-band comparison.
func (s *Service) IdentityFingerprint(ctx context.Context) (domain.Fingerprint, error) {
	id, err := s.identity.EnsureIdentity(ctx)
	if err != nil {
		return "", err
	}
	return domain.Fingerprint(crypto.Fingerprint(id.DHPub.Slice())), nil
}

// ChainCounters reports the active session's sending key number and the
// receiving key number for the given peer's chain, for diagnostics. A peer
// this device has not heard from yet reads as zero.
func (s *Service) ChainCounters(conv domain.ConversationID, peer domain.ParticipantID) (sending, receiving uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions.Active(conv)
	if !ok {
		return 0, 0, false
	}
	if rc := rec.Ratchet.Receiving[peer]; rc != nil {
		receiving = rc.KeyNumber
	}
	return rec.Ratchet.SendingKeyNumber, receiving, true
}

// Close stops the scheduler and wipes every session.
func (s *Service) Close() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler = nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Close()
}

// Reestablish drains pending wrapped-key messages and installs every one of
// them. Draining is destructive, so keys for other conversations are
// installed too rather than discarded; only installs for the requested
// conversation count towards success. The message service calls it once
// when an envelope references a session key this device does not hold.
func (s *Service) Reestablish(ctx context.Context, conv domain.ConversationID) error {
	if s.inbox == nil {
		return domain.ErrSessionKeyMissing
	}
	installed := 0
	for _, msg := range s.inbox.Drain(s.participant) {
		if _, err := s.sessions.Accept(ctx, msg); err != nil {
			s.log.WithError(err).WithField("conversation_id", msg.ConversationID).
				Warn("pending wrapped key rejected")
			continue
		}
		if msg.ConversationID == conv {
			installed++
		}
	}
	if installed == 0 {
		return domain.ErrSessionKeyMissing
	}
	return nil
}

// Conversations lists ids with an active session.
func (s *Service) Conversations() []domain.ConversationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Conversations()
}

// SessionStatus reports the active session's age, message count and peer
// set for the rotation scan.
func (s *Service) SessionStatus(conv domain.ConversationID) (time.Duration, uint64, []domain.ParticipantID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions.Active(conv)
	if !ok {
		return 0, 0, nil, false
	}
	age := time.Since(time.UnixMilli(rec.Info.EstablishedAt))
	peers := make([]domain.ParticipantID, 0, len(rec.Info.Participants))
	for id := range rec.Info.Participants {
		peers = append(peers, id)
	}
	return age, rec.Info.MessageCount, peers, true
}

// Rotate replaces the conversation's session key, superseding the old one.
func (s *Service) Rotate(ctx context.Context, conv domain.ConversationID, participants []domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sessions.Establish(ctx, conv, participants)
	return err
}

// PoolSize reports how many unused one-time pre-keys remain.
//
// PoolSize and Replenish touch only the key store, which carries its own
// lock, so neither takes s.mu; Replenish publishes to the directory and
// holding s.mu across that would stall encrypt and decrypt.
func (s *Service) PoolSize() (int, error) {
	return s.identity.PoolSize()
}

// Replenish tops the one-time pool up and republishes the bundle.
func (s *Service) Replenish(ctx context.Context, count int) error {
	if _, err := s.identity.ReplenishOneTimePreKeys(ctx, count); err != nil {
		return err
	}
	_, err := s.identity.PublishBundle(ctx)
	return err
}

// Flush wipes expired superseded sessions and aged skipped keys.
func (s *Service) Flush(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.FlushExpired(now)
}

// PruneSignedPreKeys drops superseded signed pre-keys past retention.
func (s *Service) PruneSignedPreKeys() error {
	return s.identity.PruneSignedPreKeys()
}

// Compile-time assertions.
var (
	_ rotation.Target          = (*Service)(nil)
	_ messagesvc.Reestablisher = (*Service)(nil)
)
