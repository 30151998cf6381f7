package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sotto/internal/crypto"
	"sotto/internal/domain"
	"sotto/internal/protocol/agreement"
	"sotto/internal/protocol/ratchet"
	"sotto/internal/util/memzero"
)

// Record pairs a SessionInfo with the ratchet state sharing its lifetime.
// SupersededAt is zero while the record is the conversation's active one.
type Record struct {
	Info         domain.SessionInfo
	Ratchet      domain.RatchetState
	SupersededAt int64
}

// Service establishes, accepts, supersedes and resolves sessions. It is the
// sole owner of raw session key bytes; callers access records only while
// holding the conversation's serialization lock.
type Service struct {
	provider    crypto.Provider
	store       domain.KeyMaterialStore
	directory   domain.Directory
	exchange    domain.KeyExchange
	participant domain.ParticipantID
	cfg         domain.Config
	log         *logrus.Entry

	active     map[domain.ConversationID]*Record
	superseded map[domain.ConversationID]map[domain.SessionKeyID]*Record
}

// New constructs the session service.
func New(
	provider crypto.Provider,
	store domain.KeyMaterialStore,
	directory domain.Directory,
	exchange domain.KeyExchange,
	participant domain.ParticipantID,
	cfg domain.Config,
) *Service {
	return &Service{
		provider:    provider,
		store:       store,
		directory:   directory,
		exchange:    exchange,
		participant: participant,
		cfg:         cfg,
		log: logrus.WithFields(logrus.Fields{
			"component":   "session",
			"participant": participant,
		}),
		active:     make(map[domain.ConversationID]*Record),
		superseded: make(map[domain.ConversationID]map[domain.SessionKeyID]*Record),
	}
}

// Establish fetches and verifies each participant's bundle, derives a fresh
// session root key scoped to the conversation, wraps it to every participant
// over the key-exchange channel and installs the resulting record.
func (s *Service) Establish(
	ctx context.Context,
	conv domain.ConversationID,
	participants []domain.ParticipantID,
) (*Record, error) {
	if len(participants) == 0 {
		return nil, errors.New("session: no participants")
	}

	bundles := make([]domain.PreKeyBundle, 0, len(participants))
	for _, pid := range participants {
		b, err := s.directory.Fetch(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("fetch bundle for %q: %w", pid, err)
		}
		if err := agreement.VerifyBundle(s.provider, b); err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}

	spk, found, err := s.store.CurrentSignedPreKey()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("session: no signed pre-key; initialise identity first")
	}

	// The root key comes out of the agreement with the first participant,
	// bound to this conversation so equal secrets in different conversations
	// yield unrelated roots.
	firstSecret, _, err := agreement.InitiatorSecret(s.provider, spk.Priv, bundles[0])
	if err != nil {
		return nil, err
	}
	rootKey, err := agreement.SessionRootKey(s.provider, firstSecret, conv)
	memzero.Zero(firstSecret)
	if err != nil {
		return nil, err
	}

	keyID := domain.SessionKeyID(uuid.NewString())
	establishedAt := time.Now().UnixMilli()

	for _, b := range bundles {
		if err := s.sendWrappedKey(ctx, conv, keyID, establishedAt, spk, b, rootKey); err != nil {
			memzero.Zero(rootKey)
			return nil, err
		}
	}

	info := domain.SessionInfo{
		ConversationID: conv,
		KeyID:          keyID,
		SessionKey:     rootKey,
		EstablishedAt:  establishedAt,
		Participants:   make(map[domain.ParticipantID]domain.PreKeyBundle, len(bundles)),
	}
	for _, b := range bundles {
		info.Participants[b.ParticipantID] = b
	}

	st, err := ratchet.Init(rootKey, s.participant.String())
	if err != nil {
		memzero.Zero(rootKey)
		return nil, err
	}
	rec := &Record{Info: info, Ratchet: st}
	installed := s.install(conv, rec)
	if installed != rec {
		s.log.WithFields(logrus.Fields{
			"conversation_id": conv,
			"key_id":          keyID,
		}).Warn("establishment lost last-writer-wins race; discarded")
		return installed, nil
	}
	s.log.WithFields(logrus.Fields{
		"conversation_id": conv,
		"key_id":          keyID,
		"participants":    len(bundles),
	}).Info("session established")
	return rec, nil
}

// sendWrappedKey encrypts the root key to one participant under the wrap key
// derived from our signed pre-key and their published publics.
func (s *Service) sendWrappedKey(
	ctx context.Context,
	conv domain.ConversationID,
	keyID domain.SessionKeyID,
	establishedAt int64,
	spk domain.SignedPreKey,
	bundle domain.PreKeyBundle,
	rootKey []byte,
) error {
	secret, opkID, err := agreement.InitiatorSecret(s.provider, spk.Priv, bundle)
	if err != nil {
		return err
	}
	wrapKey, err := agreement.WrapKey(s.provider, secret, conv)
	memzero.Zero(secret)
	if err != nil {
		return err
	}
	defer memzero.Zero(wrapKey)

	nonce, err := s.provider.NewNonce()
	if err != nil {
		return err
	}
	wrapped, err := s.provider.AEADSeal(wrapKey, nonce, rootKey, wrapAD(conv, keyID))
	if err != nil {
		return err
	}
	msg := domain.KeyExchangeMessage{
		ConversationID:  conv,
		KeyID:           keyID,
		Nonce:           nonce,
		WrappedKey:      wrapped,
		SenderID:        s.participant,
		SenderPreKeyPub: spk.Pub,
		SignedPreKeyID:  bundle.SignedPreKeyID,
		OneTimePreKeyID: opkID,
		EstablishedAt:   establishedAt,
	}
	if err := s.exchange.Send(ctx, bundle.ParticipantID, msg); err != nil {
		return fmt.Errorf("send wrapped key to %q: %w", bundle.ParticipantID, err)
	}
	return nil
}

// Accept unwraps an incoming session key and installs the session on this
// side. The named signed pre-key and one-time pre-key privates must still be
// held locally; a consumed one-time pre-key refuses the establishment.
func (s *Service) Accept(ctx context.Context, msg domain.KeyExchangeMessage) (*Record, error) {
	// Reject a malformed nonce before consuming any pre-key material.
	if len(msg.Nonce) != crypto.NonceBytes {
		return nil, fmt.Errorf("unwrap session key: %w", domain.ErrUntrustedKeyMaterial)
	}
	id, found, err := s.store.LoadIdentityKeyPair()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("session: no identity key pair")
	}
	spk, found, err := s.store.LoadSignedPreKey(msg.SignedPreKeyID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("session: signed pre-key %q not held: %w", msg.SignedPreKeyID, domain.ErrSessionKeyMissing)
	}

	var opkPriv *domain.X25519Private
	if msg.OneTimePreKeyID != "" {
		opk, err := s.store.ConsumeOneTimePreKey(msg.OneTimePreKeyID)
		if err != nil {
			return nil, err
		}
		opkPriv = &opk.Priv
	}

	secret, err := agreement.ResponderSecret(s.provider, id.DHPriv, spk.Priv, opkPriv, msg.SenderPreKeyPub)
	if opkPriv != nil {
		memzero.Zero(opkPriv[:])
	}
	if err != nil {
		return nil, err
	}
	wrapKey, err := agreement.WrapKey(s.provider, secret, msg.ConversationID)
	memzero.Zero(secret)
	if err != nil {
		return nil, err
	}
	rootKey, err := s.provider.AEADOpen(wrapKey, msg.Nonce, msg.WrappedKey, wrapAD(msg.ConversationID, msg.KeyID))
	memzero.Zero(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", domain.ErrUntrustedKeyMaterial)
	}

	info := domain.SessionInfo{
		ConversationID: msg.ConversationID,
		KeyID:          msg.KeyID,
		SessionKey:     rootKey,
		EstablishedAt:  msg.EstablishedAt,
		Participants: map[domain.ParticipantID]domain.PreKeyBundle{
			msg.SenderID: {ParticipantID: msg.SenderID, SignedPreKey: msg.SenderPreKeyPub},
		},
	}
	st, err := ratchet.Init(rootKey, s.participant.String())
	if err != nil {
		memzero.Zero(rootKey)
		return nil, err
	}
	rec := &Record{Info: info, Ratchet: st}
	installed := s.install(msg.ConversationID, rec)
	if installed == rec {
		s.log.WithFields(logrus.Fields{
			"conversation_id": msg.ConversationID,
			"key_id":          msg.KeyID,
			"sender_id":       msg.SenderID,
		}).Info("session accepted")
	}
	return installed, nil
}

// install applies last-writer-wins at conversation granularity and returns
// the record that won. Timestamp ties go to the newcomer, so a rotation in
// the same millisecond still replaces its predecessor. A losing newcomer is
// wiped immediately; a displaced active record is retained as superseded
// until flushed.
func (s *Service) install(conv domain.ConversationID, rec *Record) *Record {
	cur, ok := s.active[conv]
	if ok && cur.Info.EstablishedAt > rec.Info.EstablishedAt {
		wipeRecord(rec)
		return cur
	}
	if ok {
		cur.SupersededAt = time.Now().UnixMilli()
		if s.superseded[conv] == nil {
			s.superseded[conv] = make(map[domain.SessionKeyID]*Record)
		}
		s.superseded[conv][cur.Info.KeyID] = cur
	}
	s.active[conv] = rec
	return rec
}

// Active returns the conversation's current record.
func (s *Service) Active(conv domain.ConversationID) (*Record, bool) {
	rec, ok := s.active[conv]
	return rec, ok
}

// Resolve finds the record matching an envelope's conversation and key id,
// searching the active record first and then retained superseded ones.
func (s *Service) Resolve(conv domain.ConversationID, keyID domain.SessionKeyID) (*Record, error) {
	if rec, ok := s.active[conv]; ok && rec.Info.KeyID == keyID {
		return rec, nil
	}
	if rec, ok := s.superseded[conv][keyID]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("conversation %q key %q: %w", conv, keyID, domain.ErrSessionKeyMissing)
}

// Conversations lists ids with an active session.
func (s *Service) Conversations() []domain.ConversationID {
	out := make([]domain.ConversationID, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

// FlushExpired wipes superseded records past the retention window and prunes
// aged skipped keys on active records.
func (s *Service) FlushExpired(now time.Time) {
	cutoffMilli := now.Add(-s.cfg.MaxMessageAge).UnixMilli()
	for conv, recs := range s.superseded {
		for keyID, rec := range recs {
			if rec.SupersededAt >= cutoffMilli {
				continue
			}
			wipeRecord(rec)
			delete(recs, keyID)
		}
		if len(recs) == 0 {
			delete(s.superseded, conv)
		}
	}
	cutoffSec := now.Add(-s.cfg.MaxMessageAge).Unix()
	for _, rec := range s.active {
		ratchet.PruneSkipped(&rec.Ratchet, cutoffSec)
	}
}

// End destroys all state for a conversation, active and superseded.
func (s *Service) End(conv domain.ConversationID) {
	if rec, ok := s.active[conv]; ok {
		wipeRecord(rec)
		delete(s.active, conv)
	}
	for _, rec := range s.superseded[conv] {
		wipeRecord(rec)
	}
	delete(s.superseded, conv)
}

// Close wipes every conversation.
func (s *Service) Close() {
	for conv := range s.active {
		s.End(conv)
	}
	for conv := range s.superseded {
		s.End(conv)
	}
}

func wipeRecord(rec *Record) {
	memzero.Zero(rec.Info.SessionKey)
	rec.Info.SessionKey = nil
	ratchet.Wipe(&rec.Ratchet)
}

func wrapAD(conv domain.ConversationID, keyID domain.SessionKeyID) []byte {
	return []byte(conv.String() + "|" + keyID.String())
}
