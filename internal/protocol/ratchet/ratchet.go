package ratchet

import (
	"crypto/sha256"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"sotto/internal/domain"
	"sotto/internal/util/memzero"
)

const keyBytes = 32

var errChainUninitialised = errors.New("ratchet chain key is uninitialised")

// Init seeds the sending chain from the session root key. The label is the
// owning device's participant id, so every holder of the root key derives
// the same chain for a given sender: peers seed their receiving chain for
// this device from the identical bytes.
//
// Receiving chains are seeded lazily, on the first envelope from each peer.
func Init(rootKey []byte, sendLabel string) (domain.RatchetState, error) {
	sendCK, err := chainSeed(rootKey, sendLabel)
	if err != nil {
		return domain.RatchetState{}, err
	}
	return domain.RatchetState{
		RootKey:         append([]byte(nil), rootKey...),
		SendingChainKey: sendCK,
		Receiving:       make(map[domain.ParticipantID]*domain.ReceivingChain),
	}, nil
}

// NextSendingKey returns the key number and message key for the next
// outgoing message and advances the sending chain. The replaced chain key is
// wiped immediately.
//
// With forward secrecy disabled the chain key does not advance; the key
// number still does, but every message reuses the key derived from the
// static chain key. That mode exists only as a documented degradation.
func NextSendingKey(st *domain.RatchetState, forwardSecrecy bool) (uint32, []byte, error) {
	if len(st.SendingChainKey) == 0 {
		return 0, nil, errChainUninitialised
	}
	n := st.SendingKeyNumber
	var mk []byte
	if forwardSecrecy {
		next, key, err := step(st.SendingChainKey)
		if err != nil {
			return 0, nil, err
		}
		memzero.Zero(st.SendingChainKey)
		st.SendingChainKey = next
		mk = key
	} else {
		key, err := staticKey(st.SendingChainKey)
		if err != nil {
			return 0, nil, err
		}
		mk = key
	}
	st.SendingKeyNumber = n + 1
	return n, mk, nil
}

// ReceivingKey resolves the message key for key number n of the given
// sender's chain, seeding that chain from the root key on first contact.
//
// Order of resolution:
//  1. the skip cache (out-of-order arrival of an already-derived number)
//  2. replay rejection for numbers behind the chain head
//  3. bounded derivation forward, caching intermediate keys as skipped
//
// Replays and over-window gaps leave the chain state untouched.
func ReceivingKey(
	st *domain.RatchetState,
	sender domain.ParticipantID,
	n uint32,
	maxSkip int,
	forwardSecrecy bool,
) ([]byte, error) {
	rc, err := receivingChain(st, sender)
	if err != nil {
		return nil, err
	}
	if mk, ok := rc.SkippedKeys[n]; ok {
		delete(rc.SkippedKeys, n)
		delete(rc.SkippedAt, n)
		return mk, nil
	}
	if n < rc.KeyNumber {
		return nil, domain.ErrDuplicateKeyNumber
	}
	if len(rc.ChainKey) == 0 {
		return nil, errChainUninitialised
	}

	if !forwardSecrecy {
		mk, err := staticKey(rc.ChainKey)
		if err != nil {
			return nil, err
		}
		rc.KeyNumber = n + 1
		return mk, nil
	}

	if int(n-rc.KeyNumber) > maxSkip {
		return nil, domain.ErrMaxSkipWindowExceeded
	}
	now := time.Now().Unix()
	for rc.KeyNumber < n {
		next, mk, err := step(rc.ChainKey)
		if err != nil {
			return nil, err
		}
		rc.SkippedKeys[rc.KeyNumber] = mk
		rc.SkippedAt[rc.KeyNumber] = now
		memzero.Zero(rc.ChainKey)
		rc.ChainKey = next
		rc.KeyNumber++
	}
	next, mk, err := step(rc.ChainKey)
	if err != nil {
		return nil, err
	}
	memzero.Zero(rc.ChainKey)
	rc.ChainKey = next
	rc.KeyNumber = n + 1
	return mk, nil
}

// receivingChain returns the sender's chain, seeding it from the root key on
// first use.
func receivingChain(st *domain.RatchetState, sender domain.ParticipantID) (*domain.ReceivingChain, error) {
	if rc, ok := st.Receiving[sender]; ok {
		return rc, nil
	}
	if len(st.RootKey) == 0 {
		return nil, errChainUninitialised
	}
	ck, err := chainSeed(st.RootKey, sender.String())
	if err != nil {
		return nil, err
	}
	rc := &domain.ReceivingChain{
		ChainKey:    ck,
		SkippedKeys: make(map[uint32][]byte),
		SkippedAt:   make(map[uint32]int64),
	}
	if st.Receiving == nil {
		st.Receiving = make(map[domain.ParticipantID]*domain.ReceivingChain)
	}
	st.Receiving[sender] = rc
	return rc, nil
}

// Forward advances the sending chain irreversibly without producing a
// message key. The old chain key is overwritten, not merely dereferenced.
func Forward(st *domain.RatchetState) error {
	if len(st.SendingChainKey) == 0 {
		return errChainUninitialised
	}
	next, mk, err := step(st.SendingChainKey)
	if err != nil {
		return err
	}
	memzero.Zero(mk)
	memzero.Zero(st.SendingChainKey)
	st.SendingChainKey = next
	st.SendingKeyNumber++
	return nil
}

// Clone deep-copies the state. Callers snapshot before a derivation whose
// result may still be rejected, restore on failure and Wipe the copy they
// discard either way.
func Clone(st *domain.RatchetState) domain.RatchetState {
	out := domain.RatchetState{
		RootKey:          append([]byte(nil), st.RootKey...),
		SendingChainKey:  append([]byte(nil), st.SendingChainKey...),
		SendingKeyNumber: st.SendingKeyNumber,
		Receiving:        make(map[domain.ParticipantID]*domain.ReceivingChain, len(st.Receiving)),
	}
	for sender, rc := range st.Receiving {
		cp := &domain.ReceivingChain{
			ChainKey:    append([]byte(nil), rc.ChainKey...),
			KeyNumber:   rc.KeyNumber,
			SkippedKeys: make(map[uint32][]byte, len(rc.SkippedKeys)),
			SkippedAt:   make(map[uint32]int64, len(rc.SkippedAt)),
		}
		for n, k := range rc.SkippedKeys {
			cp.SkippedKeys[n] = append([]byte(nil), k...)
		}
		for n, at := range rc.SkippedAt {
			cp.SkippedAt[n] = at
		}
		out.Receiving[sender] = cp
	}
	return out
}

// PruneSkipped wipes cached skipped keys older than cutoff (unix seconds)
// across every receiving chain.
func PruneSkipped(st *domain.RatchetState, cutoff int64) {
	for _, rc := range st.Receiving {
		for n, at := range rc.SkippedAt {
			if at >= cutoff {
				continue
			}
			memzero.Zero(rc.SkippedKeys[n])
			delete(rc.SkippedKeys, n)
			delete(rc.SkippedAt, n)
		}
	}
}

// Wipe destroys all key material in the state.
func Wipe(st *domain.RatchetState) {
	memzero.Zero(st.RootKey)
	memzero.Zero(st.SendingChainKey)
	for _, rc := range st.Receiving {
		memzero.Zero(rc.ChainKey)
		memzero.Map(rc.SkippedKeys)
		rc.ChainKey = nil
		rc.SkippedAt = nil
	}
	st.RootKey = nil
	st.SendingChainKey = nil
	st.Receiving = nil
}

// chainSeed derives a chain's first key from the root key and its sender's
// label.
func chainSeed(rootKey []byte, label string) ([]byte, error) {
	return expand(rootKey, "sotto/chain|"+label, keyBytes)
}

// step derives the next chain key and the message key for the current
// position in one HKDF read.
func step(ck []byte) (next, mk []byte, err error) {
	out, err := expand(ck, "sotto/chain-step", 2*keyBytes)
	if err != nil {
		return nil, nil, err
	}
	return out[:keyBytes], out[keyBytes:], nil
}

// staticKey is the degraded no-forward-secrecy derivation.
func staticKey(ck []byte) ([]byte, error) {
	return expand(ck, "sotto/static-key", keyBytes)
}

func expand(secret []byte, info string, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
