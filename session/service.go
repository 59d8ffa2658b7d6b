package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voxwire/voxwire/crypto"
)

// BatchResult holds the outcome of decrypting one peer's message list.
// Failures are per-message and never discard the rest of the batch.
type BatchResult struct {
	Succeeded [][]byte
	Failed    []error
}

// Service owns session establishment and message encryption/decryption.
//
// All session store access is serialized behind a single lock. This is
// intentional: the store is small, mutation is infrequent relative to the
// cost of a crypto operation, and at-most-one session build per peer is a
// correctness requirement.
type Service struct {
	mu sync.Mutex

	identity *crypto.KeyPair
	store    Store
	fetcher  BundleFetcher
	local    *LocalPreKeys
}

// NewService creates a crypto service for the given identity.
func NewService(identity *crypto.KeyPair, store Store, fetcher BundleFetcher, local *LocalPreKeys) *Service {
	return &Service{
		identity: identity,
		store:    store,
		fetcher:  fetcher,
		local:    local,
	}
}

// Encrypt encrypts plaintext for the peer, transparently establishing a
// session from a fetched prekey bundle when none exists. The first
// concurrent caller for a missing session wins; the rest wait on the
// service lock and then find the established session.
func (svc *Service) Encrypt(ctx context.Context, peer crypto.PeerAddress, plaintext []byte) (*EncryptedEnvelope, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	s, err := svc.ensureSessionLocked(ctx, peer)
	if err != nil {
		return nil, err
	}

	isPreKey := s.Handshake != nil

	payload, err := s.encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	if err := svc.store.Save(s); err != nil {
		return nil, fmt.Errorf("failed to persist session for %s: %w", peer, err)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	return &EncryptedEnvelope{
		Version:  EnvelopeVersion,
		IsPreKey: isPreKey,
		Payload:  data,
	}, nil
}

// Decrypt decrypts a single inbound envelope from the peer. A prekey
// envelope may itself establish the session as a side effect. The returned
// error applies to this one message only.
func (svc *Service) Decrypt(ctx context.Context, peer crypto.PeerAddress, envelope *EncryptedEnvelope) ([]byte, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.decryptLocked(peer, envelope)
}

// DecryptBatch decrypts every peer's list of envelopes under exclusive
// access to the session store for the whole batch, isolating per-message
// failures so one corrupt message never discards its siblings.
func (svc *Service) DecryptBatch(ctx context.Context, batches map[crypto.PeerAddress][]*EncryptedEnvelope) map[crypto.PeerAddress]*BatchResult {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	results := make(map[crypto.PeerAddress]*BatchResult, len(batches))
	for peer, envelopes := range batches {
		result := &BatchResult{}
		for _, envelope := range envelopes {
			plaintext, err := svc.decryptLocked(peer, envelope)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "DecryptBatch",
					"peer":     peer.String(),
				}).WithError(err).Warn("Failed to decrypt message")
				result.Failed = append(result.Failed, err)
				continue
			}
			result.Succeeded = append(result.Succeeded, plaintext)
		}
		results[peer] = result
	}

	return results
}

// ResetSession deletes the session for the peer. The next encrypt fetches a
// fresh bundle and starts over.
func (svc *Service) ResetSession(peer crypto.PeerAddress) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.store.Delete(peer)
}

// HasSession reports whether a session exists for the peer.
func (svc *Service) HasSession(peer crypto.PeerAddress) (bool, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.store.Contains(peer)
}

// ensureSessionLocked returns the existing session for peer or establishes
// one from a freshly fetched prekey bundle. Callers hold svc.mu.
func (svc *Service) ensureSessionLocked(ctx context.Context, peer crypto.PeerAddress) (*Session, error) {
	s, err := svc.store.Load(peer)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ensureSessionLocked",
		"peer":     peer.String(),
	}).Info("No session, fetching prekey bundle")

	bundle, err := svc.fetcher.FetchBundle(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prekey bundle for %s: %w", peer, err)
	}

	s, err = establishInitiator(peer, svc.identity, bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to establish session with %s: %w", peer, err)
	}

	if err := svc.store.Save(s); err != nil {
		return nil, fmt.Errorf("failed to persist session for %s: %w", peer, err)
	}

	return s, nil
}

// decryptLocked decrypts one envelope. Callers hold svc.mu.
func (svc *Service) decryptLocked(peer crypto.PeerAddress, envelope *EncryptedEnvelope) ([]byte, error) {
	if envelope == nil {
		return nil, errors.New("nil envelope")
	}
	if envelope.Version > EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}

	payload, err := decodePayload(envelope.Payload)
	if err != nil {
		return nil, err
	}

	s, err := svc.store.Load(peer)
	switch {
	case err == nil:
		// Established session; a repeated handshake header is ignored.

	case errors.Is(err, ErrSessionNotFound):
		if !envelope.IsPreKey || payload.Handshake == nil {
			return nil, fmt.Errorf("no session for %s", peer)
		}
		s, err = establishResponder(peer, svc.identity, svc.local, payload.Handshake)
		if err != nil {
			return nil, fmt.Errorf("failed to establish session from prekey message: %w", err)
		}

	default:
		return nil, err
	}

	plaintext, err := s.decrypt(payload)
	if err != nil {
		return nil, err
	}

	if err := svc.store.Save(s); err != nil {
		return nil, fmt.Errorf("failed to persist session for %s: %w", peer, err)
	}

	return plaintext, nil
}
