package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/session"
)

// Decrypter is the slice of the session service the receiver needs.
type Decrypter interface {
	DecryptBatch(ctx context.Context, batches map[crypto.PeerAddress][]*session.EncryptedEnvelope) map[crypto.PeerAddress]*session.BatchResult
}

// WrapperHandler persists one decrypted wrapper. It must store the
// plaintext durably before returning nil: the receiver deletes the backing
// package only on success.
type WrapperHandler func(from crypto.PeerAddress, w *Wrapper) error

// FailureHandler records messages that could not be decrypted so the
// conversation can show a marker without blocking.
type FailureHandler func(from crypto.PeerAddress, err error)

// Receiver persists inbound packages, decrypts them in per-peer batches
// and hands plaintext wrappers to the orchestrator.
type Receiver struct {
	mu sync.Mutex

	packages  PackageStore
	cipher    Decrypter
	onWrapper WrapperHandler
	onFailure FailureHandler
}

// NewReceiver creates a receiver over the given package store.
func NewReceiver(packages PackageStore, cipher Decrypter) *Receiver {
	return &Receiver{packages: packages, cipher: cipher}
}

// OnWrapper registers the handler for decrypted wrappers.
func (r *Receiver) OnWrapper(h WrapperHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onWrapper = h
}

// OnFailure registers the handler for per-message decryption failures.
func (r *Receiver) OnFailure(h FailureHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = h
}

// Enqueue durably stores an inbound package for processing. It returns
// false when the package is a duplicate, which is idempotently ignored.
func (r *Receiver) Enqueue(pkg Package) (bool, error) {
	added, err := r.packages.Add(pkg)
	if err != nil {
		return false, fmt.Errorf("failed to persist package: %w", err)
	}
	if !added {
		logrus.WithFields(logrus.Fields{
			"function":   "Enqueue",
			"sender":     pkg.ID.Sender.String(),
			"message_id": pkg.ID.MessageID,
		}).Debug("Duplicate package ignored")
	}
	return added, nil
}

// ProcessPending decrypts and persists every stored package. Packages are
// grouped by sender and each group is decrypted as one batch under the
// session lock; a corrupt message surfaces as a failure marker and never
// discards its siblings.
func (r *Receiver) ProcessPending(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.packages.Pending()
	if err != nil {
		return fmt.Errorf("failed to read pending packages: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "ProcessPending",
		"packages": len(pending),
	}).Debug("Processing inbound packages")

	// Parse envelopes up front; unparseable packages are failures in
	// their own right and are consumed immediately.
	batches := make(map[crypto.PeerAddress][]*session.EncryptedEnvelope)
	byPeer := make(map[crypto.PeerAddress][]Package)
	for _, pkg := range pending {
		envelope, err := session.UnmarshalEnvelope(pkg.Payload)
		if err != nil {
			r.failLocked(pkg.ID.Sender, err)
			if err := r.packages.Remove(pkg.ID); err != nil {
				return err
			}
			continue
		}
		peer := pkg.ID.Sender
		batches[peer] = append(batches[peer], envelope)
		byPeer[peer] = append(byPeer[peer], pkg)
	}

	if len(batches) == 0 {
		return nil
	}

	results := r.cipher.DecryptBatch(ctx, batches)

	for peer, result := range results {
		allStored := true
		for _, plaintext := range result.Succeeded {
			if err := r.handleLocked(peer, plaintext); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "ProcessPending",
					"peer":     peer.String(),
				}).WithError(err).Error("Failed to store decrypted message, keeping packages")
				allStored = false
				break
			}
		}
		for _, failure := range result.Failed {
			r.failLocked(peer, failure)
		}

		// The packages back plaintext that is now durably stored (or
		// permanently undecryptable); only then may they be deleted.
		if allStored {
			for _, pkg := range byPeer[peer] {
				if err := r.packages.Remove(pkg.ID); err != nil {
					return fmt.Errorf("failed to remove processed package: %w", err)
				}
			}
		}
	}

	return nil
}

func (r *Receiver) handleLocked(peer crypto.PeerAddress, plaintext []byte) error {
	wrapper, err := ParseWrapper(plaintext)
	if err != nil {
		// Decrypted but structurally invalid: record and move on.
		r.failLocked(peer, err)
		return nil
	}
	if r.onWrapper == nil {
		return fmt.Errorf("no wrapper handler registered")
	}
	return r.onWrapper(peer, wrapper)
}

func (r *Receiver) failLocked(peer crypto.PeerAddress, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "failLocked",
		"peer":     peer.String(),
	}).WithError(err).Warn("Could not process message")
	if r.onFailure != nil {
		r.onFailure(peer, err)
	}
}
