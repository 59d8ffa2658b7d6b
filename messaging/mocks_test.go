package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/session"
)

type memQueue struct {
	mu      sync.Mutex
	entries []QueueEntry
}

func (q *memQueue) Add(entries []QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entries...)
	return nil
}

func (q *memQueue) All() ([]QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out, nil
}

func (q *memQueue) Remove(userID uint64, messageID string) (*QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.Metadata.UserID == userID && e.Metadata.MessageID == messageID {
			removed := e
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return &removed, nil
		}
	}
	return nil, nil
}

type memPackages struct {
	mu   sync.Mutex
	pkgs []Package
}

func (p *memPackages) Add(pkg Package) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.pkgs {
		if existing.ID == pkg.ID {
			return false, nil
		}
	}
	p.pkgs = append(p.pkgs, pkg)
	return true, nil
}

func (p *memPackages) Pending() ([]Package, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Package, len(p.pkgs))
	copy(out, p.pkgs)
	return out, nil
}

func (p *memPackages) Remove(id PackageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.pkgs {
		if existing.ID == id {
			p.pkgs = append(p.pkgs[:i], p.pkgs[i+1:]...)
			return nil
		}
	}
	return nil
}

// fakeRelay records sent frames and can be toggled offline.
type fakeRelay struct {
	mu      sync.Mutex
	offline bool
	sent    []string
}

func (r *fakeRelay) SendMessage(to crypto.PeerAddress, content []byte, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return errors.New("not connected to relay server")
	}
	r.sent = append(r.sent, messageID)
	return nil
}

func (r *fakeRelay) setOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

func (r *fakeRelay) sentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

// fakeEncrypter wraps plaintext in an envelope unchanged, counting calls.
type fakeEncrypter struct {
	mu    sync.Mutex
	calls int
}

func (e *fakeEncrypter) Encrypt(ctx context.Context, peer crypto.PeerAddress, plaintext []byte) (*session.EncryptedEnvelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return &session.EncryptedEnvelope{Version: session.EnvelopeVersion, Payload: plaintext}, nil
}

func (e *fakeEncrypter) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeDecrypter passes envelope payloads through as plaintext, failing on
// payloads matching failOn.
type fakeDecrypter struct {
	failOn string
}

func (d *fakeDecrypter) DecryptBatch(ctx context.Context, batches map[crypto.PeerAddress][]*session.EncryptedEnvelope) map[crypto.PeerAddress]*session.BatchResult {
	results := make(map[crypto.PeerAddress]*session.BatchResult, len(batches))
	for peer, envelopes := range batches {
		result := &session.BatchResult{}
		for _, env := range envelopes {
			if d.failOn != "" && string(env.Payload) == d.failOn {
				result.Failed = append(result.Failed, crypto.ErrDecryptionFailed)
				continue
			}
			result.Succeeded = append(result.Succeeded, env.Payload)
		}
		results[peer] = result
	}
	return results
}
