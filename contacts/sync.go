package contacts

import (
	"context"
	"fmt"
	"sync"

	"github.com/nyaruka/phonenumbers"
	"github.com/sirupsen/logrus"
)

// JobDescription selects which sync phases to run. Phases are independent
// and a caller may request any combination.
type JobDescription struct {
	// LocalSync imports registered users found in the platform address
	// book.
	LocalSync bool

	// PushRemote drains the pending remote-update queue to the server.
	PushRemote bool

	// RemoteSync reconciles local contacts against the server's address
	// book when its content hash changed.
	RemoteSync bool
}

// FullSync requests every phase.
func FullSync() JobDescription {
	return JobDescription{LocalSync: true, PushRemote: true, RemoteSync: true}
}

// SyncResult reports what a sync run changed.
type SyncResult struct {
	// Changed is true when any phase modified local contacts or pushed
	// remote updates, signalling other devices should re-sync.
	Changed bool
}

// SyncEngine runs contact sync jobs one at a time. A second Run while one
// is in flight waits rather than interleaving, so two diff/apply cycles
// never race on the same durable state.
type SyncEngine struct {
	mu sync.Mutex

	store    Store
	client   Client
	book     BookClient
	platform PlatformContacts

	bookKey       [32]byte
	defaultRegion string
}

// NewSyncEngine creates a sync engine. defaultRegion is the ISO region
// used to normalize platform contact phone numbers to E.164.
func NewSyncEngine(store Store, client Client, book BookClient, platform PlatformContacts, bookKey [32]byte, defaultRegion string) *SyncEngine {
	return &SyncEngine{
		store:         store,
		client:        client,
		book:          book,
		platform:      platform,
		bookKey:       bookKey,
		defaultRegion: defaultRegion,
	}
}

// Run executes the requested phases in order: local sync, remote push,
// remote reconciliation. A network failure inside a phase is logged and
// abandons that phase for this run; every phase operates from durable,
// idempotent state and is safe to retry on the next run.
func (e *SyncEngine) Run(ctx context.Context, job JobDescription) (*SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &SyncResult{}

	if job.LocalSync {
		changed, err := e.localSync(ctx)
		if err != nil {
			return nil, err
		}
		result.Changed = result.Changed || changed
	}

	if job.PushRemote {
		changed, err := e.pushRemote(ctx)
		if err != nil {
			return nil, err
		}
		result.Changed = result.Changed || changed
	}

	if job.RemoteSync {
		changed, err := e.remoteSync(ctx)
		if err != nil {
			return nil, err
		}
		result.Changed = result.Changed || changed
	}

	return result, nil
}

// AddMissing inserts unknown ids as pending, group-only contacts so an
// inbound message from an unknown sender has contact metadata before
// decryption. It returns ids the server does not recognize.
func (e *SyncEngine) AddMissing(ctx context.Context, ids []uint64) (invalid []uint64, err error) {
	missing, err := e.store.Exists(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check contacts: %w", err)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	infos, err := e.client.FetchInfoByID(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contact info: %w", err)
	}

	found := make(map[uint64]bool, len(infos))
	for _, info := range infos {
		info.IsPending = true
		info.Level = LevelGroupOnly
		if err := e.store.Add(info); err != nil {
			return nil, fmt.Errorf("failed to add pending contact: %w", err)
		}
		found[info.UserID] = true
	}

	for _, id := range missing {
		if !found[id] {
			invalid = append(invalid, id)
		}
	}
	return invalid, nil
}

// localSync imports platform contacts that are registered users but not
// yet known locally.
func (e *SyncEngine) localSync(ctx context.Context) (bool, error) {
	platformContacts, err := e.platform.Fetch(ctx)
	if err != nil {
		logrus.WithField("function", "localSync").
			WithError(err).Warn("Could not read platform contacts, skipping phase")
		return false, nil
	}

	var numbers []string
	for _, pc := range platformContacts {
		if pc.PhoneNumber == "" {
			continue
		}
		parsed, err := phonenumbers.Parse(pc.PhoneNumber, e.defaultRegion)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "localSync",
				"name":     pc.Name,
			}).Debug("Skipping contact with unparseable phone number")
			continue
		}
		numbers = append(numbers, phonenumbers.Format(parsed, phonenumbers.E164))
	}
	if len(numbers) == 0 {
		return false, nil
	}

	registered, err := e.client.FindRegistered(ctx, numbers)
	if err != nil {
		logrus.WithField("function", "localSync").
			WithError(err).Warn("Registered-user lookup failed, skipping phase")
		return false, nil
	}

	changed := false
	for _, info := range registered {
		existing, err := e.store.Get(info.UserID)
		if err != nil {
			return false, err
		}
		if existing != nil {
			continue
		}
		info.IsPending = false
		info.Level = LevelAll
		if err := e.store.Add(info); err != nil {
			return false, fmt.Errorf("failed to add contact: %w", err)
		}
		changed = true
	}

	logrus.WithFields(logrus.Fields{
		"function":   "localSync",
		"candidates": len(numbers),
		"registered": len(registered),
	}).Debug("Local contact sync complete")
	return changed, nil
}

// pushRemote drains the pending-update queue as one batch. Queue entries
// are deleted only after the push round-trip succeeds; a crash mid-push
// retries the same batch next run, which is a no-op server-side.
func (e *SyncEngine) pushRemote(ctx context.Context) (bool, error) {
	updates, err := e.store.PendingUpdates()
	if err != nil {
		return false, fmt.Errorf("failed to read pending updates: %w", err)
	}
	if len(updates) == 0 {
		return false, nil
	}

	entries, err := EncryptEntries(e.bookKey, updates)
	if err != nil {
		return false, err
	}

	all, err := e.store.All()
	if err != nil {
		return false, err
	}

	resp, err := e.book.Update(ctx, BookHash(all), entries)
	if err != nil {
		logrus.WithField("function", "pushRemote").
			WithError(err).Warn("Address book push failed, will retry next run")
		return false, nil
	}

	ids := make([]uint64, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.UserID)
	}
	if err := e.store.RemoveRemoteUpdates(ids); err != nil {
		return false, fmt.Errorf("failed to drain update queue: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "pushRemote",
		"updates":  len(updates),
		"hash":     resp.Hash,
	}).Debug("Pushed address book updates")
	return resp.Updated, nil
}

// remoteSync fetches the server's address book when its hash differs from
// the local one and applies the resulting diff atomically.
func (e *SyncEngine) remoteSync(ctx context.Context) (bool, error) {
	all, err := e.store.All()
	if err != nil {
		return false, err
	}

	resp, err := e.book.Get(ctx, BookHash(all))
	if err != nil {
		logrus.WithField("function", "remoteSync").
			WithError(err).Warn("Address book fetch failed, skipping phase")
		return false, nil
	}
	if !resp.Changed {
		return false, nil
	}

	remote, err := DecryptEntries(e.bookKey, resp.Entries)
	if err != nil {
		return false, err
	}

	remoteLevels := make(map[uint64]AllowedMessageLevel, len(remote))
	for _, u := range remote {
		remoteLevels[u.UserID] = u.Level
	}

	localIDs, err := e.store.AllIDs()
	if err != nil {
		return false, err
	}
	local := make(map[uint64]bool, len(localIDs))
	for _, id := range localIDs {
		local[id] = true
	}

	var addedIDs, removedIDs []uint64
	for id := range remoteLevels {
		if !local[id] {
			addedIDs = append(addedIDs, id)
		}
	}
	for _, id := range localIDs {
		if _, ok := remoteLevels[id]; !ok {
			removedIDs = append(removedIDs, id)
		}
	}

	changed := false

	// Level changes for contacts present on both sides are plain upserts.
	for _, c := range all {
		level, ok := remoteLevels[c.UserID]
		if !ok || level == c.Level {
			continue
		}
		c.Level = level
		if err := e.store.Add(c); err != nil {
			return false, err
		}
		changed = true
	}

	var add []ContactInfo
	if len(addedIDs) > 0 {
		infos, err := e.client.FetchInfoByID(ctx, addedIDs)
		if err != nil {
			logrus.WithField("function", "remoteSync").
				WithError(err).Warn("Contact info fetch failed, skipping phase")
			return changed, nil
		}
		for _, info := range infos {
			info.Level = remoteLevels[info.UserID]
			add = append(add, info)
		}
	}

	if len(add) > 0 || len(removedIDs) > 0 {
		if err := e.store.ApplyDiff(add, removedIDs); err != nil {
			return false, fmt.Errorf("failed to apply contact diff: %w", err)
		}
		changed = true
	}

	logrus.WithFields(logrus.Fields{
		"function": "remoteSync",
		"added":    len(add),
		"removed":  len(removedIDs),
	}).Debug("Remote address book reconciled")
	return changed, nil
}
