package contacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBookKey(t *testing.T) [32]byte {
	t.Helper()
	var identity [32]byte
	copy(identity[:], "0123456789abcdef0123456789abcdef")
	key, err := DeriveBookKey(identity)
	require.NoError(t, err)
	return key
}

func newTestEngine(t *testing.T) (*SyncEngine, *memContacts, *fakeClient, *fakeBook, *fakePlatform) {
	store := newMemContacts()
	client := newFakeClient()
	book := &fakeBook{}
	platform := &fakePlatform{}
	engine := NewSyncEngine(store, client, book, platform, testBookKey(t), "GB")
	return engine, store, client, book, platform
}

func TestBookHashOrderIndependent(t *testing.T) {
	a := ContactInfo{UserID: 1, Level: LevelAll}
	b := ContactInfo{UserID: 2, Level: LevelBlocked}
	c := ContactInfo{UserID: 3, Level: LevelGroupOnly}

	h1 := BookHash([]ContactInfo{a, b, c})
	h2 := BookHash([]ContactInfo{c, a, b})
	assert.Equal(t, h1, h2)

	// A level change must change the hash.
	b.Level = LevelAll
	assert.NotEqual(t, h1, BookHash([]ContactInfo{a, b, c}))
}

func TestEntryEncryptionRoundTrip(t *testing.T) {
	key := testBookKey(t)
	updates := []RemoteUpdate{
		{UserID: 1, Level: LevelAll},
		{UserID: 2, Level: LevelBlocked},
	}

	entries, err := EncryptEntries(key, updates)
	require.NoError(t, err)
	for i, entry := range entries {
		assert.NotContains(t, string(entry), "userId", "entry %d leaks plaintext", i)
	}

	decrypted, err := DecryptEntries(key, entries)
	require.NoError(t, err)
	assert.Equal(t, updates, decrypted)

	var wrongKey [32]byte
	_, err = DecryptEntries(wrongKey, entries)
	assert.Error(t, err)
}

func TestLocalSyncImportsRegisteredUsers(t *testing.T) {
	engine, store, client, _, platform := newTestEngine(t)

	platform.contacts = []PlatformContact{
		{Name: "Alice", PhoneNumber: "07700 900123"},
		{Name: "Bob", PhoneNumber: "not a number"},
	}
	client.registered["+447700900123"] = ContactInfo{UserID: 10, Name: "Alice", PhoneNumber: "+447700900123"}

	result, err := engine.Run(context.Background(), JobDescription{LocalSync: true})
	require.NoError(t, err)
	assert.True(t, result.Changed)

	// Unparseable numbers are skipped, parseable ones normalized to E.164.
	assert.Equal(t, []string{"+447700900123"}, client.lookedUp)

	info, err := store.Get(10)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.False(t, info.IsPending)
	assert.Equal(t, LevelAll, info.Level)
}

func TestLocalSyncIdempotent(t *testing.T) {
	engine, _, client, _, platform := newTestEngine(t)

	platform.contacts = []PlatformContact{{Name: "Alice", PhoneNumber: "07700 900123"}}
	client.registered["+447700900123"] = ContactInfo{UserID: 10, Name: "Alice"}

	result, err := engine.Run(context.Background(), JobDescription{LocalSync: true})
	require.NoError(t, err)
	assert.True(t, result.Changed)

	result, err = engine.Run(context.Background(), JobDescription{LocalSync: true})
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestPushDrainsQueueOnlyAfterAck(t *testing.T) {
	engine, store, _, book, _ := newTestEngine(t)

	require.NoError(t, store.AddRemoteUpdates([]RemoteUpdate{
		{UserID: 1, Level: LevelBlocked},
		{UserID: 2, Level: LevelAll},
	}))

	book.offline = true
	result, err := engine.Run(context.Background(), JobDescription{PushRemote: true})
	require.NoError(t, err)
	assert.False(t, result.Changed)

	pending, err := store.PendingUpdates()
	require.NoError(t, err)
	assert.Len(t, pending, 2, "failed push must leave the queue intact")

	book.offline = false
	result, err = engine.Run(context.Background(), JobDescription{PushRemote: true})
	require.NoError(t, err)
	assert.True(t, result.Changed)

	pending, err = store.PendingUpdates()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, book.pushes)
}

func TestPushSkipsEmptyQueue(t *testing.T) {
	engine, _, _, book, _ := newTestEngine(t)

	result, err := engine.Run(context.Background(), JobDescription{PushRemote: true})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, 0, book.pushes)
}

func TestRemoteSyncAppliesSymmetricDiff(t *testing.T) {
	engine, store, client, book, _ := newTestEngine(t)

	// Local knows A and B; remote holds A and C.
	require.NoError(t, store.Add(ContactInfo{UserID: 1, Name: "A", Level: LevelAll}))
	require.NoError(t, store.Add(ContactInfo{UserID: 2, Name: "B", Level: LevelAll}))
	client.directory[3] = ContactInfo{UserID: 3, Name: "C"}

	entries, err := EncryptEntries(testBookKey(t), []RemoteUpdate{
		{UserID: 1, Level: LevelAll},
		{UserID: 3, Level: LevelGroupOnly},
	})
	require.NoError(t, err)
	book.entries = entries
	book.hash = "remote-hash"

	result, err := engine.Run(context.Background(), JobDescription{RemoteSync: true})
	require.NoError(t, err)
	assert.True(t, result.Changed)

	a, err := store.Get(1)
	require.NoError(t, err)
	assert.NotNil(t, a)

	b, err := store.Get(2)
	require.NoError(t, err)
	assert.Nil(t, b, "contact absent from remote must be removed")

	c, err := store.Get(3)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, LevelGroupOnly, c.Level, "added contact carries the remote level")
}

func TestRemoteSyncSkippedWhenHashMatches(t *testing.T) {
	engine, store, _, book, _ := newTestEngine(t)

	require.NoError(t, store.Add(ContactInfo{UserID: 1, Level: LevelAll}))
	all, err := store.All()
	require.NoError(t, err)
	book.hash = BookHash(all)

	result, err := engine.Run(context.Background(), JobDescription{RemoteSync: true})
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestRemoteSyncAppliesLevelChange(t *testing.T) {
	engine, store, _, book, _ := newTestEngine(t)

	require.NoError(t, store.Add(ContactInfo{UserID: 1, Name: "A", Level: LevelAll}))

	entries, err := EncryptEntries(testBookKey(t), []RemoteUpdate{
		{UserID: 1, Level: LevelBlocked},
	})
	require.NoError(t, err)
	book.entries = entries
	book.hash = "remote-hash"

	result, err := engine.Run(context.Background(), JobDescription{RemoteSync: true})
	require.NoError(t, err)
	assert.True(t, result.Changed)

	a, err := store.Get(1)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, LevelBlocked, a.Level)
	assert.Equal(t, "A", a.Name, "level change must not lose contact info")
}

func TestAddMissingInsertsPendingContacts(t *testing.T) {
	engine, store, client, _, _ := newTestEngine(t)

	require.NoError(t, store.Add(ContactInfo{UserID: 1, Level: LevelAll}))
	client.directory[2] = ContactInfo{UserID: 2, Name: "New"}

	invalid, err := engine.AddMissing(context.Background(), []uint64{1, 2, 99})
	require.NoError(t, err)
	assert.Equal(t, []uint64{99}, invalid)

	info, err := store.Get(2)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.IsPending)
	assert.Equal(t, LevelGroupOnly, info.Level)

	// Known contact untouched.
	existing, err := store.Get(1)
	require.NoError(t, err)
	assert.Equal(t, LevelAll, existing.Level)
}

func TestNetworkFailureAbandonsPhaseWithoutError(t *testing.T) {
	engine, store, client, book, platform := newTestEngine(t)

	platform.contacts = []PlatformContact{{PhoneNumber: "07700 900123"}}
	client.offline = true
	book.offline = true
	require.NoError(t, store.AddRemoteUpdates([]RemoteUpdate{{UserID: 1, Level: LevelAll}}))

	result, err := engine.Run(context.Background(), FullSync())
	require.NoError(t, err)
	assert.False(t, result.Changed)
}
