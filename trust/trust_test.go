package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func keyA() []byte { return []byte("public-key-material-for-server-a") }
func keyB() []byte { return []byte("public-key-material-for-server-b") }

func TestLoad_MissingFileIsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_servers.json")
	store, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, store.servers)
}

func TestVerifyOrTrust_FirstContactRecordsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_servers.json")
	store, err := Load(path)
	require.NoError(t, err)

	trusted, err := store.VerifyOrTrust("localhost", 25565, keyA())
	require.NoError(t, err)
	require.True(t, trusted)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	trusted, err = reloaded.VerifyOrTrust("localhost", 25565, keyA())
	require.NoError(t, err)
	require.True(t, trusted)
}

func TestVerifyOrTrust_MismatchDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_servers.json")
	store, err := Load(path)
	require.NoError(t, err)

	_, err = store.VerifyOrTrust("localhost", 25565, keyA())
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	trusted, err := store.VerifyOrTrust("localhost", 25565, keyB())
	require.NoError(t, err)
	require.False(t, trusted)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestVerifyOrTrust_IsPureFunctionOfPersistedAndComputedFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_servers.json")
	store, err := Load(path)
	require.NoError(t, err)

	_, err = store.VerifyOrTrust("host", 1, keyA())
	require.NoError(t, err)

	// Same key, same host/port -> always true, repeatedly.
	for i := 0; i < 5; i++ {
		trusted, err := store.VerifyOrTrust("host", 1, keyA())
		require.NoError(t, err)
		require.True(t, trusted)
	}

	// Different key, same host/port -> always false.
	for i := 0; i < 5; i++ {
		trusted, err := store.VerifyOrTrust("host", 1, keyB())
		require.NoError(t, err)
		require.False(t, trusted)
	}
}

func TestVerifyOrTrust_DistinctPortsAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_servers.json")
	store, err := Load(path)
	require.NoError(t, err)

	trusted, err := store.VerifyOrTrust("host", 1, keyA())
	require.NoError(t, err)
	require.True(t, trusted)

	trusted, err = store.VerifyOrTrust("host", 2, keyB())
	require.NoError(t, err)
	require.True(t, trusted) // first contact on a distinct port
}
