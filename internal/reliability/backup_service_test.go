package reliability

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianyield/stakeledger/internal/database"
)

func openFileDB(t *testing.T, dir, name string) *database.DB {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Conn().Exec(`CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`INSERT INTO items (value) VALUES ('a'), ('b')`)
	require.NoError(t, err)

	return db
}

func TestDatabaseNamesSorted(t *testing.T) {
	dir := t.TempDir()
	service := NewBackupService(map[string]*database.DB{
		"registry": openFileDB(t, dir, "registry"),
		"ledger":   openFileDB(t, dir, "ledger"),
	}, zerolog.New(nil).Level(zerolog.Disabled))

	assert.Equal(t, []string{"ledger", "registry"}, service.DatabaseNames())
}

func TestSnapshotDatabase(t *testing.T) {
	dir := t.TempDir()
	db := openFileDB(t, dir, "ledger")

	service := NewBackupService(map[string]*database.DB{"ledger": db},
		zerolog.New(nil).Level(zerolog.Disabled))

	destPath := filepath.Join(dir, "snapshot.db")
	require.NoError(t, service.SnapshotDatabase("ledger", destPath))

	// The snapshot is a standalone database with the same rows
	snapshot, err := database.New(database.Config{Path: destPath, Name: "snapshot"})
	require.NoError(t, err)
	defer snapshot.Close()

	var n int
	require.NoError(t, snapshot.Conn().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 2, n)

	// Snapshotting over an existing file replaces it
	require.NoError(t, service.SnapshotDatabase("ledger", destPath))

	err = service.SnapshotDatabase("nonexistent", destPath)
	assert.Error(t, err)
}

func TestCreateArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	content := []byte("snapshot bytes")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.db"), content, 0644))

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Databases: []DatabaseMetadata{{Name: "ledger", Filename: "ledger.db", SizeBytes: int64(len(content))}},
	}
	require.NoError(t, writeMetadata(filepath.Join(dir, "backup-metadata.json"), metadata))

	archivePath := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, createArchive(archivePath, dir, []string{"ledger.db", "backup-metadata.json"}))

	// Read the archive back and verify both members
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	found := map[string][]byte{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		found[header.Name] = data
	}

	require.Len(t, found, 2)
	assert.Equal(t, content, found["ledger.db"])

	var decoded BackupMetadata
	require.NoError(t, json.Unmarshal(found["backup-metadata.json"], &decoded))
	require.Len(t, decoded.Databases, 1)
	assert.Equal(t, "ledger", decoded.Databases[0].Name)
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	sum, err := fileChecksum(path)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	_, err = fileChecksum(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
