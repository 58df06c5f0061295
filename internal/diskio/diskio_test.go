package diskio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func allocWritePage(t *testing.T, dm DiskManager, fill byte) PageID {
	t.Helper()
	id, err := dm.AllocatePage()
	require.NoError(t, err)

	buf := make([]byte, PageSize)
	for i := range buf {
		buf[i] = fill
	}
	require.NoError(t, dm.WritePage(id, buf))
	return id
}

func testDiskManagerRoundTrip(t *testing.T, dm DiskManager) {
	id := allocWritePage(t, dm, 0xAB)

	got := make([]byte, PageSize)
	require.NoError(t, dm.ReadPage(id, got))
	for i, b := range got {
		require.Equalf(t, byte(0xAB), b, "byte %d mismatch", i)
	}
}

func testDiskManagerLog(t *testing.T, dm DiskManager) {
	require.NoError(t, dm.WriteLog([]byte("hello ")))
	require.NoError(t, dm.WriteLog([]byte("world")))

	buf := make([]byte, 11)
	n, err := dm.ReadLog(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestMemoryDiskManager_RoundTrip(t *testing.T) {
	dm := NewMemoryDiskManager()
	testDiskManagerRoundTrip(t, dm)
}

func TestMemoryDiskManager_Log(t *testing.T) {
	dm := NewMemoryDiskManager()
	testDiskManagerLog(t, dm)
}

func TestMemoryDiskManager_ReadMissingPage(t *testing.T) {
	dm := NewMemoryDiskManager()
	buf := make([]byte, PageSize)
	err := dm.ReadPage(PageID(42), buf)
	require.ErrorIs(t, err, ErrPageNotFound)
}

func TestFileDiskManager_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	dm, err := OpenFileDiskManager(filepath.Join(dir, "data.db"), filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	defer dm.Close()

	testDiskManagerRoundTrip(t, dm)
}

func TestFileDiskManager_Log(t *testing.T) {
	dir := t.TempDir()
	dm, err := OpenFileDiskManager(filepath.Join(dir, "data.db"), filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	defer dm.Close()

	testDiskManagerLog(t, dm)
}

func TestFileDiskManager_ReadUnwrittenPageIsZeroFilled(t *testing.T) {
	dir := t.TempDir()
	dm, err := OpenFileDiskManager(filepath.Join(dir, "data.db"), filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.AllocatePage()
	require.NoError(t, err)

	got := make([]byte, PageSize)
	require.NoError(t, dm.ReadPage(id, got))
	for _, b := range got {
		require.Equal(t, byte(0), b)
	}
}

func TestFileDiskManager_ReopenPreservesNextPageID(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	logPath := filepath.Join(dir, "wal.log")

	dm, err := OpenFileDiskManager(dataPath, logPath)
	require.NoError(t, err)
	allocWritePage(t, dm, 1)
	allocWritePage(t, dm, 2)
	dm.Close()

	dm2, err := OpenFileDiskManager(dataPath, logPath)
	require.NoError(t, err)
	defer dm2.Close()

	id, err := dm2.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, PageID(2), id)
}

func TestPageID_Valid(t *testing.T) {
	require.True(t, PageID(0).Valid())
	require.False(t, NoPage.Valid())
}
