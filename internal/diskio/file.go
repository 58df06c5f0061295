package diskio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tuannm99/diskhash/pkg/util"
)

// FileDiskManager is a real file-backed DiskManager: one data file addressed
// by pageID*PageSize, and one append-only log file addressed by raw byte
// offsets. Adapted from the teacher's internal/storage package — the data
// file follows StorageManager's ReadPage/WritePage (zero-fill on short
// read), and the log file follows Pager's raw-offset read/write, flattened
// here to plain byte ranges since this module has no page-shaped log
// records of its own.
type FileDiskManager struct {
	mu sync.Mutex

	dataFile   *os.File
	nextPageID PageID

	logFile *os.File
	logSize int64
}

// OpenFileDiskManager opens (creating if absent) a data file at dataPath
// and a log file at logPath.
func OpenFileDiskManager(dataPath, logPath string) (*FileDiskManager, error) {
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open data file: %w", err)
	}

	info, err := dataFile.Stat()
	if err != nil {
		util.CloseFileFunc(dataFile)
		return nil, fmt.Errorf("diskio: stat data file: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		util.CloseFileFunc(dataFile)
		return nil, fmt.Errorf("diskio: open log file: %w", err)
	}

	logInfo, err := logFile.Stat()
	if err != nil {
		util.CloseFileFunc(dataFile)
		util.CloseFileFunc(logFile)
		return nil, fmt.Errorf("diskio: stat log file: %w", err)
	}

	return &FileDiskManager{
		dataFile:   dataFile,
		nextPageID: PageID(info.Size() / PageSize),
		logFile:    logFile,
		logSize:    logInfo.Size(),
	}, nil
}

// Close releases the underlying file handles.
func (f *FileDiskManager) Close() {
	util.CloseFileFunc(f.dataFile)
	util.CloseFileFunc(f.logFile)
}

func (f *FileDiskManager) AllocatePage() (PageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nextPageID+1 == NoPage {
		return NoPage, ErrPageIDOverflow
	}
	id := f.nextPageID
	f.nextPageID++

	zero := make([]byte, PageSize)
	if _, err := f.dataFile.WriteAt(zero, int64(id)*PageSize); err != nil {
		return NoPage, fmt.Errorf("diskio: allocate page %d: %w", id, err)
	}
	return id, nil
}

func (f *FileDiskManager) DeallocatePage(id PageID) error {
	// No-op: disk space is not reclaimed and no record of the release is
	// kept (spec.md Non-goal: shrink-resize).
	return nil
}

func (f *FileDiskManager) ReadPage(id PageID, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("diskio: ReadPage dst must be %d bytes, got %d", PageSize, len(dst))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	off := int64(id) * PageSize
	n, err := f.dataFile.ReadAt(dst, off)
	if n < PageSize {
		// Zero-fill short reads (page never written yet), matching the
		// teacher's StorageManager.ReadPage behavior.
		for i := n; i < PageSize; i++ {
			dst[i] = 0
		}
	}
	if err != nil && !isEOF(err) {
		return fmt.Errorf("diskio: read page %d: %w", id, err)
	}
	return nil
}

func (f *FileDiskManager) WritePage(id PageID, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("diskio: WritePage src must be %d bytes, got %d", PageSize, len(src))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	off := int64(id) * PageSize
	if _, err := f.dataFile.WriteAt(src, off); err != nil {
		return fmt.Errorf("diskio: write page %d: %w", id, err)
	}
	return nil
}

func (f *FileDiskManager) WriteLog(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.logFile.Write(data)
	f.logSize += int64(n)
	if err != nil {
		return fmt.Errorf("diskio: write log: %w", err)
	}
	return nil
}

func (f *FileDiskManager) ReadLog(dst []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset < 0 || offset >= f.logSize {
		return 0, nil
	}
	n, err := f.logFile.ReadAt(dst, offset)
	if err != nil && !isEOF(err) {
		return n, fmt.Errorf("diskio: read log: %w", err)
	}
	return n, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
