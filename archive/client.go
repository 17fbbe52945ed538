package archive

import "context"

// OpenFlag selects the access mode for Open, per spec.md §6.
type OpenFlag int

const (
	// FlagRead opens an existing archive for reading.
	FlagRead OpenFlag = iota
	// FlagWrite creates a new archive for writing (truncates if it
	// exists).
	FlagWrite
	// FlagNew is an alias of FlagWrite kept for contract-name parity
	// with spec.md §6's {Read,Write,New,Update} enumeration.
	FlagNew
	// FlagUpdate opens an existing archive for in-place modification
	// (repair's CheckFile/RepairFile use this).
	FlagUpdate
)

// OpenStage mirrors spec.md §3 ArchiveHandle.openstage.
type OpenStage int

const (
	StageNone OpenStage = iota
	StageNotParsed
	StageDone
	StageError
)

// StatInfo is the result of Stat.
type StatInfo struct {
	Size int64
}

// VectorChunk is one sub-range of a VectorRead request.
type VectorChunk struct {
	Offset int64
	Size   int64
	Buf    []byte
}

// VectorReadInfo reports per-chunk outcomes of a VectorRead call.
type VectorReadInfo struct {
	BytesRead []int
	Errs      []error
}

// Handle is an opaque reference to an open archive, as observed by the
// core per spec.md §3 ArchiveHandle: an is-open flag, an openstage, a
// size, a parsed central directory, and per-file CRC32s. The concrete
// fields are implementation-defined; core code only uses the methods
// below plus the accessors on CentralDirectory.
type Handle interface {
	URL() string
	IsOpen() bool
	Stage() OpenStage
	Size() int64
	CentralDirectory() *CentralDirectory
	// SetCentralDirectory installs a CD obtained out-of-band (e.g. a
	// side-car metadata replica) for an archive that opened but whose
	// own CD could not be parsed; spec.md §4.7 Open.
	SetCentralDirectory(cd *CentralDirectory)
}

// CentralDirectory is the parsed index of an archive: a vector of file
// records plus a name->index map, per spec.md §3.
type CentralDirectory struct {
	Records []CentralDirRecord
	byName  map[string]int
}

// NewCentralDirectory builds the name index for records.
func NewCentralDirectory(records []CentralDirRecord) *CentralDirectory {
	cd := &CentralDirectory{Records: records, byName: make(map[string]int, len(records))}
	for i, r := range records {
		cd.byName[r.Name] = i
	}
	return cd
}

// Lookup returns the record index for name, or -1 if absent.
func (cd *CentralDirectory) Lookup(name string) int {
	if cd == nil {
		return -1
	}
	if i, ok := cd.byName[name]; ok {
		return i
	}
	return -1
}

// Client is the archive I/O collaborator the core depends on, per
// spec.md §6. It is async ("suspends" per §5) for every I/O-bearing
// primitive; Stat/GetCRC32/GetOffset are sync because they read
// already-parsed in-memory central-directory state.
type Client interface {
	Open(ctx context.Context, url string, flag OpenFlag, timeoutMS int) (Handle, error)
	// OpenOnly opens without parsing the central directory, for a
	// handle that will later receive one via SetCentralDirectory.
	OpenOnly(ctx context.Context, url string, update bool, timeoutMS int) (Handle, error)
	Close(ctx context.Context, h Handle, timeoutMS int) error

	Stat(h Handle, name string) (StatInfo, error)
	ReadFrom(ctx context.Context, h Handle, name string, offset, size int64, buf []byte) (int, error)
	AppendFile(ctx context.Context, h Handle, name string, crc32 uint32, size int64, buf []byte) error
	WriteIntoFile(ctx context.Context, h Handle, name string, offset int64, size int64, crc32 uint32, buf []byte) error
	VectorRead(ctx context.Context, h Handle, chunks []VectorChunk, timeoutMS int) (*VectorReadInfo, error)

	GetXAttr(ctx context.Context, h Handle, name string) ([]byte, error)
	SetXAttr(ctx context.Context, h Handle, pairs map[string][]byte) error
	ListXAttr(ctx context.Context, h Handle) ([]string, error)

	GetCRC32(h Handle, name string) (uint32, bool)
	GetOffset(h Handle, name string) (uint64, bool)
}
