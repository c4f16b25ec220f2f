package logdb

// Implementation limits. These are not on-disk format constraints; they
// bound this implementation's behavior.
const (
	// defaultSectionSize is the size in bytes of each section of the data
	// file, matching the original format's LOGDB_SECTION_SIZE default.
	defaultSectionSize = 65536

	// minSectionSize is small enough to be useful in tests (exercising
	// multi-section behavior with tiny fixtures) but still large enough to
	// hold a record header.
	minSectionSize = 64

	// leaseMaxWalk is the number of most-recent log entries a write lease
	// will examine looking for free space before appending a new section,
	// matching LOGDB_LEASE_MAX_WALK.
	leaseMaxWalk = 4

	// maxKeyLen and maxValueLen bound a single record's key/value lengths.
	// A record (header + key + value) must always fit in one section, so
	// these are also implicitly bounded by the configured section size.
	maxKeyLen   = 1<<32 - 1
	maxValueLen = 1<<32 - 1

	// maxTxnBufferedBytes bounds how much data a single (possibly nested)
	// transaction may buffer before Commit, guarding against unbounded
	// memory growth from a runaway caller.
	maxTxnBufferedBytes = 1 << 30 // 1 GiB

	// lockPageSlots is the number of lockable sections tracked by each
	// page in the in-process lock table's linked list.
	lockPageSlots = 128
)
