package kernel

// ErrorKind classifies kernel errors so that callers can react to a family of
// failures without comparing against every sentinel.
type ErrorKind uint8

const (
	// KindUnknown is the zero value for errors that do not set a kind.
	KindUnknown ErrorKind = iota

	// KindOutOfMemory is reported when a frame, table slot or id space is
	// exhausted.
	KindOutOfMemory

	// KindInvalidImage is reported when an executable image fails
	// header or segment validation.
	KindInvalidImage

	// KindMappingFailure is reported when a paging primitive fails.
	KindMappingFailure

	// KindAddressSpaceExhausted is reported when a virtual address range
	// cannot be reserved or a VMA cannot be inserted.
	KindAddressSpaceExhausted

	// KindIOFailure is reported when reading an executable fails.
	KindIOFailure

	// KindInvalidArgument is reported when a caller violates a
	// precondition.
	KindInvalidArgument
)

var kindNames = [...]string{
	KindUnknown:               "unknown",
	KindOutOfMemory:           "out of memory",
	KindInvalidImage:          "invalid image",
	KindMappingFailure:        "mapping failure",
	KindAddressSpaceExhausted: "address space exhausted",
	KindIOFailure:             "I/O failure",
	KindInvalidArgument:       "invalid argument",
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to us so we cannot use
// errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Kind groups the error with related failures.
	Kind ErrorKind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// KindOf returns the kind of err or KindUnknown if err is nil.
func KindOf(err *Error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	return err.Kind
}
