package errors

import (
	"errors"
	"fmt"

	"github.com/zmyer/tera/proto"
)

// Code is the client-visible error kind. The batch engine maps transport and
// server status codes to these before invoking user callbacks.
type Code int

const (
	Ok Code = iota
	NotFound
	BadParam
	System
	NoAuth
	Timeout
	Busy
	TxnFail
	NotImplemented
)

var codeNames = map[Code]string{
	Ok:             "Ok",
	NotFound:       "NotFound",
	BadParam:       "BadParam",
	System:         "System",
	NoAuth:         "NoAuth",
	Timeout:        "Timeout",
	Busy:           "Busy",
	TxnFail:        "TxnFail",
	NotImplemented: "NotImplemented",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error carries an error kind and a human-readable reason. Every fallible
// operation of the SDK returns one instead of panicking across RPC edges.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Reason
}

// New builds an Error with a formatted reason.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the kind from err; nil maps to Ok, foreign errors to System.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return System
}

// FromStatus maps a wire status to the client error taxonomy.
func FromStatus(status proto.StatusCode) *Error {
	switch status {
	case proto.StatusOk, proto.StatusTabletNodeOk, proto.StatusMasterOk:
		return nil
	case proto.StatusKeyNotExist, proto.StatusTableNotExist, proto.StatusTableNotFound, proto.StatusSnapshotNotExist:
		return &Error{Code: NotFound, Reason: status.String()}
	case proto.StatusTxnFail:
		return &Error{Code: TxnFail, Reason: "transaction commit fail"}
	case proto.StatusInvalidArgument, proto.StatusTableExist,
		proto.StatusTableStatusDisable, proto.StatusTableStatusEnable:
		return &Error{Code: BadParam, Reason: status.String()}
	case proto.StatusNotPermission:
		return &Error{Code: NoAuth, Reason: status.String()}
	case proto.StatusRPCTimeout:
		return &Error{Code: Timeout, Reason: status.String()}
	default:
		return &Error{Code: System, Reason: status.String()}
	}
}

var (
	ErrTableNotExist     = errors.New("table does not exist")
	ErrTableExist        = errors.New("table already exists")
	ErrTabletNotExist    = errors.New("tablet does not exist")
	ErrTabletExist       = errors.New("tablet already exists")
	ErrNodeNotExist      = errors.New("tablet node not found")
	ErrIllegalTransition = errors.New("illegal tablet status transition")
	ErrMetaStale         = errors.New("meta table range is stale")
	ErrSafeMode          = errors.New("master is in safe mode")
	ErrClientClosed      = errors.New("client is closed")
	ErrRangeConflict     = errors.New("tablet key range conflicts")
	ErrNoRootTablet      = errors.New("root tablet address unavailable")
)
