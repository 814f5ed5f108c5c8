// Package chum implements the Chum pull-based peer-sync protocol (§4.8,
// §4.9, §6): a JSON request/response frame format carried over any
// internal/transport.Session, a per-connection Exporter answering the eight
// request codes (code 9, NewAccessibleRoot, is an event, not a request), and
// an Importer driving an ExporterClient through
// the protocol-version handshake and poll loop.
package chum

import (
	"encoding/json"
	"errors"

	"onecore/core"
	"onecore/pkg/errcode"
)

// MessageType is one of the nine numbered Chum wire codes (§6).
type MessageType int

const (
	MsgGetProtocolVersion  MessageType = 1
	MsgGetAccessibleRoots  MessageType = 2
	MsgGetObjectChildren   MessageType = 3
	MsgGetIdObjectChildren MessageType = 4
	MsgGetObject           MessageType = 5
	MsgGetIdObject         MessageType = 6
	MsgGetBlob             MessageType = 7
	MsgFin                 MessageType = 8
	MsgNewAccessibleRoot   MessageType = 9
)

// ProtocolVersion is the version this implementation speaks and expects of
// a peer; GetProtocolVersion on both sides must agree exactly.
const ProtocolVersion = 1

// Request is the wire shape of every I→E message: {type, id, args}.
type Request struct {
	Type MessageType     `json:"type"`
	ID   string          `json:"id"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response correlates to a Request by ID. Result is omitted on error.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is the JSON rendering of an errcode.Error crossing the wire.
type WireError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func wireErrorOf(err error) *WireError {
	var e *errcode.Error
	if errors.As(err, &e) {
		return &WireError{Code: string(e.Code()), Message: e.Error(), Details: e.Details()}
	}
	return &WireError{Code: string(errcode.Internal), Message: err.Error()}
}

func (we *WireError) asError() error {
	e := errcode.New(errcode.Code(we.Code), we.Message)
	for k, v := range we.Details {
		e = e.WithDetail(k, v)
	}
	return e
}

// AccessibleKind tags one of the four AccessibleObject shapes (§6).
type AccessibleKind string

const (
	KindUnversioned AccessibleKind = "unversioned"
	KindVersioned   AccessibleKind = "versioned"
	KindId          AccessibleKind = "id"
	KindVersionNode AccessibleKind = "version_node"
)

// AccessibleObject is one entry of the GetAccessibleRoots response. Only the
// fields relevant to Type are populated.
type AccessibleObject struct {
	Type AccessibleKind `json:"type"`

	// unversioned, versioned
	Hash core.Hash `json:"hash,omitempty"`

	// versioned, id
	IdHash  core.IdHash `json:"idHash,omitempty"`
	OneType string      `json:"oneType,omitempty"`

	// version_node
	Node       core.Hash   `json:"node,omitempty"`
	DataIdHash core.IdHash `json:"dataIdHash,omitempty"`
	DataType   string      `json:"dataType,omitempty"`
}

// ChildKind is one of the four reference kinds a Child may name.
type ChildKind string

const (
	ChildObject ChildKind = "object"
	ChildId     ChildKind = "id"
	ChildBlob   ChildKind = "blob"
	ChildClob   ChildKind = "clob"
)

func childKindOf(lk core.LinkKind) ChildKind {
	switch lk {
	case core.LinkId:
		return ChildId
	case core.LinkClob:
		return ChildClob
	case core.LinkBlob:
		return ChildBlob
	default:
		return ChildObject
	}
}

// Child is one entry of a GetObjectChildren/GetIdObjectChildren response, in
// document order of the reference within the parent's microdata.
type Child struct {
	Type   ChildKind   `json:"type"`
	Hash   core.Hash   `json:"hash,omitempty"`
	IdHash core.IdHash `json:"idHash,omitempty"`
}

type getObjectChildrenArgs struct {
	Hash core.Hash `json:"hash"`
}

type getIdObjectChildrenArgs struct {
	IdHash core.IdHash `json:"idHash"`
}

type getObjectArgs struct {
	Hash core.Hash `json:"hash"`
}

type getIdObjectArgs struct {
	IdHash core.IdHash `json:"idHash"`
}

type getBlobArgs struct {
	Hash     core.Hash `json:"hash"`
	Encoding string    `json:"encoding,omitempty"`
}

const (
	encodingBinary = ""
	encodingBase64 = "base64"
	encodingUTF8   = "utf-8"
)

// blobChunkSize bounds a single GetBlob binary frame; large BLOBs stream as
// several frames before the zero-length terminator.
const blobChunkSize = 64 * 1024
