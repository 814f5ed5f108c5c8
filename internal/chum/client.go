package chum

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"onecore/core"
	"onecore/internal/transport"
	"onecore/pkg/errcode"
)

// Client is the ExporterClient stub of §4.9: a typed RPC surface over one
// transport.Session. Requests are serialized one at a time (callMu) — the
// poll-loop's "parallel id-groups" (§4.9.2c) and "per-peer connections"
// (§5) parallelism is real goroutine fan-out at the Importer layer, but one
// underlying socket only ever carries a single in-flight request, which is
// sufficient for correctness and keeps frame correlation trivial.
type Client struct {
	session transport.Session
	log     *logrus.Logger

	callMu sync.Mutex
	nextID uint64
}

// NewClient wraps session for Chum RPCs.
func NewClient(session transport.Session, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{session: session, log: log}
}

func (c *Client) Close() error { return c.session.Close() }

func (c *Client) nextRequestID() string {
	return strconv.FormatUint(atomic.AddUint64(&c.nextID, 1), 10)
}

// call sends one request and reads back its correlated JSON response,
// unmarshaling Result into out (if non-nil). It must not be used for
// GetBlob, whose success path streams binary frames instead of a Result.
func (c *Client) call(ctx context.Context, msgType MessageType, args any, out any) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	id := c.nextRequestID()
	var rawArgs json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return errcode.Wrap(errcode.Internal, "chum: marshal request args", err)
		}
		rawArgs = b
	}
	reqBytes, err := json.Marshal(Request{Type: msgType, ID: id, Args: rawArgs})
	if err != nil {
		return errcode.Wrap(errcode.Internal, "chum: marshal request", err)
	}
	if err := c.session.WriteText(ctx, reqBytes); err != nil {
		return errcode.Wrap(errcode.PeerClosed, "chum: write request", err)
	}

	payload, binary, err := c.session.ReadFrame(ctx)
	if err != nil {
		return errcode.Wrap(errcode.PeerClosed, "chum: read response", err)
	}
	if binary {
		return errcode.New(errcode.Internal, "chum: unexpected binary frame awaiting response")
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return errcode.Wrap(errcode.Internal, "chum: malformed response frame", err)
	}
	if resp.ID != id {
		return errcode.New(errcode.Internal, "chum: response id mismatch").
			WithDetail("want", id).WithDetail("got", resp.ID)
	}
	if resp.Error != nil {
		return resp.Error.asError()
	}
	if out != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errcode.Wrap(errcode.Internal, "chum: unmarshal response result", err)
		}
	}
	return nil
}

func (c *Client) GetProtocolVersion(ctx context.Context) (int, error) {
	var v int
	err := c.call(ctx, MsgGetProtocolVersion, nil, &v)
	return v, err
}

func (c *Client) GetAccessibleRoots(ctx context.Context) ([]AccessibleObject, error) {
	var roots []AccessibleObject
	err := c.call(ctx, MsgGetAccessibleRoots, nil, &roots)
	return roots, err
}

func (c *Client) GetObjectChildren(ctx context.Context, hash core.Hash) ([]Child, error) {
	var children []Child
	err := c.call(ctx, MsgGetObjectChildren, getObjectChildrenArgs{Hash: hash}, &children)
	return children, err
}

func (c *Client) GetIdObjectChildren(ctx context.Context, idHash core.IdHash) ([]Child, error) {
	var children []Child
	err := c.call(ctx, MsgGetIdObjectChildren, getIdObjectChildrenArgs{IdHash: idHash}, &children)
	return children, err
}

func (c *Client) GetObject(ctx context.Context, hash core.Hash) (string, error) {
	var s string
	err := c.call(ctx, MsgGetObject, getObjectArgs{Hash: hash}, &s)
	return s, err
}

func (c *Client) GetIdObject(ctx context.Context, idHash core.IdHash) (string, error) {
	var s string
	err := c.call(ctx, MsgGetIdObject, getIdObjectArgs{IdHash: idHash}, &s)
	return s, err
}

// GetBlob fetches hash's raw bytes. The exporter either answers with a text
// Response carrying a WireError (denied/unknown) or streams binary frames
// terminated by a zero-length one, with no enclosing JSON envelope around
// the data itself.
func (c *Client) GetBlob(ctx context.Context, hash core.Hash, encoding string) ([]byte, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	id := c.nextRequestID()
	argsBytes, err := json.Marshal(getBlobArgs{Hash: hash, Encoding: encoding})
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "chum: marshal GetBlob args", err)
	}
	reqBytes, err := json.Marshal(Request{Type: MsgGetBlob, ID: id, Args: argsBytes})
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "chum: marshal GetBlob request", err)
	}
	if err := c.session.WriteText(ctx, reqBytes); err != nil {
		return nil, errcode.Wrap(errcode.PeerClosed, "chum: write GetBlob request", err)
	}

	first, binary, err := c.session.ReadFrame(ctx)
	if err != nil {
		return nil, errcode.Wrap(errcode.PeerClosed, "chum: read GetBlob response", err)
	}
	if !binary {
		var resp Response
		if err := json.Unmarshal(first, &resp); err != nil {
			return nil, errcode.Wrap(errcode.Internal, "chum: malformed GetBlob error response", err)
		}
		if resp.Error != nil {
			return nil, resp.Error.asError()
		}
		return nil, errcode.New(errcode.Internal, "chum: GetBlob returned a text frame with no error")
	}

	var body []byte
	for len(first) > 0 {
		body = append(body, first...)
		first, binary, err = c.session.ReadFrame(ctx)
		if err != nil {
			return nil, errcode.Wrap(errcode.PeerClosed, "chum: read GetBlob stream", err)
		}
		if !binary {
			return nil, errcode.New(errcode.Internal, "chum: unexpected text frame mid GetBlob stream")
		}
	}

	switch encoding {
	case encodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, errcode.Wrap(errcode.Internal, "chum: decode base64 blob stream", err)
		}
		return decoded, nil
	default:
		return body, nil
	}
}

func (c *Client) Fin(ctx context.Context) error {
	return c.call(ctx, MsgFin, nil, nil)
}
