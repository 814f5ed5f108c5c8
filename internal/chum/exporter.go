package chum

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/sirupsen/logrus"

	"onecore/core"
	"onecore/core/microdata"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
	"onecore/internal/access"
	"onecore/internal/metrics"
	"onecore/internal/store"
	"onecore/internal/transport"
	"onecore/pkg/errcode"
)

// Catalog classifies a reachable access.Ref into the AccessibleObject shape
// of §6, and resolves an id-hash root to its current concrete type.
type Catalog interface {
	Classify(ref access.Ref) (AccessibleObject, error)
}

// DefaultCatalog classifies directly off the object store: unversioned and
// versioned roots are read and parsed to find their oneType; version-node
// roots are decoded and their pointed-at concrete object is read to derive
// dataIdHash/dataType; id roots are resolved via the current vhead.
type DefaultCatalog struct {
	Store    store.Store
	Registry *recipe.Registry
}

func (c *DefaultCatalog) Classify(ref access.Ref) (AccessibleObject, error) {
	if ref.IsId {
		oneType, err := c.idObjectType(ref.IdHash)
		if err != nil {
			return AccessibleObject{}, err
		}
		return AccessibleObject{Type: KindId, IdHash: ref.IdHash, OneType: oneType}, nil
	}

	obj, rec, err := c.readObject(ref.Hash)
	if err != nil {
		return AccessibleObject{}, err
	}
	if obj.Type == versiongraph.RecipeName {
		node, err := versiongraph.Decode(obj)
		if err != nil {
			return AccessibleObject{}, err
		}
		dataObj, dataRec, err := c.readObject(node.Data)
		if err != nil {
			return AccessibleObject{}, err
		}
		dataIdHash, _, err := microdata.IdObjectHash(dataObj, dataRec)
		if err != nil {
			return AccessibleObject{}, err
		}
		return AccessibleObject{Type: KindVersionNode, Node: ref.Hash, DataIdHash: dataIdHash, DataType: dataObj.Type}, nil
	}

	versioned, err := c.Registry.IsVersioned(obj.Type)
	if err != nil {
		return AccessibleObject{}, err
	}
	if versioned {
		idHash, _, err := microdata.IdObjectHash(obj, rec)
		if err != nil {
			return AccessibleObject{}, err
		}
		return AccessibleObject{Type: KindVersioned, IdHash: idHash, Hash: ref.Hash, OneType: obj.Type}, nil
	}
	return AccessibleObject{Type: KindUnversioned, Hash: ref.Hash, OneType: obj.Type}, nil
}

func (c *DefaultCatalog) readObject(hash core.Hash) (*object.Object, *recipe.Recipe, error) {
	text, err := c.Store.ReadText(hash)
	if err != nil {
		return nil, nil, err
	}
	return microdata.Parse(text, c.Registry)
}

func (c *DefaultCatalog) idObjectType(idHash core.IdHash) (string, error) {
	head, ok, err := c.Store.ReadVHead(idHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errcode.New(errcode.Internal, "chum: id-hash has no vhead entry").WithDetail("idHash", idHash.String())
	}
	nodeObj, _, err := c.readObject(head)
	if err != nil {
		return "", err
	}
	node, err := versiongraph.Decode(nodeObj)
	if err != nil {
		return "", err
	}
	dataObj, _, err := c.readObject(node.Data)
	if err != nil {
		return "", err
	}
	return dataObj.Type, nil
}

// idMicrodata renders idHash's current id-projection microdata, by walking
// its vhead to the concrete object and re-serializing only its identity
// fields. Id-objects are never persisted separately (§3).
func (c *DefaultCatalog) idMicrodata(idHash core.IdHash) (string, error) {
	head, ok, err := c.Store.ReadVHead(idHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errcode.New(errcode.Internal, "chum: id-hash has no vhead entry").WithDetail("idHash", idHash.String())
	}
	nodeObj, _, err := c.readObject(head)
	if err != nil {
		return "", err
	}
	node, err := versiongraph.Decode(nodeObj)
	if err != nil {
		return "", err
	}
	dataObj, dataRec, err := c.readObject(node.Data)
	if err != nil {
		return "", err
	}
	return microdata.SerializeIdProjection(dataObj, dataRec)
}

// Exporter serves one remote peer's Chum connection (§4.8). One instance is
// created per accepted Session.
type Exporter struct {
	Store   store.Store
	Catalog Catalog
	Access  access.Filter
	Metrics *metrics.Registry
	Log     *logrus.Logger

	// RemotePerson identifies the peer on the other end of the connection,
	// used to consult Access for every request.
	RemotePerson core.IdHash

	// Notify fires the best-effort NewAccessibleRoot event (§4.8, §5) when
	// the reachable set grows. It is deliberately never written onto the
	// Session itself: that channel carries strict request/response JSON
	// frames correlated by id, and an async push interleaved on it would
	// corrupt Client.call's read-one-response-per-request assumption. The
	// caller wires Notify to whatever out-of-band channel its transport
	// offers (e.g. LibP2PHost.PublishNewAccessibleRoot); nil means the
	// instance has no such channel and relies on the importer's re-poll.
	Notify func(ctx context.Context) error
}

// Serve reads and answers requests from session until it closes, Fin
// arrives, or ctx is cancelled. While it runs, Access change events for
// RemotePerson are passed to Notify (if set), never written onto session
// (§5: best-effort, never required for correctness since the importer
// re-polls).
func (e *Exporter) Serve(ctx context.Context, session transport.Session) error {
	log := e.logger()
	if e.Metrics != nil {
		e.Metrics.ActiveConnections.Inc()
		defer e.Metrics.ActiveConnections.Dec()
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go e.watchAccessibleChange(watchCtx)

	for {
		payload, binary, err := session.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if binary {
			log.Warn("chum exporter: unexpected top-level binary frame, ignoring")
			continue
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			log.WithError(err).Warn("chum exporter: malformed request frame")
			continue
		}
		if req.Type == MsgFin {
			e.respond(ctx, session, req.ID, nil, nil)
			return nil
		}
		e.dispatch(ctx, session, req)
	}
}

func (e *Exporter) logger() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e *Exporter) dispatch(ctx context.Context, session transport.Session, req Request) {
	switch req.Type {
	case MsgGetProtocolVersion:
		e.respond(ctx, session, req.ID, ProtocolVersion, nil)
	case MsgGetAccessibleRoots:
		roots, err := e.accessibleRoots()
		e.respond(ctx, session, req.ID, roots, err)
	case MsgGetObjectChildren:
		var args getObjectChildrenArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			e.respond(ctx, session, req.ID, nil, errcode.Wrap(errcode.Internal, "chum: malformed args", err))
			return
		}
		if !e.allowed(access.ObjRef(args.Hash)) {
			e.deny(ctx, session, req.ID)
			return
		}
		children, err := e.objectChildren(args.Hash)
		e.respond(ctx, session, req.ID, children, err)
	case MsgGetIdObjectChildren:
		var args getIdObjectChildrenArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			e.respond(ctx, session, req.ID, nil, errcode.Wrap(errcode.Internal, "chum: malformed args", err))
			return
		}
		if !e.allowed(access.IdRef(args.IdHash)) {
			e.deny(ctx, session, req.ID)
			return
		}
		children, err := e.idObjectChildren(args.IdHash)
		e.respond(ctx, session, req.ID, children, err)
	case MsgGetObject:
		var args getObjectArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			e.respond(ctx, session, req.ID, nil, errcode.Wrap(errcode.Internal, "chum: malformed args", err))
			return
		}
		if !e.allowed(access.ObjRef(args.Hash)) {
			e.deny(ctx, session, req.ID)
			return
		}
		text, err := e.Store.ReadText(args.Hash)
		e.respond(ctx, session, req.ID, text, err)
		e.countExport(len(text), err)
	case MsgGetIdObject:
		var args getIdObjectArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			e.respond(ctx, session, req.ID, nil, errcode.Wrap(errcode.Internal, "chum: malformed args", err))
			return
		}
		if !e.allowed(access.IdRef(args.IdHash)) {
			e.deny(ctx, session, req.ID)
			return
		}
		cat, ok := e.Catalog.(*DefaultCatalog)
		if !ok {
			e.respond(ctx, session, req.ID, nil, errcode.New(errcode.Internal, "chum: id-object export requires DefaultCatalog"))
			return
		}
		text, err := cat.idMicrodata(args.IdHash)
		e.respond(ctx, session, req.ID, text, err)
		e.countExport(len(text), err)
	case MsgGetBlob:
		var args getBlobArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			e.respondBlobError(ctx, session, req.ID, errcode.Wrap(errcode.Internal, "chum: malformed args", err))
			return
		}
		if !e.allowed(access.ObjRef(args.Hash)) {
			if e.Metrics != nil {
				e.Metrics.ExportDenied.Inc()
			}
			e.respondBlobError(ctx, session, req.ID, errcode.New(errcode.AccessDenied, "chum: blob not accessible").WithDetail("hash", args.Hash.String()))
			return
		}
		e.streamBlob(ctx, session, req.ID, args)
	default:
		e.respond(ctx, session, req.ID, nil, errcode.New(errcode.Internal, "chum: unknown message type"))
	}
}

func (e *Exporter) allowed(ref access.Ref) bool {
	set, err := e.Access.AccessibleSet(e.RemotePerson)
	if err != nil {
		e.logger().WithError(err).Warn("chum exporter: AccessibleSet failed, denying")
		return false
	}
	_, ok := set[ref.Key()]
	return ok
}

func (e *Exporter) deny(ctx context.Context, session transport.Session, id string) {
	if e.Metrics != nil {
		e.Metrics.ExportDenied.Inc()
	}
	e.respond(ctx, session, id, nil, errcode.New(errcode.AccessDenied, "chum: not accessible to this peer"))
}

func (e *Exporter) countExport(bytes int, err error) {
	if e.Metrics == nil || err != nil {
		return
	}
	e.Metrics.ExportedObjects.Inc()
	e.Metrics.ExportedBytes.Add(float64(bytes))
}

func (e *Exporter) respond(ctx context.Context, session transport.Session, id string, result any, err error) {
	resp := Response{ID: id}
	if err != nil {
		resp.Error = wireErrorOf(err)
	} else if result != nil {
		b, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = wireErrorOf(errcode.Wrap(errcode.Internal, "chum: marshal result", merr))
		} else {
			resp.Result = b
		}
	}
	b, err := json.Marshal(resp)
	if err != nil {
		e.logger().WithError(err).Error("chum exporter: marshal response envelope")
		return
	}
	if err := session.WriteText(ctx, b); err != nil {
		e.logger().WithError(err).Warn("chum exporter: write response")
	}
}

func (e *Exporter) respondBlobError(ctx context.Context, session transport.Session, id string, err error) {
	e.respond(ctx, session, id, nil, err)
}

func (e *Exporter) streamBlob(ctx context.Context, session transport.Session, id string, args getBlobArgs) {
	var body []byte
	var err error
	switch args.Encoding {
	case encodingBase64:
		var s string
		s, err = e.Store.ReadBytesBase64(args.Hash)
		body = []byte(s)
	default:
		body, err = e.Store.ReadBytes(args.Hash)
	}
	if err != nil {
		e.respondBlobError(ctx, session, id, err)
		return
	}
	for offset := 0; offset < len(body); offset += blobChunkSize {
		end := offset + blobChunkSize
		if end > len(body) {
			end = len(body)
		}
		if err := session.WriteBinary(ctx, body[offset:end]); err != nil {
			e.logger().WithError(err).Warn("chum exporter: write blob chunk")
			return
		}
	}
	if err := session.WriteBinary(ctx, nil); err != nil {
		e.logger().WithError(err).Warn("chum exporter: write blob terminator")
		return
	}
	e.countExport(len(body), nil)
}

func (e *Exporter) objectChildren(hash core.Hash) ([]Child, error) {
	text, err := e.Store.ReadText(hash)
	if err != nil {
		return nil, err
	}
	return childrenFromMicrodata(text)
}

func (e *Exporter) idObjectChildren(idHash core.IdHash) ([]Child, error) {
	cat, ok := e.Catalog.(*DefaultCatalog)
	if !ok {
		return nil, errcode.New(errcode.Internal, "chum: id children require DefaultCatalog")
	}
	text, err := cat.idMicrodata(idHash)
	if err != nil {
		return nil, err
	}
	return childrenFromMicrodata(text)
}

// childrenFromMicrodata scans text for hash-links and returns them as
// Children in document order (§4.8: "document order of references").
func childrenFromMicrodata(text string) ([]Child, error) {
	byField, err := microdata.FindAllHashLinks(text)
	if err != nil {
		return nil, err
	}
	var occ []microdata.Occurrence
	for _, list := range byField {
		occ = append(occ, list...)
	}
	sort.Slice(occ, func(i, j int) bool { return occ[i].Start < occ[j].Start })

	children := make([]Child, len(occ))
	for i, o := range occ {
		children[i] = Child{Type: childKindOf(o.LinkKind), Hash: o.Hash, IdHash: o.IdHash}
	}
	return children, nil
}

func (e *Exporter) accessibleRoots() ([]AccessibleObject, error) {
	set, err := e.Access.AccessibleSet(e.RemotePerson)
	if err != nil {
		return nil, err
	}
	roots := make([]AccessibleObject, 0, len(set))
	for _, ref := range set {
		obj, err := e.Catalog.Classify(ref)
		if err != nil {
			e.logger().WithError(err).Warn("chum exporter: failed to classify accessible ref, skipping")
			continue
		}
		roots = append(roots, obj)
	}
	return roots, nil
}

func (e *Exporter) watchAccessibleChange(ctx context.Context) {
	if e.Notify == nil {
		return
	}
	ch := e.Access.OnAccessibleChange(e.RemotePerson)
	if ch == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := e.Notify(ctx); err != nil {
				e.logger().WithError(err).Debug("chum exporter: NewAccessibleRoot notify failed")
			}
		}
	}
}
