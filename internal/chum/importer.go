package chum

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"onecore/core"
	"onecore/core/merge"
	"onecore/core/microdata"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
	"onecore/internal/metrics"
	"onecore/internal/store"
	"onecore/pkg/errcode"
)

// ExporterClient is the stub the Importer drives (§4.9); *Client implements
// it against a live transport.Session, and tests substitute a fake.
type ExporterClient interface {
	GetProtocolVersion(ctx context.Context) (int, error)
	GetAccessibleRoots(ctx context.Context) ([]AccessibleObject, error)
	GetObjectChildren(ctx context.Context, hash core.Hash) ([]Child, error)
	GetIdObjectChildren(ctx context.Context, idHash core.IdHash) ([]Child, error)
	GetObject(ctx context.Context, hash core.Hash) (string, error)
	GetIdObject(ctx context.Context, idHash core.IdHash) (string, error)
	GetBlob(ctx context.Context, hash core.Hash, encoding string) ([]byte, error)
	Fin(ctx context.Context) error
}

// StoreNodeSource adapts a Store+Registry pair into a versiongraph.NodeSource,
// resolving a version-node hash by reading and decoding its persisted
// OneVersionNode object. This is the NodeSource every merge.Coordinator the
// importer drives is built against.
type StoreNodeSource struct {
	Store    store.Store
	Registry *recipe.Registry
}

func (s *StoreNodeSource) GetNode(h core.Hash) (*versiongraph.Node, error) {
	text, err := s.Store.ReadText(h)
	if err != nil {
		return nil, err
	}
	obj, _, err := microdata.Parse(text, s.Registry)
	if err != nil {
		return nil, errcode.Wrap(errcode.MalformedMicrodata, "chum: parse version-node", err)
	}
	node, err := versiongraph.Decode(obj)
	if err != nil {
		return nil, err
	}
	node.Hash = h
	return node, nil
}

// defaultRejectedTypes is the Access/IdAccess/Group set of §3's invariant:
// access-control-bearing types the importer refuses from a remote peer no
// matter how well-formed, since they must only ever be asserted locally.
var defaultRejectedTypes = map[string]bool{
	"Access":   true,
	"IdAccess": true,
	"Group":    true,
}

// Importer drives one ExporterClient through the protocol handshake and
// poll loop of §4.9. One instance serves one peer connection.
type Importer struct {
	Client   ExporterClient
	Store    store.Store
	Registry *recipe.Registry
	Metrics  *metrics.Registry
	Log      *logrus.Logger

	// MergeCoordinatorFor builds (or returns a cached) merge.Coordinator for
	// a version-node's concrete data type, wired by the caller since a
	// Coordinator's Persister/RecurseRef are composition-root concerns.
	MergeCoordinatorFor func(dataType string) (*merge.Coordinator, error)

	// RejectedTypes overrides defaultRejectedTypes if non-nil.
	RejectedTypes map[string]bool

	// PollInterval is the sleep between poll cycles once KeepRunning.
	PollInterval time.Duration
	// KeepRunning selects the continuous-poll loop (true) versus a single
	// pass followed by Fin (false) — §4.9 step 4.
	KeepRunning bool
	// ProtocolVersionRetries bounds the version-handshake retry (§4.9 step
	// 1). Zero uses a default of 5.
	ProtocolVersionRetries int
	// ProtocolVersionBackoff is the delay between handshake retries. Zero
	// uses a default of 200ms.
	ProtocolVersionBackoff time.Duration

	// OnFirstSync fires once, after the first full pass completes.
	OnFirstSync func()
	// OnError receives every per-root failure; the loop itself never stops
	// because of one (§4.9, §7).
	OnError func(err error)
}

func (imp *Importer) logger() *logrus.Logger {
	if imp.Log != nil {
		return imp.Log
	}
	return logrus.StandardLogger()
}

func (imp *Importer) isRejectedType(typeName string) bool {
	set := imp.RejectedTypes
	if set == nil {
		set = defaultRejectedTypes
	}
	return set[typeName]
}

func (imp *Importer) countImported() {
	if imp.Metrics != nil {
		imp.Metrics.ImportedObjects.Inc()
	}
}

func (imp *Importer) reportError(err error) {
	if err == nil {
		return
	}
	if imp.Metrics != nil {
		imp.Metrics.ImportErrors.Inc()
	}
	imp.logger().WithError(err).Warn("chum importer: per-root failure")
	if imp.OnError != nil {
		imp.OnError(err)
	}
}

func (imp *Importer) versionRetries() int {
	if imp.ProtocolVersionRetries > 0 {
		return imp.ProtocolVersionRetries
	}
	return 5
}

func (imp *Importer) versionBackoff() time.Duration {
	if imp.ProtocolVersionBackoff > 0 {
		return imp.ProtocolVersionBackoff
	}
	return 200 * time.Millisecond
}

func (imp *Importer) pollInterval() time.Duration {
	if imp.PollInterval > 0 {
		return imp.PollInterval
	}
	return 5 * time.Second
}

// negotiateProtocolVersion implements §4.9 step 1: retry the version call
// up to N times if the remote's Chum service is not yet registered
// (PeerUnknownService), then fail hard with ProtocolMismatch either on
// exhausting retries or on a registered-but-incompatible version.
func (imp *Importer) negotiateProtocolVersion(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < imp.versionRetries(); attempt++ {
		v, err := imp.Client.GetProtocolVersion(ctx)
		if err == nil {
			if v != ProtocolVersion {
				return errcode.New(errcode.ProtocolMismatch, "chum: incompatible protocol version").
					WithDetail("want", ProtocolVersion).WithDetail("got", v)
			}
			return nil
		}
		if !errcode.Is(err, errcode.PeerUnknownService) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(imp.versionBackoff()):
		}
	}
	return errcode.Wrap(errcode.ProtocolMismatch, "chum: exporter service never registered", lastErr)
}

// Loop runs negotiateProtocolVersion once, then repeatedly polls per §4.9
// steps 2-4, until ctx is cancelled (if KeepRunning) or after one pass
// (otherwise, sending Fin before returning).
func (imp *Importer) Loop(ctx context.Context) error {
	if err := imp.negotiateProtocolVersion(ctx); err != nil {
		return err
	}

	firstPass := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		imp.RunOnce(ctx)
		if imp.Metrics != nil {
			imp.Metrics.PollDuration.Observe(time.Since(start).Seconds())
		}
		if firstPass {
			firstPass = false
			if imp.OnFirstSync != nil {
				imp.OnFirstSync()
			}
		}
		if !imp.KeepRunning {
			return imp.Client.Fin(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(imp.pollInterval()):
		}
	}
}

// RunOnce executes one poll cycle (§4.9 step 2): fetch roots, partition by
// kind, process unversioned/versioned/id roots sequentially and
// version-node groups in parallel by dataIdHash.
func (imp *Importer) RunOnce(ctx context.Context) {
	roots, err := imp.Client.GetAccessibleRoots(ctx)
	if err != nil {
		imp.reportError(err)
		return
	}

	var unversioned, versionedRoots, idRoots []AccessibleObject
	versionGroups := make(map[core.IdHash][]AccessibleObject)
	for _, r := range roots {
		switch r.Type {
		case KindUnversioned:
			unversioned = append(unversioned, r)
		case KindVersioned:
			versionedRoots = append(versionedRoots, r)
		case KindId:
			idRoots = append(idRoots, r)
		case KindVersionNode:
			versionGroups[r.DataIdHash] = append(versionGroups[r.DataIdHash], r)
		}
	}

	for _, r := range unversioned {
		if err := imp.fetchObjectWithChildren(ctx, r.Hash); err != nil {
			imp.reportError(err)
		}
	}
	for _, r := range versionedRoots {
		if err := imp.fetchObjectWithChildren(ctx, r.Hash); err != nil {
			imp.reportError(err)
		}
	}
	for _, r := range idRoots {
		if err := imp.fetchIdObjectWithChildren(ctx, r.IdHash); err != nil {
			imp.reportError(err)
		}
	}

	var wg sync.WaitGroup
	for dataIdHash, group := range versionGroups {
		wg.Add(1)
		go func(id core.IdHash, g []AccessibleObject) {
			defer wg.Done()
			imp.processVersionNodeGroup(ctx, id, g)
		}(dataIdHash, group)
	}
	wg.Wait()
}

// fetchState tracks id-hashes resolved within one fetchObjectWithChildren /
// fetchIdObjectWithChildren call, since id-objects are never persisted in
// AreaObjects and so need their own "already fetched" bookkeeping for the
// no-holes assertion (§4.9).
type fetchState struct {
	imp        *Importer
	fetchedIds map[core.IdHash]bool
}

func newFetchState(imp *Importer) *fetchState {
	return &fetchState{imp: imp, fetchedIds: make(map[core.IdHash]bool)}
}

func (fs *fetchState) fetchChildrenReversed(ctx context.Context, children []Child) error {
	for i := len(children) - 1; i >= 0; i-- {
		if err := fs.fetchChild(ctx, children[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fs *fetchState) fetchChild(ctx context.Context, c Child) error {
	switch c.Type {
	case ChildObject:
		return fs.fetchObject(ctx, c.Hash)
	case ChildBlob:
		return fs.fetchBlob(ctx, c.Hash)
	case ChildClob:
		return fs.fetchClob(ctx, c.Hash)
	case ChildId:
		return fs.fetchId(ctx, c.IdHash)
	default:
		return errcode.New(errcode.Internal, "chum: unknown child kind").WithDetail("type", string(c.Type))
	}
}

func (fs *fetchState) fetchObject(ctx context.Context, hash core.Hash) error {
	if fs.imp.Store.Exists(hash, core.AreaObjects) {
		return nil
	}
	text, err := fs.imp.Client.GetObject(ctx, hash)
	if err != nil {
		return err
	}
	return fs.verifyAndStoreObject(hash, text)
}

func (fs *fetchState) verifyAndStoreObject(hash core.Hash, text string) error {
	if core.Hash(sha256.Sum256([]byte(text))) != hash {
		return errcode.New(errcode.HashMismatch, "chum: fetched object hash mismatch").WithDetail("hash", hash.String())
	}
	obj, _, err := microdata.Parse(text, fs.imp.Registry)
	if err != nil {
		return errcode.Wrap(errcode.MalformedMicrodata, "chum: parse fetched object", err)
	}
	if fs.imp.isRejectedType(obj.Type) {
		return errcode.New(errcode.RejectedType, "chum: rejected object type").WithDetail("type", obj.Type)
	}
	if err := fs.assertNoHoles(text); err != nil {
		return err
	}
	if err := fs.imp.Store.WriteText(text, hash); err != nil {
		return err
	}
	fs.imp.countImported()
	return nil
}

func (fs *fetchState) fetchBlob(ctx context.Context, hash core.Hash) error {
	if fs.imp.Store.Exists(hash, core.AreaObjects) {
		return nil
	}
	data, err := fs.imp.Client.GetBlob(ctx, hash, encodingBinary)
	if err != nil {
		return err
	}
	if core.Hash(sha256.Sum256(data)) != hash {
		return errcode.New(errcode.HashMismatch, "chum: fetched blob hash mismatch").WithDetail("hash", hash.String())
	}
	stream, err := fs.imp.Store.CreateWriteStream(encodingBinary)
	if err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		_ = stream.Cancel()
		return err
	}
	if _, err := stream.End(); err != nil {
		return err
	}
	fs.imp.countImported()
	return nil
}

func (fs *fetchState) fetchClob(ctx context.Context, hash core.Hash) error {
	if fs.imp.Store.Exists(hash, core.AreaObjects) {
		return nil
	}
	data, err := fs.imp.Client.GetBlob(ctx, hash, encodingUTF8)
	if err != nil {
		return err
	}
	if core.Hash(sha256.Sum256(data)) != hash {
		return errcode.New(errcode.HashMismatch, "chum: fetched clob hash mismatch").WithDetail("hash", hash.String())
	}
	if err := fs.imp.Store.WriteText(string(data), hash); err != nil {
		return err
	}
	fs.imp.countImported()
	return nil
}

func (fs *fetchState) fetchId(ctx context.Context, idHash core.IdHash) error {
	if fs.fetchedIds[idHash] {
		return nil
	}
	if _, ok, _ := fs.imp.Store.ReadVHead(idHash); ok {
		fs.fetchedIds[idHash] = true
		return nil
	}
	text, err := fs.imp.Client.GetIdObject(ctx, idHash)
	if err != nil {
		return err
	}
	if core.IdHash(sha256.Sum256([]byte(text))) != idHash {
		return errcode.New(errcode.HashMismatch, "chum: fetched id-object hash mismatch").WithDetail("idHash", idHash.String())
	}
	children, err := fs.imp.Client.GetIdObjectChildren(ctx, idHash)
	if err != nil {
		return err
	}
	if err := fs.fetchChildrenReversed(ctx, children); err != nil {
		return err
	}
	if err := fs.assertNoHoles(text); err != nil {
		return err
	}
	// The id-projection text itself is never persisted (§3): only its
	// children needed storing, done above.
	fs.fetchedIds[idHash] = true
	fs.imp.countImported()
	return nil
}

// assertNoHoles enforces "every reference in it appears in the already-
// fetched prefix of the child list" (§4.9): every hash-link scanned out of
// text must already be present, either in the object store (content hashes)
// or in this call's fetchedIds / the local vhead table (id-hashes).
func (fs *fetchState) assertNoHoles(text string) error {
	byField, err := microdata.FindAllHashLinks(text)
	if err != nil {
		return err
	}
	for _, occs := range byField {
		for _, o := range occs {
			if o.LinkKind == core.LinkId {
				if fs.fetchedIds[o.IdHash] {
					continue
				}
				if _, ok, _ := fs.imp.Store.ReadVHead(o.IdHash); ok {
					fs.fetchedIds[o.IdHash] = true
					continue
				}
				return errcode.New(errcode.ChildConsistency, "chum: id-hash reference missing from fetched prefix").
					WithDetail("idHash", o.IdHash.String())
			}
			if !fs.imp.Store.Exists(o.Hash, core.AreaObjects) {
				return errcode.New(errcode.ChildConsistency, "chum: reference missing from fetched prefix").
					WithDetail("hash", o.Hash.String())
			}
		}
	}
	return nil
}

// fetchObjectWithChildren implements §4.9's algorithm for an unversioned or
// versioned concrete-object root: fetch and store every child deepest-first,
// then the root itself, only after its whole child list is present.
func (imp *Importer) fetchObjectWithChildren(ctx context.Context, hash core.Hash) error {
	if imp.Store.Exists(hash, core.AreaObjects) {
		return nil
	}
	children, err := imp.Client.GetObjectChildren(ctx, hash)
	if err != nil {
		return err
	}
	fs := newFetchState(imp)
	if err := fs.fetchChildrenReversed(ctx, children); err != nil {
		return err
	}
	text, err := imp.Client.GetObject(ctx, hash)
	if err != nil {
		return err
	}
	return fs.verifyAndStoreObject(hash, text)
}

// fetchIdObjectWithChildren is fetchObjectWithChildren's id-root
// counterpart: the id-projection itself is never persisted, only verified
// and used to validate its children.
func (imp *Importer) fetchIdObjectWithChildren(ctx context.Context, idHash core.IdHash) error {
	fs := newFetchState(imp)
	return fs.fetchId(ctx, idHash)
}

// fetchVersionNode fetches and validates one version_node accessible root,
// deferring the node's own persistence until the integration check of
// §4.9's last paragraph passes.
func (imp *Importer) fetchVersionNode(ctx context.Context, root AccessibleObject) (*versiongraph.Node, error) {
	if imp.Store.Exists(root.Node, core.AreaObjects) {
		text, err := imp.Store.ReadText(root.Node)
		if err != nil {
			return nil, err
		}
		obj, _, err := microdata.Parse(text, imp.Registry)
		if err != nil {
			return nil, err
		}
		node, err := versiongraph.Decode(obj)
		if err != nil {
			return nil, err
		}
		node.Hash = root.Node
		return node, nil
	}

	children, err := imp.Client.GetObjectChildren(ctx, root.Node)
	if err != nil {
		return nil, err
	}
	fs := newFetchState(imp)
	if err := fs.fetchChildrenReversed(ctx, children); err != nil {
		return nil, err
	}

	text, err := imp.Client.GetObject(ctx, root.Node)
	if err != nil {
		return nil, err
	}
	if core.Hash(sha256.Sum256([]byte(text))) != root.Node {
		return nil, errcode.New(errcode.HashMismatch, "chum: fetched version-node hash mismatch").WithDetail("hash", root.Node.String())
	}
	obj, _, err := microdata.Parse(text, imp.Registry)
	if err != nil {
		return nil, errcode.Wrap(errcode.MalformedMicrodata, "chum: parse fetched version-node", err)
	}
	if obj.Type != versiongraph.RecipeName {
		return nil, errcode.New(errcode.TypeMismatch, "chum: accessible root declared version_node for a non-version-node object").
			WithDetail("type", obj.Type)
	}
	node, err := versiongraph.Decode(obj)
	if err != nil {
		return nil, err
	}
	node.Hash = root.Node
	if err := fs.assertNoHoles(text); err != nil {
		return nil, err
	}

	dataText, err := imp.Store.ReadText(node.Data)
	if err != nil {
		return nil, errcode.Wrap(errcode.ChildConsistency, "chum: version-node data object missing after fetch", err)
	}
	dataObj, dataRec, err := microdata.Parse(dataText, imp.Registry)
	if err != nil {
		return nil, errcode.Wrap(errcode.ChildConsistency, "chum: parse version-node data object", err)
	}
	dataIdHash, _, err := microdata.IdObjectHash(dataObj, dataRec)
	if err != nil {
		return nil, err
	}
	if dataIdHash != root.DataIdHash || dataObj.Type != root.DataType {
		return nil, errcode.New(errcode.ChildConsistency, "chum: version-node data does not match declared dataIdHash/dataType").
			WithDetail("node", root.Node.String())
	}

	if err := imp.Store.WriteText(text, root.Node); err != nil {
		return nil, err
	}
	imp.countImported()
	return node, nil
}

// processVersionNodeGroup implements §4.9 step 2c for one dataIdHash group:
// fetch every member, take the deepest, and merge it against the current
// local head (mode = REMOTE) if it differs.
func (imp *Importer) processVersionNodeGroup(ctx context.Context, dataIdHash core.IdHash, roots []AccessibleObject) {
	nodes := make([]*versiongraph.Node, 0, len(roots))
	var dataType string
	for _, root := range roots {
		dataType = root.DataType
		node, err := imp.fetchVersionNode(ctx, root)
		if err != nil {
			imp.reportError(err)
			continue
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		return
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Depth < nodes[j].Depth })
	deepest := nodes[len(nodes)-1]

	currentHead, ok, err := imp.Store.ReadVHead(dataIdHash)
	if err != nil {
		imp.reportError(err)
		return
	}
	if !ok {
		if err := imp.Store.WriteVHead(dataIdHash, deepest.Hash); err != nil {
			imp.reportError(err)
		}
		return
	}
	if currentHead == deepest.Hash {
		return
	}

	if imp.MergeCoordinatorFor == nil {
		imp.reportError(errcode.New(errcode.Internal, "chum: no merge coordinator factory configured"))
		return
	}
	coord, err := imp.MergeCoordinatorFor(dataType)
	if err != nil {
		imp.reportError(err)
		return
	}
	result, err := coord.Merge(dataIdHash, currentHead, deepest.Hash, merge.ModeRemote)
	if err != nil {
		imp.reportError(err)
		return
	}
	if imp.Metrics != nil {
		imp.Metrics.MergeCount.Inc()
	}
	if err := imp.Store.WriteVHead(dataIdHash, result.NewNodeHash); err != nil {
		imp.reportError(err)
	}
}
