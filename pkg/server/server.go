// Package server implements QueryServer: the composition root that owns
// Backend, Schema, and AccessControls, mediates every operation through
// the plugin pipeline and audit scoping, and uses a bootstrap-only raft
// group to give each write a durable, ordered tick before minting its Cid
// (§4.7). It is the only package that calls pkg/access and pkg/plugin
// together, since only here is the full write pipeline assembled.
package server

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/access"
	"github.com/cuemby/warden/pkg/audit"
	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/cache"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/plugin"
	"github.com/cuemby/warden/pkg/schema"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/cuemby/warden/pkg/value"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

// Config configures Open.
type Config struct {
	NodeID      string
	BindAddr    string
	DataDir     string
	CacheConfig cache.Config
}

// QueryServer is the composition described in §4.7: a shared Backend, a
// hot-swappable Schema/AccessControls pair, the fixed plugin pipeline, and
// the server/domain identity every Cid is tagged with.
type QueryServer struct {
	nodeID  string
	backend *backend.Backend
	store   storage.Store
	raft    *raft.Raft
	fsm     *WardenFSM
	broker  *audit.Broker
	pipe    *plugin.Pipeline

	snapMu sync.RWMutex
	sch    *schema.Schema
	acp    *access.AccessControls

	writeMu sync.Mutex

	serverID uuid.UUID
	domainID uuid.UUID
}

// Open brings up storage, the bootstrap raft group, and the plugin/audit
// machinery, loading (or minting, on a fresh directory) the server and
// domain identities from db_meta.
func Open(cfg Config) (*QueryServer, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fsm := NewWardenFSM()
	r, err := bootstrapRaft(cfg.NodeID, cfg.BindAddr, cfg.DataDir, fsm)
	if err != nil {
		return nil, fmt.Errorf("bootstrap raft: %w", err)
	}

	broker := audit.NewBroker()
	broker.Start()

	qs := &QueryServer{
		nodeID:  cfg.NodeID,
		backend: backend.New(store, cfg.CacheConfig),
		store:   store,
		raft:    r,
		fsm:     fsm,
		broker:  broker,
		pipe:    plugin.Default(),
		sch:     schema.New(),
		acp:     access.New(),
	}

	qs.serverID, err = loadOrMintUUID(store, "s_uuid")
	if err != nil {
		return nil, fmt.Errorf("load server uuid: %w", err)
	}
	qs.domainID, err = loadOrMintUUID(store, "d_uuid")
	if err != nil {
		return nil, fmt.Errorf("load domain uuid: %w", err)
	}

	log.WithComponent("server").Info().Str("server_id", qs.serverID.String()).Msg("query server opened")
	return qs, nil
}

func loadOrMintUUID(store storage.Store, key string) (uuid.UUID, error) {
	raw, found, err := store.GetMeta(key)
	if err != nil {
		return uuid.Nil, err
	}
	if found {
		return uuid.Parse(string(raw))
	}
	u := uuid.New()
	err = store.WriteTxn(func(txn storage.Txn) error {
		return txn.PutMeta(key, []byte(u.String()))
	})
	return u, err
}

// Close shuts down raft, the audit broker, and the underlying store.
func (qs *QueryServer) Close() error {
	qs.broker.Stop()
	if err := qs.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("shutdown raft: %w", err)
	}
	return qs.store.Close()
}

// Broker exposes the audit broker for subscribers (e.g. cmd/wardend).
func (qs *QueryServer) Broker() *audit.Broker { return qs.broker }

// ReadTxn bundles the snapshot every read-only operation evaluates
// against: many of these can be live concurrently (§4.7 "read() -> many
// concurrent").
type ReadTxn struct {
	Sch     *schema.Schema
	ACP     *access.AccessControls
	Backend *backend.Backend
}

func (qs *QueryServer) read() *ReadTxn {
	qs.snapMu.RLock()
	defer qs.snapMu.RUnlock()
	return &ReadTxn{Sch: qs.sch, ACP: qs.acp, Backend: qs.backend}
}

// writeTxn bundles a read snapshot with the Cid a single write operation
// mints, plus the changed_schema/changed_acp flags the commit sequence
// checks (§4.7).
type writeTxn struct {
	*ReadTxn
	Cid           types.Cid
	changedSchema bool
	changedACP    bool
}

// beginWrite acquires the server's exclusive write section and mints a Cid
// for the operation, durably ordered by a raft tick. Callers must call
// qs.writeMu.Unlock() via the returned unlock func exactly once.
func (qs *QueryServer) beginWrite(now time.Time) (*writeTxn, func(), error) {
	qs.writeMu.Lock()
	if err := qs.tick(); err != nil {
		qs.writeMu.Unlock()
		return nil, nil, err
	}
	wtx := &writeTxn{ReadTxn: qs.read(), Cid: types.NewCid(qs.serverID, qs.domainID, now)}
	return wtx, func() { qs.writeMu.Unlock() }, nil
}

// tick commits a no-op raft log entry, giving the upcoming write a
// durable, monotonically ordered position before anything touches
// pkg/backend. The payload carries no command: nothing here is replayed
// on restore.
func (qs *QueryServer) tick() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	future := qs.raft.Apply([]byte("tick"), 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	if qs.raft.State() == raft.Leader {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	return nil
}

func pluginCtx(wtx *writeTxn, internal bool) *plugin.Context {
	return &plugin.Context{Cid: wtx.Cid, Internal: internal, Sch: wtx.Sch, Dir: wtx.Backend}
}

// classesTouch reports whether any entry in cands carries a class value in
// names: a schema/ACP-relevant write is one whose class set contains
// attributetype or classtype, and by the same construction here, any of
// the four acp_* classes.
func classesTouch(cands []*entry.Entry, names ...string) bool {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	for _, e := range cands {
		for _, v := range e.Get("class") {
			if want[value.Normalise(v)] {
				return true
			}
		}
	}
	return false
}

var schemaClasses = []string{"classtype", "attributetype"}
var acpClasses = []string{"acp_search", "acp_create", "acp_modify", "acp_delete"}

// maybeReload runs the commit sequence's steps 1-2 when wtx flagged a
// schema- or ACP-relevant write, swapping in the freshly built snapshots
// atomically so a concurrent reader never observes half of a reload
// (§4.7 commit sequence, §4.3).
func (qs *QueryServer) maybeReload(wtx *writeTxn) error {
	if !wtx.changedSchema && !wtx.changedACP {
		return nil
	}

	scope := qs.broker.Begin("reload", wtx.Cid.String())
	defer func() { scope.Close(nil) }()

	newSch := wtx.Sch
	if wtx.changedSchema {
		classtypes, err := qs.backend.Search(wtx.Sch, filter.NewEq("class", value.NewUTF8Insensitive("classtype").Partial()))
		if err != nil {
			return err
		}
		attributetypes, err := qs.backend.Search(wtx.Sch, filter.NewEq("class", value.NewUTF8Insensitive("attributetype").Partial()))
		if err != nil {
			return err
		}
		fresh, err := schema.Reload(classtypes, attributetypes)
		if err != nil {
			return err
		}
		for _, e := range classtypes {
			if err := fresh.ValidateEntry(e); err != nil {
				return kerr.ConsistencyErrors{{Component: "schema", Detail: err.Error()}}
			}
		}
		newSch = fresh
	}

	if wtx.changedSchema || wtx.changedACP {
		rules, err := qs.reloadAccessControls(newSch)
		if err != nil {
			return err
		}
		newACP := access.New()
		newACP.SetRules(rules)

		qs.snapMu.Lock()
		qs.sch = newSch
		qs.acp = newACP
		qs.snapMu.Unlock()
	} else {
		qs.snapMu.Lock()
		qs.sch = newSch
		qs.snapMu.Unlock()
	}
	return nil
}

// Search returns every entry f matches, ACP-filtered unless internal
// (§4.4 "On search", §4.7 data flow).
func (qs *QueryServer) Search(requester *entry.Entry, internal bool, f *filter.Filter) ([]*entry.Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "search")

	rtx := qs.read()
	all, err := rtx.Backend.Search(rtx.Sch, f)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("search", "error").Inc()
		return nil, err
	}
	if internal {
		metrics.OperationsTotal.WithLabelValues("search", "success").Inc()
		return all, nil
	}
	out := rtx.ACP.SearchFilterEntries(requester, all)
	metrics.OperationsTotal.WithLabelValues("search", "success").Inc()
	return out, nil
}

// SearchReduced is Search followed by ACP attribute projection, producing
// Reduced entries fit for external emission (§4.4
// search_filter_entry_attributes).
func (qs *QueryServer) SearchReduced(requester *entry.Entry, f *filter.Filter) ([]*entry.Entry, error) {
	rtx := qs.read()
	all, err := rtx.Backend.Search(rtx.Sch, f)
	if err != nil {
		return nil, err
	}
	return rtx.ACP.SearchFilterEntryAttributes(requester, all), nil
}

// Exists resolves f without fetching entries (§4.1 exists).
func (qs *QueryServer) Exists(f *filter.Filter) (bool, error) {
	rtx := qs.read()
	return rtx.Backend.Exists(rtx.Sch, f)
}

// CloneValue resolves input to a reference value: a well-formed uuid
// string parses directly, anything else is looked up by name; an
// unresolvable name yields the "does not exist" sentinel rather than an
// error (§8 S3).
func (qs *QueryServer) CloneValue(input string) value.Value {
	if u, err := uuid.Parse(input); err == nil {
		return value.NewReferenceUUID(u)
	}
	if v, found, err := qs.backend.ResolveName(input); err == nil && found {
		return value.NewReferenceUUID(v.UUID)
	}
	return value.NewReferenceUUID(types.NilUUID)
}

// Create validates, plugin-processes, and persists candidates in one
// write, following §4.7's data flow: ACP gate, invalidate-with-cid,
// pre-transform plugins, schema validate, pre-op plugins, backend write,
// post-op plugins, conditional reload.
func (qs *QueryServer) Create(requester *entry.Entry, internal bool, candidates []*entry.Entry) ([]*entry.Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "create")

	if len(candidates) == 0 {
		return nil, kerr.ErrEmptyRequest
	}

	wtx, unlock, err := qs.beginWrite(time.Now())
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	defer unlock()

	scope := qs.broker.Begin("create", wtx.Cid.String())
	var opErr error
	defer func() { scope.Close(opErr) }()

	if !internal {
		accessScope := scope.Child("access:evaluate")
		accessTimer := metrics.NewTimer()
		opErr = wtx.ACP.CreateAllowOperation(requester, candidates)
		accessTimer.ObserveDuration(metrics.AccessEvalDuration)
		accessScope.Close(opErr)
		if opErr != nil {
			metrics.AccessDeniedTotal.Inc()
			metrics.OperationsTotal.WithLabelValues("create", "denied").Inc()
			return nil, opErr
		}
	}

	invalidated := make([]*entry.Entry, len(candidates))
	for i, c := range candidates {
		invalidated[i], opErr = c.Invalidate(wtx.Cid)
		if opErr != nil {
			return nil, opErr
		}
	}

	ctx := pluginCtx(wtx, internal)
	pluginScope := scope.Child("plugin:pre_create_transform")
	opErr = qs.pipe.RunPreCreateTransform(ctx, invalidated)
	pluginScope.Close(opErr)
	if opErr != nil {
		return nil, opErr
	}

	validated := make([]*entry.Entry, len(invalidated))
	for i, c := range invalidated {
		validated[i], opErr = c.Validate(func(e *entry.Entry) error { return wtx.Sch.ValidateEntry(e) })
		if opErr != nil {
			return nil, opErr
		}
	}

	pluginScope = scope.Child("plugin:pre_create")
	opErr = qs.pipe.RunPreCreate(ctx, validated)
	pluginScope.Close(opErr)
	if opErr != nil {
		return nil, opErr
	}

	sealed := make([]*entry.Entry, len(validated))
	for i, c := range validated {
		sealed[i], opErr = c.Seal()
		if opErr != nil {
			return nil, opErr
		}
	}

	backendScope := scope.Child("backend:create")
	var committed []*entry.Entry
	committed, opErr = wtx.Backend.Create(wtx.Sch, sealed)
	backendScope.Close(opErr)
	if opErr != nil {
		metrics.OperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, opErr
	}

	pluginScope = scope.Child("plugin:post_create")
	opErr = qs.pipe.RunPostCreate(ctx, committed)
	pluginScope.Close(opErr)
	if opErr != nil {
		return nil, opErr
	}

	wtx.changedSchema = classesTouch(committed, schemaClasses...) || classesTouch(candidates, schemaClasses...)
	wtx.changedACP = classesTouch(committed, acpClasses...) || classesTouch(candidates, acpClasses...)
	if opErr = qs.maybeReload(wtx); opErr != nil {
		return nil, opErr
	}

	metrics.OperationsTotal.WithLabelValues("create", "success").Inc()
	return committed, nil
}
