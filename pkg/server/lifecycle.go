package server

import (
	"time"

	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/value"
)

// Delete soft-deletes every entry f matches: gated by the Delete ACP rule
// set, it marks class += recycled and persists through the modify half of
// the write path, not a hard removal (§4.6 delete). Only purge_tombstones
// ever removes an id2entry row.
func (qs *QueryServer) Delete(requester *entry.Entry, internal bool, f *filter.Filter) ([]*entry.Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "delete")

	wtx, unlock, err := qs.beginWrite(time.Now())
	if err != nil {
		return nil, err
	}
	defer unlock()

	scope := qs.broker.Begin("delete", wtx.Cid.String())
	var opErr error
	defer func() { scope.Close(opErr) }()

	var pre []*entry.Entry
	pre, opErr = wtx.Backend.Search(wtx.Sch, f)
	if opErr != nil {
		return nil, opErr
	}
	if !internal {
		pre = wtx.ACP.SearchFilterEntries(requester, pre)
	}
	if len(pre) == 0 {
		if internal {
			metrics.OperationsTotal.WithLabelValues("delete", "noop").Inc()
			return nil, nil
		}
		opErr = kerr.ErrNoMatchingEntries
		return nil, opErr
	}

	if !internal {
		opErr = wtx.ACP.DeleteAllowOperation(requester, pre)
		if opErr != nil {
			metrics.AccessDeniedTotal.Inc()
			metrics.OperationsTotal.WithLabelValues("delete", "denied").Inc()
			return nil, opErr
		}
	}

	pairs, err2 := qs.buildModifyPairs(wtx, pre, func(e *entry.Entry) { e.ToRecycled(wtx.Cid) })
	if err2 != nil {
		opErr = err2
		return nil, opErr
	}

	ctx := pluginCtx(wtx, internal)
	opErr = qs.pipe.RunPreModify(ctx, pairs)
	if opErr != nil {
		return nil, opErr
	}
	opErr = wtx.Backend.Modify(wtx.Sch, pairs)
	if opErr != nil {
		metrics.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return nil, opErr
	}
	opErr = qs.pipe.RunPostModify(ctx, pairs)
	if opErr != nil {
		return nil, opErr
	}

	post := make([]*entry.Entry, len(pairs))
	for i, p := range pairs {
		post[i] = p.Post
	}
	wtx.changedSchema = classesTouch(post, schemaClasses...) || classesTouch(pre, schemaClasses...)
	wtx.changedACP = classesTouch(post, acpClasses...) || classesTouch(pre, acpClasses...)
	if opErr = qs.maybeReload(wtx); opErr != nil {
		return nil, opErr
	}

	metrics.OperationsTotal.WithLabelValues("delete", "success").Inc()
	metrics.PurgedTotal.WithLabelValues("recycled_manual").Add(0)
	return post, nil
}

// ReviveRecycled removes class=recycled from every entry f matches and
// restores each revived entry's direct group memberships by re-adding it
// to the member set of every still-live group named in its directmemberof
// (§4.6 revive_recycled); a directmemberof group that is itself recycled
// or tombstoned is left alone rather than resurrected by proxy. Transitive
// memberof is left to the memberof plugin's post_modify recomputation,
// triggered by the revived entry's own recycled->live class transition in
// this same write.
func (qs *QueryServer) ReviveRecycled(requester *entry.Entry, internal bool, f *filter.Filter) ([]*entry.Entry, error) {
	wtx, unlock, err := qs.beginWrite(time.Now())
	if err != nil {
		return nil, err
	}
	defer unlock()

	scope := qs.broker.Begin("revive_recycled", wtx.Cid.String())
	var opErr error
	defer func() { scope.Close(opErr) }()

	var pre []*entry.Entry
	pre, opErr = wtx.Backend.Search(wtx.Sch, f)
	if opErr != nil {
		return nil, opErr
	}
	if !internal {
		pre = wtx.ACP.SearchFilterEntries(requester, pre)
		if opErr = wtx.ACP.ModifyAllowOperation(requester, pre, []string{"class"}); opErr != nil {
			metrics.AccessDeniedTotal.Inc()
			return nil, opErr
		}
	}
	if len(pre) == 0 {
		return nil, nil
	}

	revivedPairs, err2 := qs.buildModifyPairs(wtx, pre, func(e *entry.Entry) { e.Revive(wtx.Cid) })
	if err2 != nil {
		opErr = err2
		return nil, opErr
	}

	groupPairs, err3 := qs.restoreDirectMemberships(wtx, revivedPairs)
	if err3 != nil {
		opErr = err3
		return nil, opErr
	}

	all := append(revivedPairs, groupPairs...)
	ctx := pluginCtx(wtx, internal)
	if opErr = qs.pipe.RunPreModify(ctx, all); opErr != nil {
		return nil, opErr
	}
	if opErr = wtx.Backend.Modify(wtx.Sch, all); opErr != nil {
		return nil, opErr
	}
	if opErr = qs.pipe.RunPostModify(ctx, all); opErr != nil {
		return nil, opErr
	}

	post := make([]*entry.Entry, len(revivedPairs))
	for i, p := range revivedPairs {
		post[i] = p.Post
	}
	return post, nil
}

// restoreDirectMemberships builds, for every revived entry's
// directmemberof value, a ModifyPair on the corresponding group adding the
// revived entry back to the group's member set.
func (qs *QueryServer) restoreDirectMemberships(wtx *writeTxn, revived []backend.ModifyPair) (groupPairs []backend.ModifyPair, err error) {
	for _, p := range revived {
		u := p.Post.UUID()
		for _, dm := range p.Post.Get("directmemberof") {
			groups, serr := wtx.Backend.Search(wtx.Sch, filter.NewEq("uuid", value.NewUUID(dm.UUID).Partial()))
			if serr != nil {
				return nil, serr
			}
			for _, g := range groups {
				if g.HasClass("recycled") || g.HasClass("tombstone") {
					// The group itself hasn't been revived: re-adding
					// membership to it here would contradict the recompute
					// this same write's memberof post-hook is about to run,
					// which treats a non-live group as contributing no edges.
					continue
				}
				working, ierr := g.Invalidate(wtx.Cid)
				if ierr != nil {
					return nil, ierr
				}
				working.Add("member", value.NewReferenceUUID(u))
				valid, verr := working.Validate(func(e *entry.Entry) error { return wtx.Sch.ValidateEntry(e) })
				if verr != nil {
					return nil, verr
				}
				sealed, serr2 := valid.Seal()
				if serr2 != nil {
					return nil, serr2
				}
				groupPairs = append(groupPairs, backend.ModifyPair{Pre: g, Post: sealed})
			}
		}
	}
	return groupPairs, nil
}

// PurgeRecycled converts every recycled entry older than maxAge (measured
// against now) into a tombstone (§4.6 purge_recycled). Filter has no range
// operator, so the age cut is applied in Go over the class=recycled
// result set rather than expressed as a filter leaf.
func (qs *QueryServer) PurgeRecycled(now time.Time, maxAgeSecs int64) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PurgeCycleDuration, "recycled")

	wtx, unlock, err := qs.beginWrite(now)
	if err != nil {
		return 0, err
	}
	defer unlock()

	scope := qs.broker.Begin("purge_recycled", wtx.Cid.String())
	var opErr error
	defer func() { scope.Close(opErr) }()

	var recycled []*entry.Entry
	recycled, opErr = wtx.Backend.Search(wtx.Sch, filter.NewEq("class", value.NewUTF8Insensitive("recycled").Partial()))
	if opErr != nil {
		return 0, opErr
	}
	horizon := wtx.Cid.SubSecs(maxAgeSecs)
	var due []*entry.Entry
	for _, e := range recycled {
		if v, ok := e.GetOne("last_modified_cid"); ok && v.Cid.Before(horizon) {
			due = append(due, e)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	pairs, err2 := qs.buildModifyPairs(wtx, due, func(e *entry.Entry) { e.ToTombstone(wtx.Cid) })
	if err2 != nil {
		opErr = err2
		return 0, opErr
	}

	ctx := pluginCtx(wtx, true)
	if opErr = qs.pipe.RunPreModify(ctx, pairs); opErr != nil {
		return 0, opErr
	}
	if opErr = wtx.Backend.Modify(wtx.Sch, pairs); opErr != nil {
		return 0, opErr
	}
	if opErr = qs.pipe.RunPostModify(ctx, pairs); opErr != nil {
		return 0, opErr
	}

	metrics.PurgedTotal.WithLabelValues("recycled").Add(float64(len(due)))
	return len(due), nil
}

// PurgeTombstones hard-deletes every tombstone older than maxAge,
// triggering the pre/post_delete pipeline (refint's dangling-reference
// cleanup applies here, since this is the point an entry actually leaves
// id2entry) (§4.6 purge_tombstones).
func (qs *QueryServer) PurgeTombstones(now time.Time, maxAgeSecs int64) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PurgeCycleDuration, "tombstone")

	wtx, unlock, err := qs.beginWrite(now)
	if err != nil {
		return 0, err
	}
	defer unlock()

	scope := qs.broker.Begin("purge_tombstones", wtx.Cid.String())
	var opErr error
	defer func() { scope.Close(opErr) }()

	var tombstones []*entry.Entry
	tombstones, opErr = wtx.Backend.Search(wtx.Sch, filter.NewEq("class", value.NewUTF8Insensitive("tombstone").Partial()))
	if opErr != nil {
		return 0, opErr
	}
	horizon := wtx.Cid.SubSecs(maxAgeSecs)
	var due []*entry.Entry
	for _, e := range tombstones {
		if v, ok := e.GetOne("last_modified_cid"); ok && v.Cid.Before(horizon) {
			due = append(due, e)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	ctx := pluginCtx(wtx, true)
	if opErr = qs.pipe.RunPreDelete(ctx, due); opErr != nil {
		return 0, opErr
	}
	if opErr = wtx.Backend.Delete(wtx.Sch, due); opErr != nil {
		return 0, opErr
	}
	if opErr = qs.pipe.RunPostDelete(ctx, due); opErr != nil {
		return 0, opErr
	}

	metrics.PurgedTotal.WithLabelValues("tombstone").Add(float64(len(due)))
	return len(due), nil
}

// RenameDomain sets domain_name on the domain_info entry, triggering the
// domain plugin's SPN regeneration cascade via the usual post_modify hook
// (§4.7 "Domain rename").
func (qs *QueryServer) RenameDomain(newName string) error {
	wtx, unlock, err := qs.beginWrite(time.Now())
	if err != nil {
		return err
	}
	defer unlock()

	scope := qs.broker.Begin("rename_domain", wtx.Cid.String())
	var opErr error
	defer func() { scope.Close(opErr) }()

	var domains []*entry.Entry
	domains, opErr = wtx.Backend.Search(wtx.Sch, filter.NewEq("class", value.NewUTF8Insensitive("domain_info").Partial()))
	if opErr != nil {
		return opErr
	}
	if len(domains) == 0 {
		opErr = kerr.ErrNoMatchingEntries
		return opErr
	}

	pairs, err2 := qs.buildModifyPairs(wtx, domains, func(e *entry.Entry) {
		e.Set("domain_name", value.NewUTF8Insensitive(newName))
	})
	if err2 != nil {
		opErr = err2
		return opErr
	}

	ctx := pluginCtx(wtx, true)
	if opErr = qs.pipe.RunPreModify(ctx, pairs); opErr != nil {
		return opErr
	}
	if opErr = wtx.Backend.Modify(wtx.Sch, pairs); opErr != nil {
		return opErr
	}
	opErr = qs.pipe.RunPostModify(ctx, pairs)
	return opErr
}
