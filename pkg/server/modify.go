package server

import (
	"time"

	"github.com/cuemby/warden/pkg/backend"
	"github.com/cuemby/warden/pkg/entry"
	"github.com/cuemby/warden/pkg/filter"
	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
)

// Modify finds f's matching entries, applies mutate to each, and persists
// the result through the modify half of the plugin pipeline (§4.7 data
// flow, §4.1 modify). Internal-origin modifies that match nothing succeed
// as a no-op; external-origin modifies that match nothing fail with
// ErrNoMatchingEntries (§7).
func (qs *QueryServer) Modify(requester *entry.Entry, internal bool, f *filter.Filter, touchedAttrs []string, mutate func(*entry.Entry)) ([]*entry.Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "modify")

	wtx, unlock, err := qs.beginWrite(time.Now())
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("modify", "error").Inc()
		return nil, err
	}
	defer unlock()

	scope := qs.broker.Begin("modify", wtx.Cid.String())
	var opErr error
	defer func() { scope.Close(opErr) }()

	searchScope := scope.Child("backend:search")
	var pre []*entry.Entry
	pre, opErr = wtx.Backend.Search(wtx.Sch, f)
	searchScope.Close(opErr)
	if opErr != nil {
		return nil, opErr
	}
	if !internal {
		pre = wtx.ACP.SearchFilterEntries(requester, pre)
	}
	if len(pre) == 0 {
		if internal {
			metrics.OperationsTotal.WithLabelValues("modify", "noop").Inc()
			return nil, nil
		}
		opErr = kerr.ErrNoMatchingEntries
		metrics.OperationsTotal.WithLabelValues("modify", "error").Inc()
		return nil, opErr
	}

	if !internal {
		accessScope := scope.Child("access:evaluate")
		accessTimer := metrics.NewTimer()
		opErr = wtx.ACP.ModifyAllowOperation(requester, pre, touchedAttrs)
		accessTimer.ObserveDuration(metrics.AccessEvalDuration)
		accessScope.Close(opErr)
		if opErr != nil {
			metrics.AccessDeniedTotal.Inc()
			metrics.OperationsTotal.WithLabelValues("modify", "denied").Inc()
			return nil, opErr
		}
	}

	pairs, opErr2 := qs.buildModifyPairs(wtx, pre, mutate)
	if opErr2 != nil {
		opErr = opErr2
		return nil, opErr
	}

	ctx := pluginCtx(wtx, internal)
	pluginScope := scope.Child("plugin:pre_modify")
	opErr = qs.pipe.RunPreModify(ctx, pairs)
	pluginScope.Close(opErr)
	if opErr != nil {
		return nil, opErr
	}

	backendScope := scope.Child("backend:modify")
	opErr = wtx.Backend.Modify(wtx.Sch, pairs)
	backendScope.Close(opErr)
	if opErr != nil {
		metrics.OperationsTotal.WithLabelValues("modify", "error").Inc()
		return nil, opErr
	}

	pluginScope = scope.Child("plugin:post_modify")
	opErr = qs.pipe.RunPostModify(ctx, pairs)
	pluginScope.Close(opErr)
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

	metrics.OperationsTotal.WithLabelValues("modify", "success").Inc()
	log.WithCid(wtx.Cid.String()).Debug().Int("count", len(post)).Msg("modify committed")
	return post, nil
}

// buildModifyPairs runs pre through invalidate->mutate->validate->seal for
// every candidate, the typestate sequence a modify's post-image must
// follow (§3 Entry transitions).
func (qs *QueryServer) buildModifyPairs(wtx *writeTxn, pre []*entry.Entry, mutate func(*entry.Entry)) ([]backend.ModifyPair, error) {
	pairs := make([]backend.ModifyPair, len(pre))
	for i, p := range pre {
		working, err := p.Invalidate(wtx.Cid)
		if err != nil {
			return nil, err
		}
		mutate(working)
		valid, err := working.Validate(func(e *entry.Entry) error { return wtx.Sch.ValidateEntry(e) })
		if err != nil {
			return nil, err
		}
		sealed, err := valid.Seal()
		if err != nil {
			return nil, err
		}
		pairs[i] = backend.ModifyPair{Pre: p, Post: sealed}
	}
	return pairs, nil
}
