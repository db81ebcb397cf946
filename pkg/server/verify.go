package server

import (
	"time"

	"github.com/cuemby/warden/pkg/kerr"
	"github.com/cuemby/warden/pkg/types"
)

// Reindex drops and rebuilds every posting list from the current
// id2entry contents, the operator-triggered counterpart to the backend's
// own index maintenance (§4.1 reindex).
func (qs *QueryServer) Reindex() error {
	rtx := qs.read()
	return qs.backend.Reindex(rtx.Sch)
}

// Verify cross-checks the index against id2entry and runs every plugin's
// own consistency check, merging both into one report rather than
// stopping at the first divergence (§4.1 verify, §4.5 Verify hook).
func (qs *QueryServer) Verify() (kerr.ConsistencyErrors, error) {
	rtx := qs.read()
	errs, err := qs.backend.Verify(rtx.Sch)
	if err != nil {
		return nil, err
	}
	cid := types.NewCid(qs.serverID, qs.domainID, time.Now())
	errs = append(errs, qs.pipe.RunVerify(pluginCtx(&writeTxn{ReadTxn: rtx, Cid: cid}, true))...)
	return errs, nil
}
