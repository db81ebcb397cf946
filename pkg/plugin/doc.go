/*
Package plugin sits between pkg/server and pkg/backend: pkg/server builds
a candidate set for a create/modify/delete, runs it through
plugin.Pipeline, and only calls into pkg/backend once every hook in the
fixed order has accepted the write. A hook that returns an error aborts
the whole operation — pkg/server never calls pkg/backend for a batch a
plugin rejected, which is where this package's "aborts the txn" property
actually lives, since pkg/plugin has no txn handle of its own.

post_* hooks are the exception: they run after pkg/backend has already
committed the triggering write, and repair other entries (refint's
dangling-reference cleanup, memberof's graph recompute, spn's
resynthesis) via their own pkg/backend.Modify calls through the Directory
interface. Those calls are ordinary writes, serialized by the same
backend write lock as everything else — there is no cross-operation
atomicity between the triggering write and its post-hook repairs beyond
that serialization.

One file per plugin (base.go, protected.go, refint.go, memberof.go,
spn.go, domain.go, attruniq.go); pipeline.go wires them into the fixed
order and defines the shared Context and Directory types.
*/
package plugin
