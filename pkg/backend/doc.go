/*
Package backend is the only component permitted to read or write
pkg/storage directly (§4.1). Everything above it — pkg/server, pkg/plugin,
pkg/access — deals in *entry.Entry and *filter.Filter and never sees a
bucket name or a posting list.

Three files carry the design:

  - backend.go: the public txn surface (Search, Exists, Create, Modify,
    Delete, Reindex, Verify) and the write-through cache discipline those
    operations share.
  - resolve.go: the filter resolver, rewriting a filter tree into
    pkg/idl set algebra with the And tie-break rule from §4.2.
  - index.go: how an attribute value becomes one or more posting-list
    keys, including the trigram shingling an SUBSTRING index uses (the
    specification names the index type but not its derivation; trigram
    shingling is this implementation's choice, documented as a Partial
    result since trigram membership never proves true substring
    containment on its own).

Write-through ordering. A write runs as one storage.Store.WriteTxn call:
inside it, each posting list's new form is derived (from what the batch
has already staged for that key, else the cache, falling through to
storage on miss) and written along with the id2entry rows and name index
updates, while the matching cache updates are only staged. Only once that
transaction commits does the cache get the corresponding Put/Invalidate
calls. A failure at any point inside the transaction leaves both storage
and cache exactly as they were: nothing is cached speculatively.
*/
package backend
