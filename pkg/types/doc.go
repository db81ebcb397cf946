/*
Package types defines the small set of scalar types shared across the
directory engine: the replication-aware change identifier (Cid), the
64-bit entry id alias, and the "does not exist" sentinel uuid used when a
reference value's name cannot be resolved.

Everything domain-shaped (attribute values, entries, schema, filters)
lives in its own package (pkg/value, pkg/entry, pkg/schema, pkg/idl)
rather than here, since those types carry real behaviour of their own.
*/
package types
