/*
Package server ties pkg/backend, pkg/schema, pkg/access, and pkg/plugin
together into QueryServer, the thing cmd/wardend actually runs. See
server.go for the composition itself, modify.go/lifecycle.go for the
write operations built on top of it, acp.go for access-control-profile
reload, and migrate.go for the bootstrap sequence a fresh directory runs
on first start.
*/
package server
