// Package cluster provides a party's local execution layer. It allocates
// endpoints for jobs that need them and runs submitted tasks asynchronously,
// resolving an executor per task type, enforcing timeouts via context
// deadlines and recording every transition and log line in the store.
package cluster
