// Package master implements one party's job owner: the shared job state, the
// per-job pipeline that takes a submitted job through resource acquisition,
// compilation and proposal, and the clients that connect the party to the
// Coordinator and to its own cluster.
package master
