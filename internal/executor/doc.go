// Package executor defines how a cluster runs a task of a given type, along
// with the executors that ship with concord: one that runs process specs and
// one that only logs its payload.
package executor
