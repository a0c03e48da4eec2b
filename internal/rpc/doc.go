// Package rpc defines the wire contract between parties and the Coordinator,
// and between a Master and its cluster manager: request/response messages,
// protocol status values, hand-written gRPC service descriptors and the typed
// client stubs built on top of them. Messages travel as JSON through a codec
// registered with grpc's codec registry.
package rpc
