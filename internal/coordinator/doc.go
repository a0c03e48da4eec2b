// Package coordinator implements the federation broker that parties
// subscribe to and job owners post proposals against.
//
// A party enrolls for a set of job types and receives a stream of
// notifications (proposal id and job type only). To learn what is being
// offered it calls FetchTask, which blocks until the proposal resolves. The
// proposer's call waits for the negotiation window and then resolves the
// proposal exactly once: either with too few responders (every waiter gets
// CANCELED) or with an assignment drawn at random from the responders.
package coordinator
