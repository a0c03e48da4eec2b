package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/concord/internal/coordinator"
	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
)

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return coordinator.New(logger,
		coordinator.WithRand(rand.New(rand.NewPCG(42, 42))),
		coordinator.WithCheckInterval(20*time.Millisecond),
	)
}

func enroll(t *testing.T, c *coordinator.Coordinator, partyID string, jobTypes ...string) *coordinator.Subscription {
	t.Helper()
	sub, st := c.Enroll(partyID, jobTypes)
	require.Equal(t, rpc.SubscribeSuccess, st)
	require.NotNil(t, sub)
	return sub
}

func tasks(jobID string, n int) []model.Task {
	out := make([]model.Task, n)
	for i := range out {
		out[i] = model.Task{JobID: jobID, TaskID: jobID + "-t" + string(rune('0'+i)), TaskType: "dummy"}
	}
	return out
}

type proposalResult struct {
	status rpc.ProposalStatus
	err    error
}

func proposeAsync(c *coordinator.Coordinator, req *rpc.ProposalRequest) <-chan proposalResult {
	ch := make(chan proposalResult, 1)
	go func() {
		st, err := c.Propose(context.Background(), req)
		ch <- proposalResult{status: st, err: err}
	}()
	return ch
}

func nextNotification(t *testing.T, sub *coordinator.Subscription) rpc.SubscribeResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	sub.Done()
	return msg
}

type fetchResult struct {
	status rpc.FetchStatus
	task   *model.Task
}

func fetchAsync(c *coordinator.Coordinator, partyID, proposalID string) <-chan fetchResult {
	ch := make(chan fetchResult, 1)
	go func() {
		st, task, _ := c.FetchTask(context.Background(), partyID, proposalID)
		ch <- fetchResult{status: st, task: task}
	}()
	return ch
}

func TestFetchTaskUnknownProposal(t *testing.T) {
	c := newTestCoordinator(t)
	enroll(t, c, "alice", "dummy")

	st, task, err := c.FetchTask(context.Background(), "alice", "missing")
	require.NoError(t, err)
	assert.Equal(t, rpc.FetchNotFound, st)
	assert.Nil(t, task)
}

func TestProposalWithoutSubscribersIsRejected(t *testing.T) {
	c := newTestCoordinator(t)
	enroll(t, c, "alice", "other")

	st, err := c.Propose(context.Background(), &rpc.ProposalRequest{
		JobID: "job1", JobType: "dummy", Tasks: tasks("job1", 1),
		WaitTime: time.Hour, MinimumAcceptance: 1, MaximumAcceptance: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, rpc.ProposalReject, st)

	// The rejected proposal is known and already resolved.
	st2, _, err := c.FetchTask(context.Background(), "alice", "job1-proposal-1")
	require.NoError(t, err)
	assert.Equal(t, rpc.FetchTimeout, st2)

	st3, _, err := c.FetchTask(context.Background(), "mallory", "job1-proposal-1")
	require.NoError(t, err)
	assert.Equal(t, rpc.FetchNotAllow, st3)
}

func TestProposalNotEnoughSubscribersReturnsImmediately(t *testing.T) {
	c := newTestCoordinator(t)
	enroll(t, c, "alice", "paddle_fl")
	enroll(t, c, "bob", "paddle_fl")

	start := time.Now()
	st, err := c.Propose(context.Background(), &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 3),
		WaitTime: 5 * time.Second, MinimumAcceptance: 3, MaximumAcceptance: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, rpc.ProposalNotEnoughSubscribers, st)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProposalTwoOfThreeRespond(t *testing.T) {
	c := newTestCoordinator(t)
	alice := enroll(t, c, "alice", "paddle_fl")
	bob := enroll(t, c, "bob", "paddle_fl")
	carol := enroll(t, c, "carol", "paddle_fl")

	res := proposeAsync(c, &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 2),
		WaitTime: 500 * time.Millisecond, MinimumAcceptance: 2, MaximumAcceptance: 2,
	})

	na := nextNotification(t, alice)
	nb := nextNotification(t, bob)
	nc := nextNotification(t, carol)
	assert.Equal(t, na.ProposalID, nb.ProposalID)
	assert.Equal(t, na.ProposalID, nc.ProposalID)
	assert.Equal(t, "paddle_fl", na.JobType)

	fa := fetchAsync(c, "alice", na.ProposalID)
	fb := fetchAsync(c, "bob", nb.ProposalID)

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, rpc.ProposalSuccess, r.status)

	ra, rb := <-fa, <-fb
	require.Equal(t, rpc.FetchReady, ra.status)
	require.Equal(t, rpc.FetchReady, rb.status)
	require.NotNil(t, ra.task)
	require.NotNil(t, rb.task)
	assert.NotEqual(t, ra.task.TaskID, rb.task.TaskID)
	assert.ElementsMatch(t, []string{"job1-t0", "job1-t1"}, []string{ra.task.TaskID, rb.task.TaskID})

	// Carol never responded; a late fetch sees the closed window.
	st, _, err := c.FetchTask(context.Background(), "carol", nc.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, rpc.FetchTimeout, st)
}

func TestProposalNotEnoughResponders(t *testing.T) {
	c := newTestCoordinator(t)
	alice := enroll(t, c, "alice", "paddle_fl")
	enroll(t, c, "bob", "paddle_fl")

	res := proposeAsync(c, &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 2),
		WaitTime: 200 * time.Millisecond, MinimumAcceptance: 2, MaximumAcceptance: 2,
	})
	n := nextNotification(t, alice)
	fa := fetchAsync(c, "alice", n.ProposalID)

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, rpc.ProposalNotEnoughResponders, r.status)

	ra := <-fa
	assert.Equal(t, rpc.FetchCanceled, ra.status)
	assert.Nil(t, ra.task)
}

func TestProposalSurplusRespondersRandomOut(t *testing.T) {
	c := newTestCoordinator(t)
	parties := []string{"alice", "bob", "carol", "dave"}
	subs := make(map[string]*coordinator.Subscription)
	for _, p := range parties {
		subs[p] = enroll(t, c, p, "paddle_fl")
	}

	res := proposeAsync(c, &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 2),
		WaitTime: 300 * time.Millisecond, MinimumAcceptance: 1, MaximumAcceptance: 2,
	})

	results := make(map[string]<-chan fetchResult)
	for _, p := range parties {
		n := nextNotification(t, subs[p])
		results[p] = fetchAsync(c, p, n.ProposalID)
	}

	r := <-res
	require.NoError(t, r.err)
	require.Equal(t, rpc.ProposalSuccess, r.status)

	ready, randomOut := 0, 0
	seen := make(map[string]bool)
	for _, p := range parties {
		fr := <-results[p]
		switch fr.status {
		case rpc.FetchReady:
			ready++
			require.NotNil(t, fr.task)
			assert.False(t, seen[fr.task.TaskID], "task %s handed out twice", fr.task.TaskID)
			seen[fr.task.TaskID] = true
		case rpc.FetchRandomOut:
			randomOut++
			assert.Nil(t, fr.task)
		default:
			t.Fatalf("party %s: unexpected status %s", p, fr.status)
		}
	}
	assert.Equal(t, 2, ready)
	assert.Equal(t, 2, randomOut)
}

func TestInvalidProposal(t *testing.T) {
	c := newTestCoordinator(t)

	tests := []struct {
		name string
		req  rpc.ProposalRequest
	}{
		{"too few tasks", rpc.ProposalRequest{JobType: "paddle_fl", Tasks: tasks("j", 1), MinimumAcceptance: 1, MaximumAcceptance: 2}},
		{"minimum above maximum", rpc.ProposalRequest{JobType: "paddle_fl", Tasks: tasks("j", 3), MinimumAcceptance: 3, MaximumAcceptance: 2}},
		{"zero maximum", rpc.ProposalRequest{JobType: "paddle_fl", MaximumAcceptance: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Propose(context.Background(), &tt.req)
			assert.ErrorIs(t, err, coordinator.ErrInvalidProposal)
		})
	}
}

func TestDuplicateEnrollKeepsExistingRegistration(t *testing.T) {
	c := newTestCoordinator(t)
	alice := enroll(t, c, "alice", "paddle_fl")

	sub, st := c.Enroll("alice", []string{"dummy"})
	assert.Equal(t, rpc.SubscribeDuplicateEnroll, st)
	assert.Nil(t, sub)

	snap := c.Snapshot()
	require.Len(t, snap.Parties, 1)
	assert.Equal(t, []string{"paddle_fl"}, snap.Parties[0].JobTypes)

	// The original subscription still receives fl notifications.
	res := proposeAsync(c, &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 1),
		WaitTime: 50 * time.Millisecond, MinimumAcceptance: 0, MaximumAcceptance: 1,
	})
	n := nextNotification(t, alice)
	assert.Equal(t, "job1-proposal-1", n.ProposalID)
	assert.Equal(t, rpc.ProposalSuccess, (<-res).status)
}

func TestLeave(t *testing.T) {
	c := newTestCoordinator(t)

	st, err := c.Leave(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, rpc.LeaveNotFound, st)

	sub := enroll(t, c, "alice", "paddle_fl")
	st, err = c.Leave(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, rpc.LeaveSuccess, st)

	// No zombie registration: the same id can enroll again right away.
	enroll(t, c, "alice", "paddle_fl")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	sub.Close()

	// Closing the stale subscription does not remove the new registration.
	assert.Len(t, c.Snapshot().Parties, 1)
}

func TestLeaveWaitsForQueueToDrain(t *testing.T) {
	c := newTestCoordinator(t)
	sub := enroll(t, c, "alice", "paddle_fl")

	res := proposeAsync(c, &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 1),
		WaitTime: 20 * time.Millisecond, MinimumAcceptance: 0, MaximumAcceptance: 1,
	})
	<-res
	require.Equal(t, 1, c.Snapshot().Parties[0].Queued)

	left := make(chan rpc.LeaveStatus, 1)
	go func() {
		st, _ := c.Leave(context.Background(), "alice")
		left <- st
	}()

	select {
	case <-left:
		t.Fatal("Leave returned before the queued notification was consumed")
	case <-time.After(100 * time.Millisecond):
	}

	n := nextNotification(t, sub)
	assert.Equal(t, "job1-proposal-1", n.ProposalID)

	select {
	case st := <-left:
		assert.Equal(t, rpc.LeaveSuccess, st)
	case <-time.After(2 * time.Second):
		t.Fatal("Leave did not return after the queue drained")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLeaveRacingProposalsDeliversNothingAfterReturn(t *testing.T) {
	for range 50 {
		c := newTestCoordinator(t)
		sub := enroll(t, c, "alice", "paddle_fl")

		var consumed atomic.Int64
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			for {
				if _, err := sub.Next(context.Background()); err != nil {
					return
				}
				consumed.Add(1)
				sub.Done()
			}
		}()

		for i := range 4 {
			jobID := "job" + string(rune('0'+i))
			proposeAsync(c, &rpc.ProposalRequest{
				JobID: jobID, JobType: "paddle_fl", Tasks: tasks(jobID, 1),
				WaitTime: 10 * time.Millisecond, MinimumAcceptance: 0, MaximumAcceptance: 1,
			})
		}

		st, err := c.Leave(context.Background(), "alice")
		require.NoError(t, err)
		require.Equal(t, rpc.LeaveSuccess, st)
		atLeave := consumed.Load()

		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("subscription did not end after Leave")
		}
		require.Equal(t, atLeave, consumed.Load(), "notification delivered after Leave returned")
	}
}

func TestClosedSubscriptionPrunesIndex(t *testing.T) {
	c := newTestCoordinator(t)
	sub := enroll(t, c, "alice", "paddle_fl")
	sub.Close()

	st, err := c.Propose(context.Background(), &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 1),
		WaitTime: time.Hour, MinimumAcceptance: 1, MaximumAcceptance: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, rpc.ProposalReject, st)
	assert.Empty(t, c.Snapshot().Parties)
}

func TestFetchTaskCallerGoneWithdrawsResponse(t *testing.T) {
	c := newTestCoordinator(t)
	alice := enroll(t, c, "alice", "paddle_fl")

	res := proposeAsync(c, &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 1),
		WaitTime: 300 * time.Millisecond, MinimumAcceptance: 1, MaximumAcceptance: 1,
	})
	n := nextNotification(t, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := c.FetchTask(ctx, "alice", n.ProposalID)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, rpc.ProposalNotEnoughResponders, r.status)
}

func TestConcurrentFetchesObserveOneResolution(t *testing.T) {
	c := newTestCoordinator(t)
	alice := enroll(t, c, "alice", "paddle_fl")

	res := proposeAsync(c, &rpc.ProposalRequest{
		JobID: "job1", JobType: "paddle_fl", Tasks: tasks("job1", 1),
		WaitTime: 200 * time.Millisecond, MinimumAcceptance: 1, MaximumAcceptance: 1,
	})
	n := nextNotification(t, alice)

	var wg sync.WaitGroup
	statuses := make([]rpc.FetchStatus, 5)
	taskIDs := make([]string, 5)
	for i := range statuses {
		wg.Go(func() {
			st, task, _ := c.FetchTask(context.Background(), "alice", n.ProposalID)
			statuses[i] = st
			if task != nil {
				taskIDs[i] = task.TaskID
			}
		})
	}
	wg.Wait()

	assert.Equal(t, rpc.ProposalSuccess, (<-res).status)
	for i := range statuses {
		assert.Equal(t, rpc.FetchReady, statuses[i])
		assert.Equal(t, "job1-t0", taskIDs[i])
	}
}

func TestShutdown(t *testing.T) {
	c := newTestCoordinator(t)
	sub := enroll(t, c, "alice", "paddle_fl")

	c.Shutdown()

	_, st := c.Enroll("bob", []string{"paddle_fl"})
	assert.Equal(t, rpc.SubscribeNotServing, st)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, c.Snapshot().Serving)
}
