package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/rpc"
)

// DefaultCheckInterval is how long a Subscribe stream waits on an empty
// delivery queue before checking whether its registration was closed.
const DefaultCheckInterval = 500 * time.Millisecond

// ErrInvalidProposal is returned when a proposal request is malformed, for
// example when it carries fewer tasks than maximum_acceptance.
var ErrInvalidProposal = errors.New("invalid proposal")

// ErrNotServing is reported by Ready after Shutdown.
var ErrNotServing = errors.New("coordinator not serving")

// registration is one live party enrollment.
type registration struct {
	partyID  string
	jobTypes []string
	queue    *deliveryQueue
	closed   atomic.Bool
}

// Coordinator brokers proposals between job owners and subscribed parties.
// It is safe for concurrent use.
type Coordinator struct {
	logger        *slog.Logger
	checkInterval time.Duration

	randMu sync.Mutex
	rand   *rand.Rand

	seq atomic.Uint64

	mu        sync.RWMutex
	serving   bool
	parties   map[string]*registration
	index     map[string]map[string]struct{}
	proposals map[string]*proposal
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRand sets the random source used to pick among surplus responders.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) {
		c.rand = r
	}
}

// WithCheckInterval overrides DefaultCheckInterval.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.checkInterval = d
		}
	}
}

// New creates a serving Coordinator.
func New(logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:        logger,
		checkInterval: DefaultCheckInterval,
		serving:       true,
		parties:       make(map[string]*registration),
		index:         make(map[string]map[string]struct{}),
		proposals:     make(map[string]*proposal),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rand == nil {
		c.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// Subscription is the handle a Subscribe stream reads notifications from.
type Subscription struct {
	c   *Coordinator
	reg *registration
}

// Next returns the next notification for the party. It returns io.EOF once
// the registration has been closed by Leave or Shutdown and every queued
// notification has been handed out. Each returned notification must be
// acknowledged with Done after it is delivered.
func (s *Subscription) Next(ctx context.Context) (rpc.SubscribeResponse, error) {
	for {
		n, ok := s.reg.queue.pop(ctx, s.c.checkInterval)
		if ok {
			return rpc.SubscribeResponse{
				Status:     rpc.SubscribeSuccess,
				ProposalID: n.ProposalID,
				JobType:    n.JobType,
			}, nil
		}
		if err := ctx.Err(); err != nil {
			return rpc.SubscribeResponse{}, err
		}
		if s.reg.closed.Load() && s.reg.queue.len() == 0 {
			return rpc.SubscribeResponse{}, io.EOF
		}
	}
}

// Done acknowledges delivery of the last notification returned by Next.
func (s *Subscription) Done() {
	s.reg.queue.done()
}

// Close ends the subscription. Undelivered notifications are dropped and the
// registration is removed if it is still the live one for the party.
func (s *Subscription) Close() {
	s.reg.closed.Store(true)
	s.reg.queue.discard()
	s.c.remove(s.reg)
}

// Enroll registers partyID for jobTypes. On any status other than SUCCESS
// the returned Subscription is nil and the existing registration, if any, is
// left untouched.
func (c *Coordinator) Enroll(partyID string, jobTypes []string) (*Subscription, rpc.SubscribeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.serving {
		subscribeTotal.WithLabelValues(string(rpc.SubscribeNotServing)).Inc()
		return nil, rpc.SubscribeNotServing
	}
	if _, ok := c.parties[partyID]; ok {
		subscribeTotal.WithLabelValues(string(rpc.SubscribeDuplicateEnroll)).Inc()
		c.logger.Warn("duplicate enroll", "party_id", partyID)
		return nil, rpc.SubscribeDuplicateEnroll
	}

	reg := &registration{
		partyID:  partyID,
		jobTypes: slices.Compact(slices.Sorted(slices.Values(jobTypes))),
		queue:    newDeliveryQueue(),
	}
	c.parties[partyID] = reg
	for _, jt := range reg.jobTypes {
		set, ok := c.index[jt]
		if !ok {
			set = make(map[string]struct{})
			c.index[jt] = set
		}
		set[partyID] = struct{}{}
	}

	subscribeTotal.WithLabelValues(string(rpc.SubscribeSuccess)).Inc()
	enrolledParties.Set(float64(len(c.parties)))
	c.logger.Info("party enrolled", "party_id", partyID, "job_types", reg.jobTypes)
	return &Subscription{c: c, reg: reg}, rpc.SubscribeSuccess
}

// remove deletes reg from the registry and the subscription index. A job
// type left without parties is dropped from the index.
func (c *Coordinator) remove(reg *registration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.parties[reg.partyID] != reg {
		return
	}
	delete(c.parties, reg.partyID)
	for _, jt := range reg.jobTypes {
		set := c.index[jt]
		delete(set, reg.partyID)
		if len(set) == 0 {
			delete(c.index, jt)
		}
	}
	enrolledParties.Set(float64(len(c.parties)))
	c.logger.Info("party removed", "party_id", reg.partyID)
}

// Propose runs one negotiation round and returns its outcome. It blocks for
// req.WaitTime unless the proposal is rejected up front.
func (c *Coordinator) Propose(ctx context.Context, req *rpc.ProposalRequest) (rpc.ProposalStatus, error) {
	if err := validateProposal(req); err != nil {
		return "", err
	}

	uid := c.nextUID(req.JobID)
	p := newProposal(uid, req.JobID, req.JobType, slices.Clone(req.Tasks), req.WaitTime, req.MinimumAcceptance, req.MaximumAcceptance)
	logger := c.logger.With("job_id", req.JobID, "proposal_id", uid, "job_type", req.JobType)

	c.mu.Lock()
	c.proposals[uid] = p
	subscribers := c.index[req.JobType]

	if len(subscribers) == 0 {
		c.mu.Unlock()
		p.cancel()
		return c.proposalDone(logger, rpc.ProposalReject), nil
	}
	if len(subscribers) < req.MinimumAcceptance {
		n := len(subscribers)
		c.mu.Unlock()
		p.cancel()
		logger.Info("not enough subscribers", "subscribers", n, "minimum", req.MinimumAcceptance)
		return c.proposalDone(logger, rpc.ProposalNotEnoughSubscribers), nil
	}

	notified := 0
	for partyID := range subscribers {
		reg := c.parties[partyID]
		if reg == nil || reg.closed.Load() {
			continue
		}
		reg.queue.push(notification{ProposalID: uid, JobType: req.JobType})
		notified++
	}
	c.mu.Unlock()
	logger.Info("proposal published", "notified", notified, "wait_time", req.WaitTime)

	timer := time.NewTimer(req.WaitTime)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		p.cancel()
		proposalsTotal.WithLabelValues("aborted").Inc()
		logger.Warn("proposer went away before resolution", "error", ctx.Err())
		return "", ctx.Err()
	}

	if !p.settle(c.perm) {
		return c.proposalDone(logger, rpc.ProposalNotEnoughResponders), nil
	}
	return c.proposalDone(logger, rpc.ProposalSuccess), nil
}

func (c *Coordinator) proposalDone(logger *slog.Logger, status rpc.ProposalStatus) rpc.ProposalStatus {
	proposalsTotal.WithLabelValues(string(status)).Inc()
	logger.Info("proposal resolved", "status", status)
	return status
}

func validateProposal(req *rpc.ProposalRequest) error {
	switch {
	case req.MaximumAcceptance < 1:
		return fmt.Errorf("%w: maximum_acceptance must be positive, got %d", ErrInvalidProposal, req.MaximumAcceptance)
	case req.MinimumAcceptance < 0:
		return fmt.Errorf("%w: minimum_acceptance must not be negative, got %d", ErrInvalidProposal, req.MinimumAcceptance)
	case req.MinimumAcceptance > req.MaximumAcceptance:
		return fmt.Errorf("%w: minimum_acceptance %d exceeds maximum_acceptance %d", ErrInvalidProposal, req.MinimumAcceptance, req.MaximumAcceptance)
	case len(req.Tasks) < req.MaximumAcceptance:
		return fmt.Errorf("%w: %d tasks for maximum_acceptance %d", ErrInvalidProposal, len(req.Tasks), req.MaximumAcceptance)
	case req.WaitTime < 0:
		return fmt.Errorf("%w: negative wait_time", ErrInvalidProposal)
	}
	return nil
}

func (c *Coordinator) nextUID(jobID string) string {
	n := c.seq.Add(1)
	if jobID == "" {
		return fmt.Sprintf("proposal-%d", n)
	}
	return fmt.Sprintf("%s-proposal-%d", jobID, n)
}

func (c *Coordinator) perm(n int) []int {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.rand.Perm(n)
}

// FetchTask registers partyID as a responder to proposalID and blocks until
// the proposal resolves. task is only set when status is READY.
func (c *Coordinator) FetchTask(ctx context.Context, partyID, proposalID string) (status rpc.FetchStatus, task *model.Task, err error) {
	defer func() {
		if err == nil {
			fetchTotal.WithLabelValues(string(status)).Inc()
		}
	}()

	c.mu.RLock()
	p := c.proposals[proposalID]
	_, enrolled := c.parties[partyID]
	c.mu.RUnlock()

	if p == nil {
		return rpc.FetchNotFound, nil, nil
	}
	if !enrolled {
		return rpc.FetchNotAllow, nil, nil
	}
	if !p.respond(partyID) {
		return rpc.FetchTimeout, nil, nil
	}

	select {
	case <-p.resolved:
	case <-ctx.Done():
		p.withdraw(partyID)
		return "", nil, ctx.Err()
	}

	goal, t, chosen := p.outcome(partyID)
	switch {
	case !goal:
		return rpc.FetchCanceled, nil, nil
	case !chosen:
		return rpc.FetchRandomOut, nil, nil
	default:
		return rpc.FetchReady, &t, nil
	}
}

// Leave closes partyID's registration, waits until its stream has consumed
// every queued notification and removes it.
func (c *Coordinator) Leave(ctx context.Context, partyID string) (rpc.LeaveStatus, error) {
	// Propose checks closed and pushes under c.mu, so once the flag is set
	// here no notification can land behind the drain.
	c.mu.Lock()
	reg := c.parties[partyID]
	if reg != nil {
		reg.closed.Store(true)
	}
	c.mu.Unlock()

	if reg == nil {
		return rpc.LeaveNotFound, nil
	}

	err := reg.queue.waitDrained(ctx)
	if err != nil {
		reg.queue.discard()
	}
	c.remove(reg)
	if err != nil {
		return "", fmt.Errorf("wait for %s queue to drain: %w", partyID, err)
	}
	c.logger.Info("party left", "party_id", partyID)
	return rpc.LeaveSuccess, nil
}

// Shutdown stops accepting new subscriptions and closes every live
// registration so their streams finish on the next checkpoint.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.serving = false
	for _, reg := range c.parties {
		reg.closed.Store(true)
	}
	c.logger.Info("coordinator stopped serving", "parties", len(c.parties))
}

// Ready returns ErrNotServing once Shutdown has been called.
func (c *Coordinator) Ready(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.serving {
		return ErrNotServing
	}
	return nil
}

// PartyInfo describes one registration in a Snapshot.
type PartyInfo struct {
	PartyID  string   `json:"party_id"`
	JobTypes []string `json:"job_types"`
	Queued   int      `json:"queued"`
	Closed   bool     `json:"closed"`
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	Serving   bool        `json:"serving"`
	Parties   []PartyInfo `json:"parties"`
	Proposals int         `json:"proposals"`
}

// Snapshot returns the current registrations sorted by party id.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Serving:   c.serving,
		Parties:   make([]PartyInfo, 0, len(c.parties)),
		Proposals: len(c.proposals),
	}
	for _, reg := range c.parties {
		snap.Parties = append(snap.Parties, PartyInfo{
			PartyID:  reg.partyID,
			JobTypes: slices.Clone(reg.jobTypes),
			Queued:   reg.queue.len(),
			Closed:   reg.closed.Load(),
		})
	}
	sort.Slice(snap.Parties, func(i, j int) bool {
		return snap.Parties[i].PartyID < snap.Parties[j].PartyID
	})
	return snap
}
