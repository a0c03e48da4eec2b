package coordinator

import (
	"slices"
	"sync"
	"time"

	"github.com/seantiz/concord/internal/model"
)

// proposal is one negotiation round. Everything below mu is mutable until
// resolved is closed and immutable afterwards.
type proposal struct {
	uid      string
	jobID    string
	jobType  string
	tasks    []model.Task
	deadline time.Time
	minimum  int
	maximum  int

	mu          sync.Mutex
	responders  []string
	waiters     map[string]int
	goalReached bool
	chosen      map[string]model.Task
	resolved    chan struct{}
}

func newProposal(uid, jobID, jobType string, tasks []model.Task, wait time.Duration, minimum, maximum int) *proposal {
	return &proposal{
		uid:      uid,
		jobID:    jobID,
		jobType:  jobType,
		tasks:    tasks,
		deadline: time.Now().Add(wait),
		minimum:  minimum,
		maximum:  maximum,
		waiters:  make(map[string]int),
		chosen:   make(map[string]model.Task),
		resolved: make(chan struct{}),
	}
}

// isResolvedLocked reports whether the one-shot resolution already happened.
func (p *proposal) isResolvedLocked() bool {
	select {
	case <-p.resolved:
		return true
	default:
		return false
	}
}

// respond records partyID as a responder. It returns false if the proposal
// is already resolved.
func (p *proposal) respond(partyID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isResolvedLocked() {
		return false
	}
	if p.waiters[partyID] == 0 {
		p.responders = append(p.responders, partyID)
	}
	p.waiters[partyID]++
	return true
}

// withdraw undoes one respond call from a caller that stopped waiting.
func (p *proposal) withdraw(partyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isResolvedLocked() || p.waiters[partyID] == 0 {
		return
	}
	p.waiters[partyID]--
	if p.waiters[partyID] == 0 {
		delete(p.waiters, partyID)
		p.responders = slices.DeleteFunc(p.responders, func(id string) bool { return id == partyID })
	}
}

// cancel resolves the proposal with goal_reached=false. It is a no-op on an
// already resolved proposal.
func (p *proposal) cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolveLocked(false, nil)
}

func (p *proposal) resolveLocked(goal bool, chosen map[string]model.Task) {
	if p.isResolvedLocked() {
		return
	}
	p.goalReached = goal
	if chosen != nil {
		p.chosen = chosen
	}
	close(p.resolved)
}

// settle inspects the responders once the negotiation window has passed and
// resolves the proposal. It reports whether the goal was reached.
func (p *proposal) settle(perm func(n int) []int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isResolvedLocked() {
		return p.goalReached
	}
	if len(p.responders) < p.minimum {
		p.resolveLocked(false, nil)
		return false
	}
	p.resolveLocked(true, assign(p.responders, p.tasks, p.maximum, perm))
	return true
}

// outcome returns the terminal answer for partyID. Callers must wait on
// resolved first.
func (p *proposal) outcome(partyID string) (goal bool, task model.Task, chosen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, chosen = p.chosen[partyID]
	return p.goalReached, task, chosen
}

// assign maps responders to tasks. When there are more responders than
// maximum, exactly maximum of them are picked uniformly at random without
// replacement using perm; otherwise every responder is picked in order. The
// i-th picked responder gets tasks[i].
func assign(responders []string, tasks []model.Task, maximum int, perm func(n int) []int) map[string]model.Task {
	chosen := make(map[string]model.Task, min(len(responders), maximum))

	if len(responders) <= maximum {
		for i, party := range responders {
			chosen[party] = tasks[i]
		}
		return chosen
	}

	for i, idx := range perm(len(responders))[:maximum] {
		chosen[responders[idx]] = tasks[i]
	}
	return chosen
}
