package localserver

import (
	"context"
	"slices"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/ids"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metrics"
)

// State is the rendezvous state between external submitters and the runtime.
type State int

const (
	// WaitingForRuntimePoll: no poll outstanding and nothing in flight.
	WaitingForRuntimePoll State = iota
	// WaitingForExternalInvocation: a poll is parked until something is submitted.
	WaitingForExternalInvocation
	// WaitingForRuntimeResponse: an invocation was handed out and awaits its report.
	WaitingForRuntimeResponse
)

func (s State) String() string {
	switch s {
	case WaitingForRuntimePoll:
		return "waitingForRuntimePoll"
	case WaitingForExternalInvocation:
		return "waitingForExternalInvocation"
	case WaitingForRuntimeResponse:
		return "waitingForRuntimeResponse"
	default:
		return "unknown"
	}
}

type outcome struct {
	body   []byte
	failed bool
	err    error
}

type pendingInvocation struct {
	requestID string
	body      []byte
	// done is buffered so the resolver never blocks on a caller that left.
	done chan outcome
	// withdrawn is set under mu once the submitter stopped waiting.
	withdrawn bool
}

func newPendingInvocation(body []byte) *pendingInvocation {
	return &pendingInvocation{
		requestID: ids.RequestID(),
		body:      body,
		done:      make(chan outcome, 1),
	}
}

// Submit queues body as an invocation and blocks until the runtime reports it.
// A runtime-reported failure is returned as *InvocationFailedError.
func (s *Server) Submit(ctx context.Context, body []byte) ([]byte, error) {
	_, output, err := s.SubmitInvocation(ctx, body)
	return output, err
}

// SubmitInvocation is Submit that also returns the generated request id.
// Cancelling ctx while the invocation is still queued removes it from the
// queue; once handed to the runtime it runs to completion unobserved.
func (s *Server) SubmitInvocation(ctx context.Context, body []byte) (string, []byte, error) {
	inv := newPendingInvocation(body)
	if err := s.enqueue(inv); err != nil {
		s.metrics.RecordSubmission(metrics.OutcomeShutdown)
		return inv.requestID, nil, err
	}

	select {
	case out := <-inv.done:
		switch {
		case out.err != nil:
			s.metrics.RecordSubmission(metrics.OutcomeShutdown)
			return inv.requestID, nil, out.err
		case out.failed:
			s.metrics.RecordSubmission(metrics.OutcomeHandlerError)
			return inv.requestID, nil, &InvocationFailedError{RequestID: inv.requestID, Payload: out.body}
		default:
			s.metrics.RecordSubmission(metrics.OutcomeSuccess)
			return inv.requestID, out.body, nil
		}
	case <-ctx.Done():
		s.withdraw(inv)
		s.metrics.RecordSubmission(metrics.OutcomeFailure)
		return inv.requestID, nil, ctx.Err()
	}
}

func (s *Server) enqueue(inv *pendingInvocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errspkg.ErrServerShutdown
	}

	if s.state == WaitingForExternalInvocation {
		s.waiting <- inv
		s.waiting = nil
		s.active = inv
		s.state = WaitingForRuntimeResponse
		s.logger.Debug("Invocation handed to waiting poll", logging.LogFields{"request_id": inv.requestID})
		return nil
	}

	s.queue = append(s.queue, inv)
	s.metrics.SetQueueDepth(len(s.queue))
	s.logger.Debug("Invocation queued", logging.LogFields{
		"request_id":  inv.requestID,
		"queue_depth": len(s.queue),
	})
	return nil
}

// withdraw drops inv from the queue if the runtime has not claimed it yet.
// An invocation already handed to a poll is marked so it is not requeued.
func (s *Server) withdraw(inv *pendingInvocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv.withdrawn = true
	if idx := slices.Index(s.queue, inv); idx >= 0 {
		s.queue = slices.Delete(s.queue, idx, idx+1)
		s.metrics.SetQueueDepth(len(s.queue))
		s.logger.Debug("Queued invocation withdrawn", logging.LogFields{"request_id": inv.requestID})
	}
}

// beginPoll claims the poll slot. It returns the invocation to deliver right
// away, or a channel that receives one later. When ok is false, err says
// why: the server is shut down or another cycle already owns the slot.
func (s *Server) beginPoll() (inv *pendingInvocation, wait chan *pendingInvocation, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, false, errspkg.ErrServerShutdown
	}
	if s.state != WaitingForRuntimePoll {
		return nil, nil, false, &pollRejectedError{state: s.state}
	}

	if len(s.queue) > 0 {
		inv = s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.metrics.SetQueueDepth(len(s.queue))
		s.active = inv
		s.state = WaitingForRuntimeResponse
		return inv, nil, true, nil
	}

	wait = make(chan *pendingInvocation, 1)
	s.waiting = wait
	s.state = WaitingForExternalInvocation
	return nil, wait, true, nil
}

// abandonPoll undoes a parked poll whose HTTP request went away. If a submit
// already handed it an invocation, that invocation goes back to the queue head
// unless its submitter has left too.
func (s *Server) abandonPoll(wait chan *pendingInvocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting == wait {
		s.waiting = nil
		s.state = WaitingForRuntimePoll
		return
	}

	select {
	case inv, ok := <-wait:
		if ok {
			s.requeueLocked(inv)
		}
	default:
	}
}

// claimDelivery confirms inv is still the active invocation and the poll is
// still listening. A poll that went away puts inv back at the queue head.
func (s *Server) claimDelivery(ctx context.Context, inv *pendingInvocation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != inv {
		return false
	}
	if ctx.Err() != nil {
		s.requeueLocked(inv)
		return false
	}
	return true
}

func (s *Server) requeueLocked(inv *pendingInvocation) {
	if s.closed || s.active != inv {
		return
	}
	s.active = nil
	s.state = WaitingForRuntimePoll
	if inv.withdrawn {
		s.logger.Debug("Withdrawn invocation dropped", logging.LogFields{"request_id": inv.requestID})
		return
	}
	s.queue = slices.Insert(s.queue, 0, inv)
	s.metrics.SetQueueDepth(len(s.queue))
	s.logger.Debug("Invocation returned to queue head", logging.LogFields{"request_id": inv.requestID})
}

// resolve completes the active invocation. requestID may be empty when the
// runtime did not echo it.
func (s *Server) resolve(requestID string, out outcome) (*pendingInvocation, error) {
	s.mu.Lock()
	if s.state != WaitingForRuntimeResponse {
		from := s.state
		s.mu.Unlock()
		return nil, &errspkg.StateError{From: from.String(), To: WaitingForRuntimePoll.String()}
	}
	inv := s.active
	if requestID != "" && requestID != inv.requestID {
		s.mu.Unlock()
		return nil, &requestMismatchError{want: inv.requestID, got: requestID}
	}
	s.active = nil
	s.state = WaitingForRuntimePoll
	s.mu.Unlock()

	inv.done <- out
	return inv, nil
}

// failPending fails every queued and active invocation and releases a parked
// poll. It runs once, under shutdown.
func (s *Server) failPending() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	if s.active != nil {
		pending = append(pending, s.active)
		s.active = nil
	}
	if s.waiting != nil {
		close(s.waiting)
		s.waiting = nil
	}
	s.state = WaitingForRuntimePoll
	s.metrics.SetQueueDepth(0)
	s.mu.Unlock()

	for _, inv := range pending {
		inv.done <- outcome{err: errspkg.ErrServerShutdown}
	}
	return len(pending)
}

// State returns the current rendezvous state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueDepth returns the number of submissions not yet claimed by a poll.
func (s *Server) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
