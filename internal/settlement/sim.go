package settlement

import (
	"context"
	"fmt"
	"sync"

	"lifeline/internal/services"
)

// Simulator is an in-process settlement network used in development and
// by tests. It accepts every well-formed submission, assigns sequential
// references, dedupes resubmissions by key the way the real network
// does, and confirms references on demand.
type Simulator struct {
	mu           sync.Mutex
	seq          int64
	feeFloor     int64
	confirmAfter int
	submitCalls  int
	scripted     []error
	refs         map[string]*simTx
	byKey        map[string]string
}

type simTx struct {
	key        string
	fee        int64
	total      float64
	checksLeft int
}

// NewSimulator builds a simulator that accepts and confirms everything.
func NewSimulator() *Simulator {
	return &Simulator{
		refs:  make(map[string]*simTx),
		byKey: make(map[string]string),
	}
}

// FailNext queues err for an upcoming Submit call. Queued errors are
// consumed in order before any submission is accepted.
func (s *Simulator) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted = append(s.scripted, err)
}

// SetFeeFloor rejects submissions priced below floor with a transient
// error that suggests a fee 10% above the floor.
func (s *Simulator) SetFeeFloor(floor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeFloor = floor
}

// ConfirmAfter keeps future references pending for n Check calls before
// they confirm. Zero confirms on the first Check.
func (s *Simulator) ConfirmAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmAfter = n
}

// SubmitCalls reports how many times Submit ran, scripted failures
// included.
func (s *Simulator) SubmitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

// Submit accepts the disbursement and returns its reference.
func (s *Simulator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++

	if len(s.scripted) > 0 {
		err := s.scripted[0]
		s.scripted = s.scripted[1:]
		return "", err
	}
	if req.Key == "" {
		return "", services.Wrap(services.ErrValidation, "settlement", "submit", "missing idempotency key", nil)
	}
	if len(req.Recipients) == 0 {
		return "", services.Wrap(services.ErrValidation, "settlement", "submit", "no recipients", nil)
	}
	if s.feeFloor > 0 && req.Fee < s.feeFloor {
		suggested := s.feeFloor + s.feeFloor/10
		return "", services.Wrap(services.ErrTransient, "settlement", "submit",
			fmt.Sprintf("fee %d below network floor %d; suggest %d", req.Fee, s.feeFloor, suggested), nil)
	}
	if ref, ok := s.byKey[req.Key]; ok {
		return ref, nil
	}

	s.seq++
	ref := fmt.Sprintf("0x%06x", s.seq)
	s.refs[ref] = &simTx{
		key:        req.Key,
		fee:        req.Fee,
		total:      req.Total(),
		checksLeft: s.confirmAfter,
	}
	s.byKey[req.Key] = ref
	return ref, nil
}

// Check resolves a reference. Pending references count down one Check
// at a time until they confirm.
func (s *Simulator) Check(ctx context.Context, reference string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.refs[reference]
	if !ok {
		return StatusNotFound, nil
	}
	if tx.checksLeft > 0 {
		tx.checksLeft--
		return StatusPending, nil
	}
	return StatusConfirmed, nil
}

// CheckHealth always succeeds; the simulator lives in-process.
func (s *Simulator) CheckHealth(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Simulator) Close() error { return nil }

var _ Client = (*Simulator)(nil)
