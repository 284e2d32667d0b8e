package overdue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/athenaeum-lms/athenaeum/internal/borrowing"
	"github.com/athenaeum-lms/athenaeum/internal/notify"
)

type stubEngine struct {
	mu       sync.Mutex
	calls    int
	findings []borrowing.OverdueAssessment
	err      error
	block    chan struct{}
}

func (e *stubEngine) AssessOverdue(ctx context.Context, now time.Time) ([]borrowing.OverdueAssessment, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.block != nil {
		<-e.block
	}
	return e.findings, e.err
}

type recordingDispatcher struct {
	mu      sync.Mutex
	notices []notify.OverdueNotice
	err     error
}

func (d *recordingDispatcher) DispatchOverdue(ctx context.Context, notice notify.OverdueNotice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.notices = append(d.notices, notice)
	return nil
}

func TestScanDispatchesNotices(t *testing.T) {
	engine := &stubEngine{findings: []borrowing.OverdueAssessment{
		{LoanID: 1, LoanCode: "LN-a", MemberID: 4, TitleID: 2, DaysOverdue: 3, FineAmount: 30, FineUpdated: true},
		{LoanID: 2, LoanCode: "LN-b", MemberID: 5, TitleID: 2, DaysOverdue: 16, FineAmount: 160, FineUpdated: true},
	}}
	dispatcher := &recordingDispatcher{}
	scanner := NewScanner(engine, dispatcher, 0, nil)

	found, err := scanner.Scan(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Len(t, dispatcher.notices, 2)
	require.EqualValues(t, 160, dispatcher.notices[1].FineAmount)
	require.Equal(t, 16, dispatcher.notices[1].DaysOverdue)
}

func TestScanSkipsUnchangedFines(t *testing.T) {
	engine := &stubEngine{findings: []borrowing.OverdueAssessment{
		{LoanID: 1, LoanCode: "LN-a", MemberID: 4, DaysOverdue: 3, FineAmount: 30},
		{LoanID: 2, LoanCode: "LN-b", MemberID: 5, DaysOverdue: 4, FineAmount: 40, FineUpdated: true},
	}}
	dispatcher := &recordingDispatcher{}
	scanner := NewScanner(engine, dispatcher, 0, nil)

	found, err := scanner.Scan(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Len(t, dispatcher.notices, 1)
	require.Equal(t, "LN-b", dispatcher.notices[0].LoanCode)
}

func TestScanSurvivesDispatchFailure(t *testing.T) {
	engine := &stubEngine{findings: []borrowing.OverdueAssessment{{LoanID: 1, FineUpdated: true}}}
	dispatcher := &recordingDispatcher{err: errors.New("queue down")}
	scanner := NewScanner(engine, dispatcher, 0, nil)

	found, err := scanner.Scan(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestScanCoalescesOverlappingTriggers(t *testing.T) {
	engine := &stubEngine{block: make(chan struct{})}
	scanner := NewScanner(engine, nil, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := scanner.Scan(context.Background(), time.Now())
		require.NoError(t, err)
	}()

	// Wait until the first sweep holds the lock.
	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.calls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := scanner.Scan(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrScanInProgress)

	close(engine.block)
	<-done
	require.Equal(t, 1, engine.calls)
}

func TestScanPropagatesEngineError(t *testing.T) {
	engine := &stubEngine{err: errors.New("db down")}
	scanner := NewScanner(engine, nil, 0, nil)

	_, err := scanner.Scan(context.Background(), time.Now())
	require.Error(t, err)
}
