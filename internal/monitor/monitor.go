package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/C4T-BuT-S4D/cfwatch/internal/codeforces"
	"github.com/C4T-BuT-S4D/cfwatch/internal/config"
	"github.com/C4T-BuT-S4D/cfwatch/internal/gateway"
	"github.com/C4T-BuT-S4D/cfwatch/internal/locale"
	"github.com/C4T-BuT-S4D/cfwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

type BindingDirectory interface {
	ListTrackedAccounts(ctx context.Context) ([]string, error)
	ListChannelsForAccount(ctx context.Context, account string) ([]string, error)
	RemoveBinding(ctx context.Context, channelID, account string) (bool, error)
}

type SubmissionStore interface {
	HasSolved(ctx context.Context, problemID, account string) (bool, error)
	RecordSubmission(ctx context.Context, sub *models.Submission) (bool, error)
}

type Judge interface {
	FetchRecentAccepted(ctx context.Context, handle string) ([]*codeforces.Submission, error)
}

type Gateway interface {
	IsConnected() bool
	SendBatch(ctx context.Context, channelID string, accounts, problems []string) (gateway.DeliveryResult, error)
	SendErrorBatch(ctx context.Context, channelID string, messages []string) gateway.DeliveryResult
}

// CycleSummary describes the last finished cycle, for the status endpoint.
type CycleSummary struct {
	ID               string    `json:"id"`
	Result           string    `json:"result"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Accounts         int       `json:"accounts"`
	FailedAccounts   int       `json:"failed_accounts"`
	Notifications    int       `json:"notifications"`
	Deliveries       int       `json:"deliveries"`
	FailedDeliveries int       `json:"failed_deliveries"`
}

type Monitor struct {
	config   *config.Config
	catalog  locale.Catalog
	bindings BindingDirectory
	store    SubmissionStore
	judge    Judge
	gateway  Gateway

	mu   sync.Mutex
	last *CycleSummary
}

func New(cfg *config.Config, bindings BindingDirectory, store SubmissionStore, judge Judge, gw Gateway) *Monitor {
	return &Monitor{
		config:   cfg,
		catalog:  locale.Lookup(cfg.Locale),
		bindings: bindings,
		store:    store,
		judge:    judge,
		gateway:  gw,
	}
}

func (m *Monitor) LastCycle() (CycleSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return CycleSummary{}, false
	}
	return *m.last, true
}

// RunOneCycle polls every tracked account once and delivers what it found.
// Failures are logged or relayed to chat; nothing escapes, including panics.
func (m *Monitor) RunOneCycle(ctx context.Context) {
	cc := NewCycleContext(ctx)
	summary := &CycleSummary{ID: cc.ID(), StartedAt: cc.Started()}

	defer func() {
		if r := recover(); r != nil {
			cc.L().Errorf("cycle panicked: %v\n%s", r, debug.Stack())
			summary.Result = cyclePanicked
		}
		summary.FinishedAt = time.Now()
		cyclesTotal.WithLabelValues(summary.Result).Inc()
		if summary.Result == cycleCompleted {
			cycleDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
		}

		m.mu.Lock()
		m.last = summary
		m.mu.Unlock()
	}()

	if !m.gateway.IsConnected() {
		cc.L().Warn("gateway is not connected, skipping cycle")
		summary.Result = cycleSkipped
		return
	}

	batches := newBatchSet()
	if err := m.collect(cc, batches, summary); err != nil {
		cc.L().Errorf("collecting submissions: %v", err)
		summary.Result = cycleFailed
		return
	}
	cc.L().Infof(
		"checked %d accounts: %d notifications queued, %d accounts failed",
		summary.Accounts,
		summary.Notifications,
		summary.FailedAccounts,
	)

	m.deliver(cc, batches, summary)

	if cc.Err() != nil {
		summary.Result = cycleInterrupted
		return
	}
	summary.Result = cycleCompleted
}

func (m *Monitor) collect(cc *CycleContext, batches *batchSet, summary *CycleSummary) error {
	accounts, err := m.bindings.ListTrackedAccounts(cc)
	if err != nil {
		return fmt.Errorf("listing tracked accounts: %w", err)
	}
	cc.L().Infof("checking submissions of %d accounts", len(accounts))

	var processed, failed, queued atomic.Int64

	g := &errgroup.Group{}
	g.SetLimit(max(1, m.config.AccountConcurrency))
	for _, account := range accounts {
		if cc.Err() != nil {
			cc.L().Warnf("cycle cancelled, %d accounts left unchecked", len(accounts)-int(processed.Load()))
			break
		}
		g.Go(func() error {
			outcome, n := m.processAccount(cc.ForAccount(account), account, batches)
			accountsTotal.WithLabelValues(outcome).Inc()
			processed.Add(1)
			queued.Add(int64(n))
			if outcome != accountOK {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Accounts = int(processed.Load())
	summary.FailedAccounts = int(failed.Load())
	summary.Notifications = int(queued.Load())
	notificationsTotal.Add(float64(queued.Load()))
	return nil
}

// processAccount returns the account outcome and the number of batch items it queued.
func (m *Monitor) processAccount(cc *CycleContext, account string, batches *batchSet) (outcome string, queued int) {
	defer func() {
		if r := recover(); r != nil {
			cc.L().Errorf("panic while processing account: %v\n%s", r, debug.Stack())
			m.reportFailure(batches, account, fmt.Sprint(r))
			outcome = accountFailed
		}
	}()

	channels, err := m.bindings.ListChannelsForAccount(cc, account)
	if err != nil {
		cc.L().Errorf("listing channels: %v", err)
		m.reportFailure(batches, account, err.Error())
		return accountFailed, 0
	}

	subs, err := m.judge.FetchRecentAccepted(cc, account)
	if err != nil {
		return m.handleFetchError(cc, account, channels, err, batches), 0
	}

	for _, sub := range subs {
		ok, err := m.processSubmission(cc, account, channels, sub, batches)
		if err != nil {
			cc.L().Errorf("processing submission %d: %v", sub.ID, err)
			m.reportFailure(batches, account, err.Error())
			return accountFailed, queued
		}
		if ok {
			queued += len(channels)
		}
	}
	return accountOK, queued
}

// processSubmission queues and records one accepted submission. It reports whether the submission was new.
func (m *Monitor) processSubmission(
	cc *CycleContext,
	account string,
	channels []string,
	sub *codeforces.Submission,
	batches *batchSet,
) (bool, error) {
	if sub == nil || !sub.Problem.Valid() {
		cc.L().Warnf("submission without a usable problem reference, skipping: %+v", sub)
		return false, nil
	}
	problemID := models.ProblemID(sub.Problem.ContestID, sub.Problem.Index)

	solved, err := m.store.HasSolved(cc, problemID, account)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", problemID, err)
	}
	if solved {
		return false, nil
	}

	handle, ok := matchAuthor(sub, account)
	if !ok {
		cc.L().Warnf("submission %d on %s has no author matching the account, skipping", sub.ID, problemID)
		return false, nil
	}

	descriptor := m.catalog.ProblemDescriptor(problemID, sub.Problem.Rating)
	for _, channelID := range channels {
		batches.addItem(channelID, handle, descriptor)
	}

	inserted, err := m.store.RecordSubmission(cc, &models.Submission{
		AccountID:      account,
		ProblemID:      problemID,
		SubmissionID:   sub.IDString(),
		SubmissionTime: sub.CreationTime(),
	})
	if err != nil {
		return true, fmt.Errorf("recording %s: %w", problemID, err)
	}
	if !inserted {
		cc.L().Debugf("%s was recorded concurrently", problemID)
	}
	cc.L().Infof("new accepted submission %d on %s for %d channels", sub.ID, problemID, len(channels))
	return true, nil
}

// matchAuthor returns the member handle equal to account ignoring case, as the judge spells it.
func matchAuthor(sub *codeforces.Submission, account string) (string, bool) {
	if sub.Author == nil {
		return "", false
	}
	for _, member := range sub.Author.Members {
		if member.Handle != "" && strings.EqualFold(member.Handle, account) {
			return member.Handle, true
		}
	}
	return "", false
}

func (m *Monitor) handleFetchError(
	cc *CycleContext,
	account string,
	channels []string,
	err error,
	batches *batchSet,
) string {
	switch {
	case errors.Is(err, codeforces.ErrAccountNotFound):
		cc.L().Warnf("account does not exist, removing it from %d channels", len(channels))
		for _, channelID := range channels {
			if _, rerr := m.bindings.RemoveBinding(cc, channelID, account); rerr != nil {
				cc.L().Errorf("removing binding in %s: %v", channelID, rerr)
				m.reportFailure(batches, account, fmt.Sprintf("removing binding in %s: %v", channelID, rerr))
				continue
			}
			batches.addError(channelID, m.catalog.AccountRemoved(account))
		}
		return accountNotFound

	case errors.Is(err, codeforces.ErrInterrupted):
		cc.L().Infof("fetch interrupted: %v", err)
		return accountInterrupted

	case errors.Is(err, codeforces.ErrAPIUnavailable):
		cc.L().Errorf("judge api failed: %v", err)
		reason := err.Error()
		var apiErr *codeforces.APIError
		if errors.As(err, &apiErr) {
			reason = apiErr.Reason()
		}
		if m.config.ErrorChannel != "" {
			batches.addError(m.config.ErrorChannel, m.catalog.APIFailure(account, reason))
		}
		return accountAPIUnavailable

	default:
		cc.L().Errorf("fetching submissions: %v", err)
		m.reportFailure(batches, account, err.Error())
		return accountFailed
	}
}

func (m *Monitor) reportFailure(batches *batchSet, account, reason string) {
	if m.config.ErrorChannel == "" {
		return
	}
	batches.addError(m.config.ErrorChannel, m.catalog.ProcessingFailure(account, reason))
}

// deliver flushes every channel's batch, then its error batch. Delivery stops when the
// gateway drops or the cycle is cancelled; whatever is left is logged and discarded.
func (m *Monitor) deliver(cc *CycleContext, batches *batchSet, summary *CycleSummary) {
	order, byChannel := batches.snapshot()

	for i, channelID := range order {
		cb := byChannel[channelID]
		logger := cc.L().WithField("channel_id", channelID)

		if len(cb.accounts) > 0 {
			if !m.readyToSend(cc, len(order)-i) {
				return
			}
			res, err := m.gateway.SendBatch(cc, channelID, cb.accounts, cb.problems)
			switch {
			case err != nil:
				logger.Errorf("batch rejected: %v", err)
			case res.OK():
				logger.Infof("sent %d notifications", len(cb.accounts))
			default:
				logger.Warnf("sending notifications failed: %v", res)
			}
			m.countDelivery(summary, deliveryBatch, err == nil && res.OK())
		}

		if len(cb.errors) > 0 {
			if !m.readyToSend(cc, len(order)-i) {
				return
			}
			res := m.gateway.SendErrorBatch(cc, channelID, cb.errors)
			if res.OK() {
				logger.Infof("sent %d error messages", len(cb.errors))
			} else {
				logger.Warnf("sending error messages failed: %v", res)
			}
			m.countDelivery(summary, deliveryError, res.OK())
		}
	}
}

// readyToSend waits the inter-send delay and re-checks the link.
func (m *Monitor) readyToSend(cc *CycleContext, remaining int) bool {
	if m.config.SendInterval > 0 {
		select {
		case <-cc.Done():
			cc.L().Warnf("delivery interrupted, %d channels left: %v", remaining, cc.Err())
			return false
		case <-time.After(m.config.SendInterval):
		}
	} else if cc.Err() != nil {
		cc.L().Warnf("delivery interrupted, %d channels left: %v", remaining, cc.Err())
		return false
	}

	if !m.gateway.IsConnected() {
		cc.L().Errorf("gateway disconnected during delivery, %d channels left undelivered", remaining)
		return false
	}
	return true
}

func (m *Monitor) countDelivery(summary *CycleSummary, kind string, ok bool) {
	deliveriesTotal.WithLabelValues(kind, deliveryOutcome(ok)).Inc()
	summary.Deliveries++
	if !ok {
		summary.FailedDeliveries++
	}
}
