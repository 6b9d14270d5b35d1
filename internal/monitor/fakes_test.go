package monitor

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/C4T-BuT-S4D/cfwatch/internal/codeforces"
	"github.com/C4T-BuT-S4D/cfwatch/internal/gateway"
	"github.com/C4T-BuT-S4D/cfwatch/internal/models"
)

type fakeDirectory struct {
	mu        sync.Mutex
	channels  map[string][]string
	removed   []string
	listCalls int
	// removeErr fails RemoveBinding for the given channel.
	removeErr map[string]error
}

func newFakeDirectory(bindings map[string][]string) *fakeDirectory {
	return &fakeDirectory{channels: bindings}
}

func (d *fakeDirectory) ListTrackedAccounts(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	accounts := make([]string, 0, len(d.channels))
	for account, chans := range d.channels {
		if len(chans) > 0 {
			accounts = append(accounts, account)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (d *fakeDirectory) ListChannelsForAccount(ctx context.Context, account string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.channels[account]), nil
}

func (d *fakeDirectory) RemoveBinding(ctx context.Context, channelID, account string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.removeErr[channelID]; err != nil {
		return false, err
	}
	chans := d.channels[account]
	i := slices.Index(chans, channelID)
	if i < 0 {
		return false, nil
	}
	d.channels[account] = slices.Delete(chans, i, i+1)
	d.removed = append(d.removed, channelID+"/"+account)
	return true, nil
}

type fakeStore struct {
	mu        sync.Mutex
	solved    map[string]bool
	records   []*models.Submission
	hasCalls  int
	recordErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{solved: make(map[string]bool)}
}

func storeKey(account, problemID string) string {
	return strings.ToLower(account) + "/" + problemID
}

func (s *fakeStore) HasSolved(ctx context.Context, problemID, account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasCalls++
	return s.solved[storeKey(account, problemID)], nil
}

func (s *fakeStore) RecordSubmission(ctx context.Context, sub *models.Submission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return false, s.recordErr
	}
	key := storeKey(sub.AccountID, sub.ProblemID)
	if s.solved[key] {
		return false, nil
	}
	s.solved[key] = true
	s.records = append(s.records, sub)
	return true, nil
}

func (s *fakeStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeJudge struct {
	mu      sync.Mutex
	subs    map[string][]*codeforces.Submission
	errs    map[string]error
	panicOn string
	calls   int
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{
		subs: make(map[string][]*codeforces.Submission),
		errs: make(map[string]error),
	}
}

func (j *fakeJudge) FetchRecentAccepted(ctx context.Context, handle string) ([]*codeforces.Submission, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if handle == j.panicOn {
		panic("judge exploded")
	}
	if err := j.errs[handle]; err != nil {
		return nil, err
	}
	return j.subs[handle], nil
}

func (j *fakeJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

type sentBatch struct {
	channelID string
	accounts  []string
	problems  []string
}

type sentErrors struct {
	channelID string
	messages  []string
}

type fakeGateway struct {
	mu        sync.Mutex
	connected bool
	result    gateway.DeliveryResult
	// dropAfter disconnects the gateway after that many sends when positive.
	dropAfter int
	batches   []sentBatch
	errors    []sentErrors
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{connected: true}
}

func (g *fakeGateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) sentLocked() {
	if g.dropAfter > 0 && len(g.batches)+len(g.errors) >= g.dropAfter {
		g.connected = false
	}
}

func (g *fakeGateway) SendBatch(ctx context.Context, channelID string, accounts, problems []string) (gateway.DeliveryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches = append(g.batches, sentBatch{channelID: channelID, accounts: accounts, problems: problems})
	g.sentLocked()
	return g.result, nil
}

func (g *fakeGateway) SendErrorBatch(ctx context.Context, channelID string, messages []string) gateway.DeliveryResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errors = append(g.errors, sentErrors{channelID: channelID, messages: messages})
	g.sentLocked()
	return g.result
}

func (g *fakeGateway) sentBatches() []sentBatch {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.batches)
}

func (g *fakeGateway) sentErrors() []sentErrors {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.errors)
}

func intPtr(v int) *int {
	return &v
}

func accepted(id int64, contestID int, index string, rating *int, handles ...string) *codeforces.Submission {
	members := make([]codeforces.Member, 0, len(handles))
	for _, h := range handles {
		members = append(members, codeforces.Member{Handle: h})
	}
	return &codeforces.Submission{
		ID:                  id,
		ContestID:           contestID,
		CreationTimeSeconds: 1700000000 + id,
		Problem:             &codeforces.Problem{ContestID: contestID, Index: index, Rating: rating},
		Author:              &codeforces.Party{Members: members},
		Verdict:             codeforces.VerdictOK,
	}
}
