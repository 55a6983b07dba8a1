package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/schedule"
)

const (
	declineCancelReason      = "Connection declined - sequence stopped"
	DefaultConnectionBatch   = 50
	DefaultDeclineAfter      = 24 * time.Hour
	followUpAfterAcceptDelay = 24 * time.Hour
)

type connectionResult int

const (
	connectionPending connectionResult = iota
	connectionAccepted
	connectionDeclined
)

// ConnectionSummary is what one connection poll did.
type ConnectionSummary struct {
	RunID        string `json:"run_id"`
	Checked      int    `json:"checked"`
	Accepted     int    `json:"accepted"`
	Declined     int    `json:"declined"`
	StillPending int    `json:"still_pending"`
	Errors       int    `json:"errors"`
}

// ConnectionPoller moves prospects out of connection_request_sent once the
// provider shows their request accepted or gone.
type ConnectionPoller struct {
	Prospects repository.ProspectRepositoryInterface
	Queue     repository.QueueRepositoryInterface
	Provider  provider.Client
	Calendar  *schedule.Calendar
	Logger    *zap.Logger
	Now       func() time.Time

	BatchSize int
	// DeclineAfter is how long a request must be out before its absence from
	// both the pending list and the relations counts as a decline.
	DeclineAfter time.Duration
	Timeout      time.Duration
}

func (p *ConnectionPoller) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// memberSet indexes members by provider id and lowercased slug.
type memberSet map[string]bool

func newMemberSet(members []provider.Member) memberSet {
	set := make(memberSet, len(members)*2)
	for _, m := range members {
		if m.ProviderID != "" {
			set[m.ProviderID] = true
		}
		if m.PublicID != "" {
			set[strings.ToLower(m.PublicID)] = true
		}
	}
	return set
}

// has matches a stored recipient either as a provider id or as a slug.
func (s memberSet) has(recipient string) bool {
	if recipient == "" {
		return false
	}
	if provider.IsProviderID(recipient) {
		return s[recipient]
	}
	slug := provider.ExtractSlug(recipient)
	return slug != "" && s[strings.ToLower(slug)]
}

// Poll checks one batch of prospects with an open connection request. A
// failure for one account or prospect is counted and logged; only the
// candidate query can fail the pass.
func (p *ConnectionPoller) Poll(ctx context.Context) (ConnectionSummary, error) {
	summary := ConnectionSummary{RunID: uuid.NewString()}
	base := p.Logger
	if base == nil {
		base = zap.NewNop()
	}
	log := base.With(zap.String("job", "connection_poll"), zap.String("run_id", summary.RunID))
	ctx = logger.ToContext(ctx, log)

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.JobDuration.WithLabelValues("connection_poll", outcome).Observe(time.Since(start).Seconds())
	}()

	batch := p.BatchSize
	if batch <= 0 {
		batch = DefaultConnectionBatch
	}
	candidates, err := p.Prospects.ListConnectionCandidates(ctx, batch)
	if err != nil {
		outcome = "error"
		return summary, fmt.Errorf("list connection candidates: %w", err)
	}
	summary.Checked = len(candidates)

	var order []string
	byAccount := make(map[string][]*model.ReplyCandidate)
	for i := range candidates {
		acc := candidates[i].ProviderAccountID
		if _, ok := byAccount[acc]; !ok {
			order = append(order, acc)
		}
		byAccount[acc] = append(byAccount[acc], &candidates[i])
	}

	var mu sync.Mutex
	add := func(f func(s *ConnectionSummary)) {
		mu.Lock()
		f(&summary)
		mu.Unlock()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollAccountParallel)
	for _, acc := range order {
		acc := acc
		g.Go(func() error {
			p.pollAccount(gctx, add, acc, byAccount[acc])
			return nil
		})
	}
	_ = g.Wait()

	log.Info("connection poll finished",
		zap.Int("checked", summary.Checked),
		zap.Int("accepted", summary.Accepted),
		zap.Int("declined", summary.Declined),
		zap.Int("still_pending", summary.StillPending),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (p *ConnectionPoller) pollAccount(ctx context.Context, add func(func(*ConnectionSummary)), accountID string, prospects []*model.ReplyCandidate) {
	log := logger.Extract(ctx).With(zap.String("provider_account_id", accountID))

	invited, err := p.Provider.ListSentInvitations(ctx, accountID)
	if err != nil {
		log.Warn("list sent invitations failed", zap.Error(err))
		add(func(s *ConnectionSummary) { s.Errors += len(prospects) })
		return
	}
	related, err := p.Provider.ListRelations(ctx, accountID)
	if err != nil {
		log.Warn("list relations failed", zap.Error(err))
		add(func(s *ConnectionSummary) { s.Errors += len(prospects) })
		return
	}
	pending, connected := newMemberSet(invited), newMemberSet(related)

	for _, c := range prospects {
		if ctx.Err() != nil {
			return
		}
		result, err := p.resolve(ctx, c, pending, connected)
		if err != nil {
			log.Warn("connection update failed", zap.Int64("prospect_id", c.ID), zap.Error(err))
			add(func(s *ConnectionSummary) { s.Errors++ })
			continue
		}
		add(func(s *ConnectionSummary) {
			switch result {
			case connectionAccepted:
				s.Accepted++
			case connectionDeclined:
				s.Declined++
			default:
				s.StillPending++
			}
		})
	}
}

// resolve applies the provider's view to one prospect. A prospect that moved
// on in the meantime is left alone and reported pending.
func (p *ConnectionPoller) resolve(ctx context.Context, c *model.ReplyCandidate, pending, connected memberSet) (connectionResult, error) {
	log := logger.Extract(ctx).With(zap.Int64("prospect_id", c.ID))
	now := p.now()

	switch {
	case pending.has(c.RecipientID):
		return connectionPending, nil

	case connected.has(c.RecipientID):
		ok, err := p.Prospects.MarkConnected(ctx, c.ID, now, p.followUpDue(now))
		if err != nil {
			return connectionPending, fmt.Errorf("mark connected: %w", err)
		}
		if !ok {
			return connectionPending, nil
		}
		metrics.ConnectionUpdatesTotal.WithLabelValues("accepted").Inc()
		log.Info("connection accepted")
		return connectionAccepted, nil
	}

	declineAfter := p.DeclineAfter
	if declineAfter <= 0 {
		declineAfter = DefaultDeclineAfter
	}
	if c.ContactedAt == nil || now.Sub(*c.ContactedAt) < declineAfter {
		return connectionPending, nil
	}
	ok, err := p.Prospects.MarkDeclined(ctx, c.ID)
	if err != nil {
		return connectionPending, fmt.Errorf("mark declined: %w", err)
	}
	if !ok {
		return connectionPending, nil
	}
	n, err := p.Queue.CancelPendingForProspect(ctx, c.ID, declineCancelReason)
	if err != nil {
		return connectionPending, fmt.Errorf("cancel pending items: %w", err)
	}
	metrics.ConnectionUpdatesTotal.WithLabelValues("declined").Inc()
	log.Info("connection declined, sequence stopped", zap.Int64("cancelled", n))
	return connectionDeclined, nil
}

// followUpDue is the next business-hours instant a day after acceptance.
func (p *ConnectionPoller) followUpDue(now time.Time) time.Time {
	cal := p.Calendar
	if cal == nil {
		cal = schedule.DefaultCalendar()
	}
	from := now.Add(followUpAfterAcceptDelay)
	due, err := cal.NextWindow(from, schedule.DefaultSettings())
	if err != nil {
		return from
	}
	return due
}
