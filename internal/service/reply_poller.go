package service

import (
	"context"
	"fmt"
	"slices"
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
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

const (
	replyCancelReason   = "Prospect replied - sequence stopped"
	pendingDraftText    = "[Pending AI generation]"
	draftChannel        = "linkedin"
	pollAccountParallel = 4
)

// PollSummary is what one reply poll did.
type PollSummary struct {
	RunID         string `json:"run_id"`
	Accounts      int    `json:"accounts"`
	Prospects     int    `json:"prospects"`
	NewReplies    int    `json:"new_replies"`
	DraftsCreated int    `json:"drafts_created"`
	Healed        int    `json:"healed"`
	Errors        int    `json:"errors"`
}

// ReplyPoller detects inbound replies and stops the sequences of prospects
// that answered.
type ReplyPoller struct {
	Prospects repository.ProspectRepositoryInterface
	Queue     repository.QueueRepositoryInterface
	Drafts    repository.DraftRepositoryInterface
	Provider  provider.Client
	Notifier  *queue.Notifier
	Logger    *zap.Logger
	Now       func() time.Time

	ChatsLimit    int
	MessagesLimit int
	// RepliedWindow keeps already-replied prospects polled for follow-up messages.
	RepliedWindow time.Duration
	DraftTTL      time.Duration
	Timeout       time.Duration
}

func (p *ReplyPoller) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// pollRun accumulates counters across concurrently polled accounts.
type pollRun struct {
	mu      sync.Mutex
	summary PollSummary
}

func (r *pollRun) add(f func(s *PollSummary)) {
	r.mu.Lock()
	f(&r.summary)
	r.mu.Unlock()
}

// Poll runs one pass over every prospect awaiting a reply. A failure for one
// prospect or account is counted and logged; only the candidate query
// itself can fail the pass.
func (p *ReplyPoller) Poll(ctx context.Context) (PollSummary, error) {
	run := &pollRun{summary: PollSummary{RunID: uuid.NewString()}}
	base := p.Logger
	if base == nil {
		base = zap.NewNop()
	}
	log := base.With(zap.String("job", "reply_poll"), zap.String("run_id", run.summary.RunID))
	ctx = logger.ToContext(ctx, log)

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.JobDuration.WithLabelValues("reply_poll", outcome).Observe(time.Since(start).Seconds())
	}()

	candidates, err := p.Prospects.ListReplyCandidates(ctx, model.AwaitingReplyStatuses, p.now().Add(-p.RepliedWindow))
	if err != nil {
		outcome = "error"
		return run.summary, fmt.Errorf("list reply candidates: %w", err)
	}

	var order []string
	byAccount := make(map[string][]*model.ReplyCandidate)
	for i := range candidates {
		acc := candidates[i].ProviderAccountID
		if _, ok := byAccount[acc]; !ok {
			order = append(order, acc)
		}
		byAccount[acc] = append(byAccount[acc], &candidates[i])
	}
	run.summary.Accounts = len(order)
	run.summary.Prospects = len(candidates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollAccountParallel)
	for _, acc := range order {
		acc := acc
		g.Go(func() error {
			p.pollAccount(gctx, run, acc, byAccount[acc])
			return nil
		})
	}
	_ = g.Wait()

	log.Info("reply poll finished",
		zap.Int("accounts", run.summary.Accounts),
		zap.Int("prospects", run.summary.Prospects),
		zap.Int("new_replies", run.summary.NewReplies),
		zap.Int("errors", run.summary.Errors),
	)
	return run.summary, nil
}

func (p *ReplyPoller) pollAccount(ctx context.Context, run *pollRun, accountID string, prospects []*model.ReplyCandidate) {
	log := logger.Extract(ctx).With(zap.String("provider_account_id", accountID))

	chats, err := p.Provider.ListChats(ctx, accountID, p.ChatsLimit)
	if err != nil {
		log.Warn("list chats failed", zap.Error(err))
		run.add(func(s *PollSummary) { s.Errors++ })
		return
	}

	healed, err := p.matchInbound(ctx, accountID, prospects, chats)
	if err != nil {
		log.Warn("inbound scan failed", zap.Error(err))
		run.add(func(s *PollSummary) { s.Errors++ })
	}
	if healed > 0 {
		run.add(func(s *PollSummary) { s.Healed += healed })
	}

	for _, c := range prospects {
		if ctx.Err() != nil {
			return
		}
		replies, drafts, err := p.pollProspect(ctx, accountID, c, chats)
		if err != nil {
			log.Warn("reply check failed", zap.Int64("prospect_id", c.ID), zap.Error(err))
			run.add(func(s *PollSummary) { s.Errors++ })
			continue
		}
		if replies > 0 {
			run.add(func(s *PollSummary) {
				s.NewReplies += replies
				s.DraftsCreated += drafts
			})
		}
	}
}

// matchInbound scans the account's recent inbound messages and repairs the
// stored identifier of prospects whose id is truncated or stale. A prospect
// whose id already belongs to one of the account's chats is never rewritten.
func (p *ReplyPoller) matchInbound(ctx context.Context, accountID string, prospects []*model.ReplyCandidate, chats []provider.Chat) (int, error) {
	recent, err := p.Provider.ListRecentMessages(ctx, accountID, p.MessagesLimit)
	if err != nil {
		return 0, err
	}
	chatNames := make(map[string]string, len(chats))
	attendees := make(map[string]bool, len(chats))
	for _, c := range chats {
		chatNames[c.ID] = c.Name
		if c.AttendeeProviderID != "" {
			attendees[c.AttendeeProviderID] = true
		}
	}

	healed := 0
	for _, m := range recent {
		if m.IsSender || m.SenderID == "" {
			continue
		}
		match, healTo := matchSender(m.SenderID, chatNames[m.ChatID], prospects, attendees)
		if match == nil || healTo == "" {
			continue
		}
		if err := p.Prospects.UpdateRecipient(ctx, match.ID, healTo); err != nil {
			return healed, fmt.Errorf("heal prospect %d: %w", match.ID, err)
		}
		logger.Extract(ctx).Info("healed prospect identifier",
			zap.Int64("prospect_id", match.ID),
			zap.String("from", match.RecipientID),
			zap.String("to", healTo),
		)
		match.RecipientID = healTo
		attendees[healTo] = true
		healed++
	}
	return healed, nil
}

// matchSender finds the prospect an inbound sender belongs to and the id its
// stored identifier should become, empty when it stays as is.
//
// Matching runs by exact id, then by id prefix, then by a unique full-name
// match against the chat name. A truncated sender id matches the longer
// stored id without replacing it. Only prospects whose stored id is not a
// provider id, or is one no chat attendee carries, may be healed.
func matchSender(senderID, chatName string, prospects []*model.ReplyCandidate, attendees map[string]bool) (*model.ReplyCandidate, string) {
	for _, c := range prospects {
		if c.RecipientID == senderID {
			return c, ""
		}
	}
	healable := func(c *model.ReplyCandidate) bool {
		return !provider.IsProviderID(c.RecipientID) || !attendees[c.RecipientID]
	}
	for _, c := range prospects {
		if !provider.IsProviderID(c.RecipientID) || !provider.IsProviderID(senderID) {
			continue
		}
		if strings.HasPrefix(c.RecipientID, senderID) {
			return c, ""
		}
		if strings.HasPrefix(senderID, c.RecipientID) && healable(c) {
			return c, senderID
		}
	}

	name := strings.TrimSpace(chatName)
	if name == "" {
		return nil, ""
	}
	var found *model.ReplyCandidate
	for _, c := range prospects {
		if strings.EqualFold(c.FullName(), name) {
			if found != nil {
				return nil, ""
			}
			found = c
		}
	}
	if found == nil || !healable(found) {
		return nil, ""
	}
	return found, senderID
}

func (p *ReplyPoller) pollProspect(ctx context.Context, accountID string, c *model.ReplyCandidate, chats []provider.Chat) (int, int, error) {
	recipient, err := p.recipientID(ctx, accountID, c)
	if err != nil {
		return 0, 0, err
	}

	idx := slices.IndexFunc(chats, func(ch provider.Chat) bool { return ch.AttendeeProviderID == recipient })
	if idx < 0 {
		return 0, 0, nil
	}
	msgs, err := p.Provider.ListChatMessages(ctx, chats[idx].ID, p.MessagesLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("list messages: %w", err)
	}

	inbound := newInbound(msgs, c.LastProcessedMessageID)
	if len(inbound) == 0 {
		return 0, 0, nil
	}
	log := logger.Extract(ctx).With(zap.Int64("prospect_id", c.ID))
	newest := inbound[len(inbound)-1]

	first, err := p.Prospects.MarkReplied(ctx, c.ID, newest.CreatedAt)
	if err != nil {
		return 0, 0, fmt.Errorf("mark replied: %w", err)
	}
	if first {
		n, err := p.Queue.CancelPendingForProspect(ctx, c.ID, replyCancelReason)
		if err != nil {
			return 0, 0, fmt.Errorf("cancel pending items: %w", err)
		}
		log.Info("prospect replied, sequence stopped", zap.Int64("cancelled", n))
	}

	drafts := 0
	for _, m := range inbound {
		created, err := p.createDraft(ctx, c, m)
		if err != nil {
			return len(inbound), drafts, fmt.Errorf("create draft for %s: %w", m.ID, err)
		}
		if created {
			drafts++
		}
	}

	// The marker moves last so a failure above is retried on the next pass.
	if err := p.Prospects.SetLastProcessedMessage(ctx, c.ID, newest.ID); err != nil {
		return len(inbound), drafts, fmt.Errorf("advance marker: %w", err)
	}
	return len(inbound), drafts, nil
}

// recipientID returns the canonical id of the prospect, resolving and
// persisting it when only a profile URL or slug is stored.
func (p *ReplyPoller) recipientID(ctx context.Context, accountID string, c *model.ReplyCandidate) (string, error) {
	if provider.IsProviderID(c.RecipientID) {
		return c.RecipientID, nil
	}
	slug := provider.ExtractSlug(c.RecipientID)
	if slug == "" {
		return "", fmt.Errorf("unusable recipient identifier %q", c.RecipientID)
	}
	id, err := p.Provider.ResolveID(ctx, accountID, slug)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", slug, err)
	}
	if err := p.Prospects.UpdateRecipient(ctx, c.ID, id); err != nil {
		return "", err
	}
	c.RecipientID = id
	return id, nil
}

// newInbound returns the inbound messages after marker, oldest first. When
// the marker is empty or no longer in the fetched window every inbound
// message is returned; draft creation dedups them.
func newInbound(msgs []provider.Message, marker string) []provider.Message {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b provider.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if marker != "" {
		if i := slices.IndexFunc(sorted, func(m provider.Message) bool { return m.ID == marker }); i >= 0 {
			sorted = sorted[i+1:]
		}
	}
	out := sorted[:0:0]
	for _, m := range sorted {
		if !m.IsSender {
			out = append(out, m)
		}
	}
	return out
}

func (p *ReplyPoller) createDraft(ctx context.Context, c *model.ReplyCandidate, m provider.Message) (bool, error) {
	now := p.now()
	receivedAt := m.CreatedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	d := &model.ReplyDraft{
		WorkspaceID:        c.WorkspaceID,
		CampaignID:         c.CampaignID,
		ProspectID:         c.ID,
		InboundMessageID:   m.ID,
		InboundMessageText: m.Text,
		InboundMessageAt:   receivedAt,
		Channel:            draftChannel,
		ProspectName:       c.FullName(),
		DraftText:          pendingDraftText,
		ApprovalToken:      uuid.NewString(),
		ExpiresAt:          now.Add(p.DraftTTL),
		Status:             model.ReplyDraftStatusPendingGeneration,
	}
	created, err := p.Drafts.CreateIfAbsent(ctx, d)
	if err != nil || !created {
		return false, err
	}

	metrics.RepliesDetectedTotal.Inc()
	p.Notifier.ReplyReceived(queue.ReplyEvent{
		WorkspaceID:      c.WorkspaceID,
		CampaignID:       c.CampaignID,
		ProspectID:       c.ID,
		DraftID:          d.ID,
		InboundMessageID: m.ID,
		Text:             m.Text,
		ReceivedAt:       receivedAt,
	})
	return true, nil
}
