package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
)

// store is an in-memory stand-in for all repositories, keeping the
// state transitions of the SQL implementations.
type store struct {
	mu sync.Mutex

	items     map[int64]*model.QueueItem
	campaigns map[int64]*model.Campaign
	accounts  map[int64]*model.Account
	prospects map[int64]*model.Prospect
	history   []model.HistoryRecord
	drafts    map[string]*model.ReplyDraft
	nextID    int64

	// beforeClaim runs before each claim; returning true makes the claim lose.
	beforeClaim func(id int64) bool
	failOn      map[string]error
	calls       []string
}

func newStore() *store {
	return &store{
		items:     make(map[int64]*model.QueueItem),
		campaigns: make(map[int64]*model.Campaign),
		accounts:  make(map[int64]*model.Account),
		prospects: make(map[int64]*model.Prospect),
		drafts:    make(map[string]*model.ReplyDraft),
		failOn:    make(map[string]error),
		nextID:    1000,
	}
}

func (s *store) call(name string) error {
	s.calls = append(s.calls, name)
	return s.failOn[name]
}

func (s *store) called(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (s *store) item(id int64) model.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

func (s *store) prospect(id int64) model.Prospect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.prospects[id]
}

func (s *store) campaignStatus(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaigns[id].Status
}

func (s *store) addItem(it model.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.Status == "" {
		it.Status = model.QueueStatusPending
	}
	s.items[it.ID] = &it
}

// addSent records a past send for the account.
func (s *store) addSent(accountID int64, messageType string, at time.Time) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	s.addItem(model.QueueItem{ID: id, AccountID: accountID, MessageType: messageType, Status: model.QueueStatusSent, SentAt: &at})
}

// queue repository

type queueRepo struct{ *store }

func (r queueRepo) FindDueItems(_ context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("FindDueItems"); err != nil {
		return nil, err
	}
	var out []model.QueueItem
	for _, it := range r.items {
		if it.Status == model.QueueStatusPending && !it.ScheduledFor.After(now) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r queueRepo) Claim(_ context.Context, id int64) (*model.QueueItem, error) {
	if r.beforeClaim != nil && r.beforeClaim(id) {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Claim"); err != nil {
		return nil, err
	}
	it, ok := r.items[id]
	if !ok || it.Status != model.QueueStatusPending {
		return nil, nil
	}
	it.Status = model.QueueStatusProcessing
	it.UpdatedAt = fixedNow()
	cp := *it
	return &cp, nil
}

func (r queueRepo) Release(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Release"); err != nil {
		return false, err
	}
	it := r.items[id]
	if it.Status != model.QueueStatusProcessing {
		return false, nil
	}
	it.Status = model.QueueStatusPending
	return true, nil
}

func (r queueRepo) MarkSent(_ context.Context, id int64, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MarkSent"); err != nil {
		return err
	}
	it := r.items[id]
	it.Status = model.QueueStatusSent
	it.SentAt = &sentAt
	return nil
}

func (r queueRepo) UpdateStatus(_ context.Context, id int64, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("UpdateStatus"); err != nil {
		return err
	}
	r.items[id].Status = status
	r.items[id].ErrorMessage = errMsg
	return nil
}

func (r queueRepo) Reschedule(_ context.Context, id int64, at time.Time, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Reschedule"); err != nil {
		return err
	}
	it := r.items[id]
	it.Status = model.QueueStatusPending
	it.ScheduledFor = at
	it.ErrorMessage = errMsg
	it.RetryCount++
	return nil
}

func (r queueRepo) Postpone(_ context.Context, id int64, at time.Time, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Postpone"); err != nil {
		return err
	}
	it := r.items[id]
	if it.Status == model.QueueStatusPending {
		it.ScheduledFor = at
		it.ErrorMessage = note
	}
	return nil
}

func (r queueRepo) UpdateRecipient(_ context.Context, id int64, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("QueueUpdateRecipient"); err != nil {
		return err
	}
	r.items[id].RecipientID = recipientID
	return nil
}

func (r queueRepo) ListRecentSends(_ context.Context, accountID int64, since time.Time) ([]model.SendRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ListRecentSends"); err != nil {
		return nil, err
	}
	var out []model.SendRecord
	for _, it := range r.items {
		if it.AccountID != accountID {
			continue
		}
		switch {
		case it.Status == model.QueueStatusSent && it.SentAt != nil && !it.SentAt.Before(since):
			out = append(out, model.SendRecord{MessageType: it.MessageType, SentAt: *it.SentAt})
		case it.Status == model.QueueStatusProcessing && !it.UpdatedAt.Before(since):
			out = append(out, model.SendRecord{MessageType: it.MessageType, SentAt: it.UpdatedAt})
		}
	}
	return out, nil
}

func (r queueRepo) CancelPendingForProspect(_ context.Context, prospectID int64, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("CancelPendingForProspect"); err != nil {
		return 0, err
	}
	var n int64
	for _, it := range r.items {
		if it.ProspectID == prospectID && it.Status == model.QueueStatusPending {
			it.Status = model.QueueStatusCancelled
			it.ErrorMessage = reason
			n++
		}
	}
	return n, nil
}

func (r queueRepo) FailStaleProcessing(_ context.Context, olderThan time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("FailStaleProcessing"); err != nil {
		return 0, err
	}
	var n int64
	for _, it := range r.items {
		if it.Status == model.QueueStatusProcessing && it.UpdatedAt.Before(olderThan) {
			it.Status = model.QueueStatusFailed
			it.ErrorMessage = reason
			n++
		}
	}
	return n, nil
}

func (r queueRepo) CreateItems(_ context.Context, items []*model.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("CreateItems"); err != nil {
		return err
	}
	for _, it := range items {
		r.nextID++
		it.ID = r.nextID
		cp := *it
		r.items[it.ID] = &cp
	}
	return nil
}

func (r queueRepo) HasItemsForProspect(_ context.Context, campaignID, prospectID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.CampaignID == campaignID && it.ProspectID == prospectID {
			return true, nil
		}
	}
	return false, nil
}

func (r queueRepo) StatsByCampaign(_ context.Context, campaignID int64) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, it := range r.items {
		if it.CampaignID == campaignID {
			out[it.Status]++
		}
	}
	return out, nil
}

// campaign repository

type campaignRepo struct{ *store }

func (r campaignRepo) ListCampaigns(_ context.Context, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Campaign
	for _, c := range r.campaigns {
		if (campaignType == "" || c.CampaignType == campaignType) && (status == "" || c.Status == status) {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (r campaignRepo) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r campaignRepo) UpdateStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("CampaignUpdateStatus"); err != nil {
		return err
	}
	c, ok := r.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (r campaignRepo) MarkExecuted(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MarkExecuted"); err != nil {
		return err
	}
	r.campaigns[id].LastExecutedAt = &at
	return nil
}

func (r campaignRepo) Create(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

// account repository

type accountRepo struct{ *store }

func (r accountRepo) GetByID(_ context.Context, id int64) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, appErrors.NewAccountNotFound(id)
	}
	cp := *a
	return &cp, nil
}

func (r accountRepo) Create(_ context.Context, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
	return nil
}

// prospect repository

type prospectRepo struct{ *store }

func (r prospectRepo) GetByID(_ context.Context, id int64) (*model.Prospect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prospects[id]
	if !ok {
		return nil, appErrors.NewProspectNotFound(id)
	}
	cp := *p
	return &cp, nil
}

func (r prospectRepo) Create(_ context.Context, p *model.Prospect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prospects[p.ID] = p
	return nil
}

func (r prospectRepo) UpdateStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ProspectUpdateStatus"); err != nil {
		return err
	}
	r.prospects[id].Status = status
	return nil
}

func (r prospectRepo) MarkContacted(_ context.Context, id int64, status string, at time.Time, followUpDueAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MarkContacted"); err != nil {
		return err
	}
	p := r.prospects[id]
	p.Status = status
	if p.ContactedAt == nil {
		p.ContactedAt = &at
	}
	if followUpDueAt != nil {
		p.FollowUpDueAt = followUpDueAt
	}
	return nil
}

func (r prospectRepo) UpdateRecipient(_ context.Context, id int64, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ProspectUpdateRecipient"); err != nil {
		return err
	}
	r.prospects[id].RecipientID = recipientID
	return nil
}

func (r prospectRepo) MarkReplied(_ context.Context, id int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MarkReplied"); err != nil {
		return false, err
	}
	p := r.prospects[id]
	if p.Status == model.ProspectStatusReplied {
		return false, nil
	}
	p.Status = model.ProspectStatusReplied
	p.RespondedAt = &at
	p.FollowUpDueAt = nil
	return true, nil
}

func (r prospectRepo) SetLastProcessedMessage(_ context.Context, id int64, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("SetLastProcessedMessage"); err != nil {
		return err
	}
	r.prospects[id].LastProcessedMessageID = messageID
	return nil
}

func (r prospectRepo) ListReplyCandidates(_ context.Context, statuses []string, repliedSince time.Time) ([]model.ReplyCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ListReplyCandidates"); err != nil {
		return nil, err
	}
	awaiting := map[string]bool{}
	for _, s := range statuses {
		awaiting[s] = true
	}
	var ids []int64
	for id := range r.prospects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []model.ReplyCandidate
	for _, id := range ids {
		p := r.prospects[id]
		recent := p.Status == model.ProspectStatusReplied && p.RespondedAt != nil && !p.RespondedAt.Before(repliedSince)
		if !awaiting[p.Status] && !recent {
			continue
		}
		c := r.campaigns[p.CampaignID]
		a := r.accounts[c.AccountID]
		out = append(out, model.ReplyCandidate{
			Prospect:          *p,
			WorkspaceID:       c.WorkspaceID,
			AccountID:         a.ID,
			ProviderAccountID: a.ProviderAccountID,
		})
	}
	return out, nil
}

func (r prospectRepo) ListApprovedForCampaign(_ context.Context, campaignID int64) ([]model.Prospect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Prospect
	for _, p := range r.prospects {
		if p.CampaignID == campaignID && p.Status == model.ProspectStatusApproved {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r prospectRepo) ListConnectionCandidates(_ context.Context, limit int) ([]model.ReplyCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ListConnectionCandidates"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, p := range r.prospects {
		if p.Status == model.ProspectStatusConnectionRequestSent {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []model.ReplyCandidate
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		p := r.prospects[id]
		c := r.campaigns[p.CampaignID]
		a := r.accounts[c.AccountID]
		out = append(out, model.ReplyCandidate{
			Prospect:          *p,
			WorkspaceID:       c.WorkspaceID,
			AccountID:         a.ID,
			ProviderAccountID: a.ProviderAccountID,
		})
	}
	return out, nil
}

func (r prospectRepo) MarkConnected(_ context.Context, id int64, _, followUpDueAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MarkConnected"); err != nil {
		return false, err
	}
	p := r.prospects[id]
	if p.Status != model.ProspectStatusConnectionRequestSent {
		return false, nil
	}
	p.Status = model.ProspectStatusConnected
	p.FollowUpDueAt = &followUpDueAt
	return true, nil
}

func (r prospectRepo) MarkDeclined(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MarkDeclined"); err != nil {
		return false, err
	}
	p := r.prospects[id]
	if p.Status != model.ProspectStatusConnectionRequestSent {
		return false, nil
	}
	p.Status = model.ProspectStatusInvitationDeclined
	p.FollowUpDueAt = nil
	return true, nil
}

// history and draft repositories

type historyRepo struct{ *store }

func (r historyRepo) Insert(_ context.Context, h *model.HistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("HistoryInsert"); err != nil {
		return err
	}
	r.history = append(r.history, *h)
	return nil
}

type draftRepo struct{ *store }

func (r draftRepo) CreateIfAbsent(_ context.Context, d *model.ReplyDraft) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("CreateIfAbsent"); err != nil {
		return false, err
	}
	if _, ok := r.drafts[d.InboundMessageID]; ok {
		return false, nil
	}
	r.nextID++
	d.ID = r.nextID
	cp := *d
	r.drafts[d.InboundMessageID] = &cp
	return true, nil
}

// fakeProvider records calls and returns scripted results.
type fakeProvider struct {
	mu sync.Mutex

	resolve      map[string]string
	sendErr      error
	chats        map[string][]provider.Chat
	chatMessages map[string][]provider.Message
	recent       map[string][]provider.Message
	listChatsErr map[string]error
	chatMsgErr   map[string]error
	invitations  map[string][]provider.Member
	relations    map[string][]provider.Member
	relationsErr map[string]error

	invites  []string
	messages []string
	inmails  []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		resolve:      map[string]string{},
		chats:        map[string][]provider.Chat{},
		chatMessages: map[string][]provider.Message{},
		recent:       map[string][]provider.Message{},
		listChatsErr: map[string]error{},
		chatMsgErr:   map[string]error{},
		invitations:  map[string][]provider.Member{},
		relations:    map[string][]provider.Member{},
		relationsErr: map[string]error{},
	}
}

func (f *fakeProvider) ResolveID(_ context.Context, _, slug string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resolve[slug]
	if !ok {
		return "", appErrors.NewProviderError(404, "profile not found: "+slug)
	}
	return id, nil
}

func (f *fakeProvider) SendConnectionRequest(_ context.Context, _, providerID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.invites = append(f.invites, providerID+"|"+message)
	return nil
}

func (f *fakeProvider) StartChat(_ context.Context, _, providerID, text string, inmail bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if inmail {
		f.inmails = append(f.inmails, providerID+"|"+text)
	} else {
		f.messages = append(f.messages, providerID+"|"+text)
	}
	return "chat-" + providerID, nil
}

func (f *fakeProvider) SendMessage(_ context.Context, _, providerID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.messages = append(f.messages, providerID+"|"+text)
	return "chat-" + providerID, nil
}

func (f *fakeProvider) ListChats(_ context.Context, accountID string, _ int) ([]provider.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listChatsErr[accountID]; err != nil {
		return nil, err
	}
	return f.chats[accountID], nil
}

func (f *fakeProvider) ListChatMessages(_ context.Context, chatID string, _ int) ([]provider.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.chatMsgErr[chatID]; err != nil {
		return nil, err
	}
	return f.chatMessages[chatID], nil
}

func (f *fakeProvider) ListRecentMessages(_ context.Context, accountID string, _ int) ([]provider.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent[accountID], nil
}

func (f *fakeProvider) ListSentInvitations(_ context.Context, accountID string) ([]provider.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invitations[accountID], nil
}

func (f *fakeProvider) ListRelations(_ context.Context, accountID string) ([]provider.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.relationsErr[accountID]; err != nil {
		return nil, err
	}
	return f.relations[accountID], nil
}

// recordingQueue captures published notifications.
type recordingQueue struct {
	mu        sync.Mutex
	published map[string][]any
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{published: map[string][]any{}}
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[topic] = append(q.published[topic], payload)
	return nil
}

func (q *recordingQueue) Subscribe(string, func(payload any) error) error {
	return errors.New("not supported")
}

func (q *recordingQueue) count(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[topic])
}
