package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

// MemoryCampaignStore keeps campaigns in process memory. Every read and
// write works on copies.
type MemoryCampaignStore struct {
	mu        sync.RWMutex
	campaigns map[string]*campaign.Campaign
	order     []string
	now       func() time.Time
}

func NewMemoryCampaignStore() *MemoryCampaignStore {
	return &MemoryCampaignStore{
		campaigns: make(map[string]*campaign.Campaign),
		now:       time.Now,
	}
}

func (s *MemoryCampaignStore) Get(_ context.Context, id string) (*campaign.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}
	return cloneCampaign(c), nil
}

// List returns campaigns newest first.
func (s *MemoryCampaignStore) List(_ context.Context) ([]*campaign.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*campaign.Campaign, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, cloneCampaign(s.campaigns[s.order[i]]))
	}
	return out, nil
}

func (s *MemoryCampaignStore) Create(_ context.Context, c *campaign.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; ok {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	s.campaigns[c.ID] = cloneCampaign(c)
	s.order = append(s.order, c.ID)
	return nil
}

func (s *MemoryCampaignStore) Update(_ context.Context, id string, patch campaign.Patch) (*campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || !patch.Allows(c.Status) {
		return nil, nil
	}
	patch.Apply(c, s.now())
	return cloneCampaign(c), nil
}

func (s *MemoryCampaignStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return false, nil
	}
	delete(s.campaigns, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return true, nil
}

func cloneCampaign(c *campaign.Campaign) *campaign.Campaign {
	out := *c
	out.ScheduleHours = slices.Clone(c.ScheduleHours)
	if c.TimePost != nil {
		t := *c.TimePost
		out.TimePost = &t
	}
	if c.LastExecuted != nil {
		t := *c.LastExecuted
		out.LastExecuted = &t
	}
	return &out
}

// MemoryContactGroupStore keeps contact groups and their members in memory.
type MemoryContactGroupStore struct {
	mu      sync.RWMutex
	groups  map[string]campaign.ContactGroup
	order   []string
	members map[string][]campaign.Member
}

func NewMemoryContactGroupStore() *MemoryContactGroupStore {
	return &MemoryContactGroupStore{
		groups:  make(map[string]campaign.ContactGroup),
		members: make(map[string][]campaign.Member),
	}
}

func (s *MemoryContactGroupStore) CreateGroup(_ context.Context, name string) (*campaign.ContactGroup, error) {
	g := campaign.ContactGroup{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	s.mu.Lock()
	s.groups[g.ID] = g
	s.order = append(s.order, g.ID)
	s.mu.Unlock()
	return &g, nil
}

func (s *MemoryContactGroupStore) ListGroups(_ context.Context) ([]campaign.ContactGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]campaign.ContactGroup, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.groups[id])
	}
	return out, nil
}

func (s *MemoryContactGroupStore) GetGroup(_ context.Context, id string) (*campaign.ContactGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// GetMembers returns members in insertion order.
func (s *MemoryContactGroupStore) GetMembers(_ context.Context, groupID string) ([]campaign.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members[groupID]), nil
}

func (s *MemoryContactGroupStore) AddMembers(_ context.Context, groupID string, members []campaign.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return &campaign.NotFoundError{Resource: "contact group", ID: groupID}
	}
	s.members[groupID] = append(s.members[groupID], members...)
	return nil
}
