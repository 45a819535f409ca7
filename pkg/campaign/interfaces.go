package campaign

import "context"

// MessageChannel is the outbound WhatsApp session shared by every campaign.
type MessageChannel interface {
	SendText(ctx context.Context, recipient string, text string) (string, error)
	SendMedia(ctx context.Context, recipient string, caption string, media Media) (string, error)
	IsReady() bool
	GetContacts(ctx context.Context) ([]Contact, error)
	GetGroupParticipants(ctx context.Context, groupID string) ([]Contact, error)
}

// CampaignStore persists campaigns. Get returns nil, nil for an unknown id.
// Update returns nil, nil when the row is gone or the Patch precondition
// rejected the stored status.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*Campaign, error)
	List(ctx context.Context) ([]*Campaign, error)
	Create(ctx context.Context, c *Campaign) error
	Update(ctx context.Context, id string, patch Patch) (*Campaign, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ContactGroupStore reads contact groups. GetGroup returns nil, nil for an
// unknown id.
type ContactGroupStore interface {
	GetGroup(ctx context.Context, id string) (*ContactGroup, error)
	GetMembers(ctx context.Context, groupID string) ([]Member, error)
}

// ProgressSink receives progress events. Publish must not block.
type ProgressSink interface {
	Publish(event ProgressEvent)
}

// Lease is an exclusive claim on one campaign run held across processes.
type Lease interface {
	Extend(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Leaser hands out leases keyed by campaign id. ok is false when another
// holder owns the key.
type Leaser interface {
	Acquire(ctx context.Context, campaignID string) (lease Lease, ok bool, err error)
}

type ProgressSinkFunc func(event ProgressEvent)

func (f ProgressSinkFunc) Publish(event ProgressEvent) { f(event) }

type discardSink struct{}

func (discardSink) Publish(ProgressEvent) {}
