package campaign

import (
	"context"
	"fmt"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

// TargetResolver expands a campaign's audience into concrete recipients.
type TargetResolver struct {
	groups  ContactGroupStore
	channel MessageChannel
}

func NewTargetResolver(groups ContactGroupStore, channel MessageChannel) *TargetResolver {
	return &TargetResolver{groups: groups, channel: channel}
}

// Resolve returns the recipients in send order. A whatsapp_group campaign
// fans out to one target per participant reported by the channel, never to
// the group itself. The WhatsApp channel omits the sending account.
func (r *TargetResolver) Resolve(ctx context.Context, c *Campaign) ([]Target, error) {
	switch c.TargetType {
	case TargetContactGroup:
		members, err := r.validMembers(ctx, c.ContactGroupID)
		if err != nil {
			return nil, err
		}
		targets := make([]Target, 0, len(members))
		for _, m := range members {
			targets = append(targets, Target{ID: m.PhoneNumber, Name: m.Name})
		}
		return targets, nil

	case TargetLocalContacts:
		contacts, err := r.channel.GetContacts(ctx)
		if err != nil {
			return nil, fmt.Errorf("load local contacts: %w", err)
		}
		return contactsToTargets(contacts), nil

	case TargetWhatsAppGroup:
		participants, err := r.channel.GetGroupParticipants(ctx, c.WhatsAppGroupID)
		if err != nil {
			return nil, err
		}
		return contactsToTargets(participants), nil
	}

	return nil, fmt.Errorf("unknown target type %q", c.TargetType)
}

// Count is the create-time audience size. It avoids remote roster fetches,
// so a whatsapp_group campaign counts as 1 until it is executed.
func (r *TargetResolver) Count(ctx context.Context, c *Campaign) (int, error) {
	switch c.TargetType {
	case TargetContactGroup:
		members, err := r.validMembers(ctx, c.ContactGroupID)
		if err != nil {
			return 0, err
		}
		return len(members), nil

	case TargetLocalContacts:
		if !r.channel.IsReady() {
			log.Campaign(c.ID).Warn("WhatsApp channel not ready, local contact count defaults to 0")
			return 0, nil
		}
		contacts, err := r.channel.GetContacts(ctx)
		if err != nil {
			log.Campaign(c.ID).WithError(err).Warn("Failed to count local contacts")
			return 0, nil
		}
		return len(contacts), nil

	case TargetWhatsAppGroup:
		return 1, nil
	}

	return 0, fmt.Errorf("unknown target type %q", c.TargetType)
}

func (r *TargetResolver) validMembers(ctx context.Context, groupID string) ([]Member, error) {
	group, err := r.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load contact group: %w", err)
	}
	if group == nil {
		return nil, &NotFoundError{Resource: "contact group", ID: groupID}
	}

	members, err := r.groups.GetMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load contact group members: %w", err)
	}

	valid := make([]Member, 0, len(members))
	for _, m := range members {
		if m.Status == MemberValid {
			valid = append(valid, m)
		}
	}
	return valid, nil
}

func contactsToTargets(contacts []Contact) []Target {
	targets := make([]Target, 0, len(contacts))
	for _, c := range contacts {
		targets = append(targets, Target{ID: c.ID, Name: c.Name})
	}
	return targets
}
