package whatsapp

import (
	"context"
	"errors"
	"sort"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

type GroupSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

// GetContacts lists the session's saved personal contacts ordered by number.
func (c *Channel) GetContacts(ctx context.Context) ([]campaign.Contact, error) {
	client, err := c.readyClient()
	if err != nil {
		return nil, err
	}
	contacts, err := client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, err
	}
	return contactList(contacts), nil
}

func contactList(contacts map[types.JID]types.ContactInfo) []campaign.Contact {
	out := make([]campaign.Contact, 0, len(contacts))
	for jid, info := range contacts {
		if jid.Server != types.DefaultUserServer || jid.User == "" {
			continue
		}
		out = append(out, campaign.Contact{ID: jid.User, Name: contactName(info)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func contactName(info types.ContactInfo) string {
	switch {
	case info.FullName != "":
		return info.FullName
	case info.FirstName != "":
		return info.FirstName
	case info.PushName != "":
		return info.PushName
	default:
		return info.BusinessName
	}
}

// GetGroupParticipants fetches the roster of a joined group. The session's
// own account is left out, so a group of 8 that includes us yields 7 contacts.
// Concurrent calls for one group share a single request.
func (c *Channel) GetGroupParticipants(ctx context.Context, groupID string) ([]campaign.Contact, error) {
	client, err := c.readyClient()
	if err != nil {
		return nil, err
	}
	jid := ComposeJID(groupID)
	if jid.Server != types.GroupServer {
		return nil, &campaign.NotFoundError{Resource: "whatsapp group", ID: groupID}
	}

	v, err, _ := c.rosters.Do(jid.String(), func() (interface{}, error) {
		return client.GetGroupInfo(ctx, jid)
	})
	if errors.Is(err, whatsmeow.ErrGroupNotFound) || errors.Is(err, whatsmeow.ErrNotInGroup) {
		return nil, &campaign.NotFoundError{Resource: "whatsapp group", ID: groupID}
	}
	if err != nil {
		return nil, err
	}
	info := v.(*types.GroupInfo)

	var self []string
	if client.Store.ID != nil {
		self = append(self, client.Store.ID.User)
	}
	if !client.Store.LID.IsEmpty() {
		self = append(self, client.Store.LID.User)
	}

	resolve := func(lid types.JID) types.JID {
		pn, err := client.Store.LIDs.GetPNForLID(ctx, lid)
		if err != nil {
			return types.EmptyJID
		}
		return pn
	}
	return participantContacts(info.Participants, self, resolve), nil
}

// participantContacts maps a roster to one contact per member, excluding
// the session's own account. Members hidden behind a LID are addressed by
// phone number when it is known and by the full LID JID otherwise.
func participantContacts(participants []types.GroupParticipant, self []string, resolve func(types.JID) types.JID) []campaign.Contact {
	skip := make(map[string]struct{}, len(self))
	for _, s := range self {
		skip[s] = struct{}{}
	}

	seen := make(map[string]struct{}, len(participants))
	out := make([]campaign.Contact, 0, len(participants))
	for _, p := range participants {
		id := p.PhoneNumber.User
		if id == "" && p.JID.Server == types.DefaultUserServer {
			id = p.JID.User
		}
		if id == "" && p.JID.Server == types.HiddenUserServer && resolve != nil {
			id = resolve(p.JID).User
		}
		if id == "" {
			id = p.JID.String()
		}

		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := skip[p.JID.User]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, campaign.Contact{ID: id, Name: p.DisplayName})
	}
	return out
}

func (c *Channel) JoinedGroups(ctx context.Context) ([]GroupSummary, error) {
	client, err := c.readyClient()
	if err != nil {
		return nil, err
	}
	groups, err := client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupSummary{
			ID:           g.JID.String(),
			Name:         g.Name,
			Participants: len(g.Participants),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
