package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ComposeJID turns a phone number, group id or full JID into a JID. Bare
// ids containing '-' or 18+ digits are groups.
func ComposeJID(id string) types.JID {
	id = strings.TrimSpace(id)
	if strings.ContainsRune(id, '@') {
		if parsed, err := types.ParseJID(strings.TrimPrefix(id, "+")); err == nil {
			return parsed
		}
	}

	id = DecomposeJID(id)
	if strings.ContainsRune(id, '-') || len(id) >= 18 {
		return types.NewJID(id, types.GroupServer)
	}
	return types.NewJID(id, types.DefaultUserServer)
}

// DecomposeJID returns the user part of id without a leading '+'.
func DecomposeJID(id string) string {
	if strings.ContainsRune(id, '@') {
		buffers := strings.Split(id, "@")
		id = buffers[0]
	}

	id = strings.TrimSpace(id)
	if len(id) > 0 && id[0] == '+' {
		id = id[1:]
	}

	return id
}
