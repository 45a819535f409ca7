package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

var (
	phonePattern = regexp.MustCompile(`^[1-9][0-9]{5,15}$`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// ValidatePhone ensures international format (no leading 0, digits only, length 6-16).
func ValidatePhone(phone string) error {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return errors.New("phone number cannot be empty")
	}
	if strings.HasPrefix(trimmed, "+") {
		trimmed = trimmed[1:]
	}
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("phone number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("phone number must be digits only and at least 6 characters")
	}
	return nil
}

// NormalizePhone strips formatting and a leading "+" so "+62 812-3456" and
// "628123456" compare equal.
func NormalizePhone(phone string) string {
	return strings.TrimPrefix(phoneNoise.Replace(strings.TrimSpace(phone)), "+")
}

// ValidateURL ensures a non-empty valid URL when provided.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return errors.New("url must be valid")
	}
	return nil
}

type MemberInput struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
}

// Classification counts how ClassifyMembers labelled a batch.
type Classification struct {
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Duplicate int `json:"duplicate"`
}

// ClassifyMembers labels each incoming member valid, invalid or duplicate.
// A number already present in existing, or earlier in the same batch, is a
// duplicate. Valid numbers are stored normalized.
func ClassifyMembers(existing []campaign.Member, incoming []MemberInput) ([]campaign.Member, Classification) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, m := range existing {
		if m.Status == campaign.MemberValid {
			seen[NormalizePhone(m.PhoneNumber)] = struct{}{}
		}
	}

	var summary Classification
	out := make([]campaign.Member, 0, len(incoming))
	for _, in := range incoming {
		phone := NormalizePhone(in.PhoneNumber)
		m := campaign.Member{PhoneNumber: phone, Name: strings.TrimSpace(in.Name)}

		switch _, dup := seen[phone]; {
		case ValidatePhone(phone) != nil:
			m.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
			m.Status = campaign.MemberInvalid
			summary.Invalid++
		case dup:
			m.Status = campaign.MemberDuplicate
			summary.Duplicate++
		default:
			m.Status = campaign.MemberValid
			seen[phone] = struct{}{}
			summary.Valid++
		}
		out = append(out, m)
	}
	return out, summary
}
