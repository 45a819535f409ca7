package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

func TestValidatePhone(t *testing.T) {
	assert.NoError(t, ValidatePhone("6281234567890"))
	assert.NoError(t, ValidatePhone("+6281234567890"))
	assert.Error(t, ValidatePhone(""))
	assert.Error(t, ValidatePhone("081234567"))
	assert.Error(t, ValidatePhone("62812abc"))
	assert.Error(t, ValidatePhone("12345"))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "6281234567", NormalizePhone(" +62 (812) 345-67 "))
	assert.Equal(t, "6281234567", NormalizePhone("62.812.345.67"))
}

func TestClassifyMembers(t *testing.T) {
	existing := []campaign.Member{
		{PhoneNumber: "6281111111", Status: campaign.MemberValid},
		{PhoneNumber: "0812", Status: campaign.MemberInvalid},
	}
	incoming := []MemberInput{
		{PhoneNumber: "+62 811 111 11", Name: "already there"},
		{PhoneNumber: "6282222222", Name: " Budi "},
		{PhoneNumber: "62-822-222-22"},
		{PhoneNumber: "0812"},
		{PhoneNumber: "not a number"},
	}

	members, summary := ClassifyMembers(existing, incoming)

	assert.Equal(t, Classification{Valid: 1, Invalid: 2, Duplicate: 2}, summary)
	assert.Equal(t, []campaign.Member{
		{PhoneNumber: "6281111111", Name: "already there", Status: campaign.MemberDuplicate},
		{PhoneNumber: "6282222222", Name: "Budi", Status: campaign.MemberValid},
		{PhoneNumber: "6282222222", Status: campaign.MemberDuplicate},
		{PhoneNumber: "0812", Status: campaign.MemberInvalid},
		{PhoneNumber: "not a number", Status: campaign.MemberInvalid},
	}, members)
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://cdn.example.com/a.jpg"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("not a url"))
}
