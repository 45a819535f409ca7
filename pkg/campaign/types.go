package campaign

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type TargetType string

const (
	TargetContactGroup  TargetType = "contact_group"
	TargetLocalContacts TargetType = "local_contacts"
	TargetWhatsAppGroup TargetType = "whatsapp_group"
)

type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleScheduled ScheduleType = "scheduled"
	ScheduleDaytime   ScheduleType = "daytime"
	ScheduleNighttime ScheduleType = "nighttime"
	ScheduleOddHours  ScheduleType = "odd_hours"
	ScheduleEvenHours ScheduleType = "even_hours"
)

type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
)

// Campaign is a bulk send definition together with its run progress.
// SentCount+FailedCount never exceeds TotalTargets once it leaves draft.
type Campaign struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Message         string       `json:"message"`
	TargetType      TargetType   `json:"targetType"`
	ContactGroupID  string       `json:"contactGroupId,omitempty"`
	WhatsAppGroupID string       `json:"whatsappGroupId,omitempty"`
	MediaURL        string       `json:"mediaUrl,omitempty"`
	MediaType       MediaType    `json:"mediaType,omitempty"`
	ScheduleType    ScheduleType `json:"scheduleType"`
	TimePost        *time.Time   `json:"timePost,omitempty"`
	ScheduleHours   []int        `json:"scheduleHours,omitempty"`
	MinInterval     int          `json:"minInterval"`
	MaxInterval     int          `json:"maxInterval"`
	Status          Status       `json:"status"`
	SentCount       int          `json:"sentCount"`
	FailedCount     int          `json:"failedCount"`
	TotalTargets    int          `json:"totalTargets"`
	LastExecuted    *time.Time   `json:"lastExecuted"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Processed is the number of targets already attempted in the current run.
func (c *Campaign) Processed() int {
	return c.SentCount + c.FailedCount
}

func (c *Campaign) HasMedia() bool {
	return c.MediaURL != ""
}

// Target is one recipient resolved at execution time.
type Target struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Contact is an address book entry known to the channel.
type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Media struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
}

type MemberStatus string

const (
	MemberValid     MemberStatus = "valid"
	MemberInvalid   MemberStatus = "invalid"
	MemberDuplicate MemberStatus = "duplicate"
)

type ContactGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Member struct {
	PhoneNumber string       `json:"phoneNumber"`
	Name        string       `json:"name,omitempty"`
	Status      MemberStatus `json:"status"`
}

// Patch is a partial update. Nil fields are left untouched. When WhereStatus
// is set the update only applies if the stored status is one of them.
type Patch struct {
	Status            *Status
	SentCount         *int
	FailedCount       *int
	TotalTargets      *int
	LastExecuted      *time.Time
	ClearLastExecuted bool
	WhereStatus       []Status
}

// Allows reports whether the precondition accepts status s.
func (p Patch) Allows(s Status) bool {
	if len(p.WhereStatus) == 0 {
		return true
	}
	for _, w := range p.WhereStatus {
		if w == s {
			return true
		}
	}
	return false
}

// Apply copies the set fields onto c.
func (p Patch) Apply(c *Campaign, now time.Time) {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.SentCount != nil {
		c.SentCount = *p.SentCount
	}
	if p.FailedCount != nil {
		c.FailedCount = *p.FailedCount
	}
	if p.TotalTargets != nil {
		c.TotalTargets = *p.TotalTargets
	}
	if p.ClearLastExecuted {
		c.LastExecuted = nil
	} else if p.LastExecuted != nil {
		t := *p.LastExecuted
		c.LastExecuted = &t
	}
	c.UpdatedAt = now
}

const ProgressEventType = "campaign_progress_update"

type ProgressEvent struct {
	Type         string `json:"type"`
	CampaignID   string `json:"campaignId"`
	SentCount    int    `json:"sentCount"`
	FailedCount  int    `json:"failedCount"`
	TotalTargets int    `json:"totalTargets"`
	Status       Status `json:"status"`
}

func NewProgressEvent(c *Campaign) ProgressEvent {
	return ProgressEvent{
		Type:         ProgressEventType,
		CampaignID:   c.ID,
		SentCount:    c.SentCount,
		FailedCount:  c.FailedCount,
		TotalTargets: c.TotalTargets,
		Status:       c.Status,
	}
}

func statusPtr(s Status) *Status { return &s }

func intPtr(n int) *int { return &n }
