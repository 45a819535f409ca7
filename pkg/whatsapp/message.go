package whatsapp

import (
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

func uploadType(t campaign.MediaType) whatsmeow.MediaType {
	switch t {
	case campaign.MediaImage:
		return whatsmeow.MediaImage
	case campaign.MediaVideo:
		return whatsmeow.MediaVideo
	case campaign.MediaAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

type thumbnail struct {
	data     []byte
	uploaded whatsmeow.UploadResponse
}

// buildMediaMessage wraps an uploaded file in the message kind matching
// mediaType. The caption is applied separately so one upload can be reused.
func buildMediaMessage(mediaType campaign.MediaType, up whatsmeow.UploadResponse, file *MediaFile, thumb *thumbnail) *waE2E.Message {
	switch mediaType {
	case campaign.MediaImage:
		img := &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(file.Mimetype),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}
		if thumb != nil {
			img.JPEGThumbnail = thumb.data
			img.ThumbnailDirectPath = proto.String(thumb.uploaded.DirectPath)
			img.ThumbnailSHA256 = thumb.uploaded.FileSHA256
			img.ThumbnailEncSHA256 = thumb.uploaded.FileEncSHA256
		}
		return &waE2E.Message{ImageMessage: img}
	case campaign.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(file.Mimetype),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	case campaign.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(file.Mimetype),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	default:
		name := file.FileName
		if name == "" {
			name = "document"
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(file.Mimetype),
			Title:         proto.String(name),
			FileName:      proto.String(name),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	}
}

// withCaption returns a copy of msg carrying caption. Audio has no caption
// field so the text is sent as its own message by the caller.
func withCaption(msg *waE2E.Message, caption string) (*waE2E.Message, bool) {
	out := proto.Clone(msg).(*waE2E.Message)
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return out, true
	}
	switch {
	case out.ImageMessage != nil:
		out.ImageMessage.Caption = proto.String(caption)
	case out.VideoMessage != nil:
		out.VideoMessage.Caption = proto.String(caption)
	case out.DocumentMessage != nil:
		out.DocumentMessage.Caption = proto.String(caption)
	default:
		return out, false
	}
	return out, true
}

type cachedUpload struct {
	msg     *waE2E.Message
	expires time.Time
}

// uploadCache keeps uploaded media so a campaign uploads its file once and
// not once per recipient.
type uploadCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedUpload
}

func newUploadCache(ttl time.Duration) *uploadCache {
	return &uploadCache{ttl: ttl, entries: make(map[string]cachedUpload)}
}

func cacheKey(media campaign.Media) string {
	return string(media.Type) + "|" + media.URL
}

func (c *uploadCache) get(key string, now time.Time) (*waE2E.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.msg, true
}

func (c *uploadCache) put(key string, msg *waE2E.Message, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedUpload{msg: msg, expires: now.Add(c.ttl)}
}

func (c *uploadCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedUpload)
}
