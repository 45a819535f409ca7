package whatsapp

import (
	"context"
	"errors"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

var ErrNotRegistered = errors.New("WhatsApp Personal ID is Not Registered")

func (c *Channel) readyClient() (*whatsmeow.Client, error) {
	client := c.current()
	if client == nil || !client.IsConnected() || !client.IsLoggedIn() {
		return nil, campaign.ErrChannelNotReady
	}
	return client, nil
}

func (c *Channel) recipientJID(ctx context.Context, client *whatsmeow.Client, recipient string) (types.JID, error) {
	jid := ComposeJID(recipient)
	if jid.User == "" {
		return types.EmptyJID, errors.New("empty recipient")
	}
	if !c.cfg.VerifyRecipient || jid.Server != types.DefaultUserServer {
		return jid, nil
	}

	infos, err := client.IsOnWhatsApp(ctx, []string{"+" + jid.User})
	if err != nil {
		return types.EmptyJID, err
	}
	if len(infos) == 0 || !infos[0].IsIn {
		return types.EmptyJID, ErrNotRegistered
	}
	return infos[0].JID, nil
}

func (c *Channel) sendMessage(ctx context.Context, client *whatsmeow.Client, to types.JID, msg *waE2E.Message) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	if _, err := client.SendMessage(ctx, to, msg, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func (c *Channel) SendText(ctx context.Context, recipient string, text string) (string, error) {
	client, err := c.readyClient()
	if err != nil {
		return "", &campaign.ChannelError{Recipient: log.Mask(recipient), Err: err}
	}
	to, err := c.recipientJID(ctx, client, recipient)
	if err != nil {
		return "", &campaign.ChannelError{Recipient: log.Mask(recipient), Err: err}
	}

	id, err := c.sendMessage(ctx, client, to, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", &campaign.ChannelError{Recipient: log.Mask(recipient), Err: err}
	}
	return id, nil
}

// SendMedia sends media with caption as one message. Audio cannot carry a
// caption so a non-empty caption follows as a text message.
func (c *Channel) SendMedia(ctx context.Context, recipient string, caption string, media campaign.Media) (string, error) {
	client, err := c.readyClient()
	if err != nil {
		return "", &campaign.ChannelError{Recipient: log.Mask(recipient), Err: err}
	}
	to, err := c.recipientJID(ctx, client, recipient)
	if err != nil {
		return "", &campaign.ChannelError{Recipient: log.Mask(recipient), Err: err}
	}

	template, err := c.mediaMessage(ctx, client, media)
	if err != nil {
		return "", err
	}
	msg, captioned := withCaption(template, caption)

	id, err := c.sendMessage(ctx, client, to, msg)
	if err != nil {
		return "", &campaign.ChannelError{Recipient: log.Mask(recipient), Err: err}
	}
	if !captioned {
		if _, err := c.sendMessage(ctx, client, to, &waE2E.Message{Conversation: proto.String(caption)}); err != nil {
			return id, &campaign.ChannelError{Recipient: log.Mask(recipient), Err: err}
		}
	}
	return id, nil
}

// mediaMessage returns the uploaded message for media, uploading at most
// once per cache TTL.
func (c *Channel) mediaMessage(ctx context.Context, client *whatsmeow.Client, media campaign.Media) (*waE2E.Message, error) {
	key := cacheKey(media)
	if msg, ok := c.uploads.get(key, time.Now()); ok {
		return msg, nil
	}

	file, err := c.media.Load(ctx, media.URL)
	if err != nil {
		return nil, err
	}

	uploaded, err := client.Upload(ctx, file.Data, uploadType(media.Type))
	if err != nil {
		return nil, &campaign.MediaError{URL: media.URL, Err: errors.New("error while uploading media to WhatsApp server")}
	}

	var thumb *thumbnail
	if media.Type == campaign.MediaImage {
		thumb = c.uploadThumbnail(ctx, client, media.URL, file.Data)
	}

	msg := buildMediaMessage(media.Type, uploaded, file, thumb)
	c.uploads.put(key, msg, time.Now())
	return msg, nil
}

// uploadThumbnail is best effort; the image is still sent without a preview.
func (c *Channel) uploadThumbnail(ctx context.Context, client *whatsmeow.Client, url string, data []byte) *thumbnail {
	jpeg, err := imageThumbnail(data)
	if err != nil {
		log.Print(nil).WithError(err).WithField("media", url).Warn("Skipping image thumbnail")
		return nil
	}
	uploaded, err := client.Upload(ctx, jpeg, whatsmeow.MediaLinkThumbnail)
	if err != nil {
		log.Print(nil).WithError(err).WithField("media", url).Warn("Error while uploading image thumbnail to WhatsApp server")
		return nil
	}
	return &thumbnail{data: jpeg, uploaded: uploaded}
}
