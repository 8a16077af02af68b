package telegram

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"repostbot/internal/engine"
)

// albumMax is Telegram's media group size limit.
const albumMax = 10

// Reachable probes the chat with getChat. Any failure means the chat cannot
// take content.
func (b *Bot) Reachable(ctx context.Context, subscriberID int64) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.tele.ChatByID(subscriberID); err != nil {
		return mapSendErr(err)
	}
	return nil
}

// Deliver sends the chunk sequence to one subscriber. The first chunk
// carries the media: a single photo goes out as a captioned photo message,
// several as an album with the caption on the first item. Every other chunk
// is plain text.
func (b *Bot) Deliver(ctx context.Context, subscriberID int64, chunks []string, media []string) error {
	to := tele.ChatID(subscriberID)
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}

	for i, chunk := range chunks {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}

		var err error
		switch {
		case i > 0 || len(media) == 0:
			_, err = b.tele.Send(to, chunk, opts)
		case len(media) == 1:
			photo := &tele.Photo{File: tele.FromURL(media[0]), Caption: chunk}
			_, err = b.tele.Send(to, photo, opts)
		default:
			group := media
			if len(group) > albumMax {
				group = group[:albumMax]
			}
			album := make(tele.Album, 0, len(group))
			for j, u := range group {
				p := &tele.Photo{File: tele.FromURL(u)}
				if j == 0 {
					p.Caption = chunk
				}
				album = append(album, p)
			}
			_, err = b.tele.SendAlbum(to, album, opts)
		}
		if err != nil {
			return mapSendErr(err)
		}
	}
	return nil
}

// mapSendErr translates Telegram's "this recipient is gone for good" family
// into engine.ErrUnreachable so the engine prunes instead of retrying.
func mapSendErr(err error) error {
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return fmt.Errorf("%w: %v", engine.ErrUnreachable, err)
	}
	return err
}
