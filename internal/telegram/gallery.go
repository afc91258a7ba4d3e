package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
)

// Telegram accepts 2 to 10 items per media group.
const maxMediaGroupSize = 10

var errNoImages = errors.New("no token has a resolvable image")

// sendTokenGallery sends the images of the first records that resolve as one
// media group. Tokens that fall back to the placeholder are left out. It
// returns the number of images sent.
func (b *Bot) sendTokenGallery(ctx context.Context, chatID int64, records []core.TokenRecord) (int, error) {
	if len(records) > maxMediaGroupSize {
		logger.TelegramDebug("Chat[%d]: %d tokens, gallery limited to %d.", chatID, len(records), maxMediaGroupSize)
		records = records[:maxMediaGroupSize]
	}

	media := make([]models.InputMedia, 0, len(records))
	for _, rec := range records {
		img := b.svc.Images.Resolve(ctx, rec)
		if !img.Resolved() {
			continue
		}
		media = append(media, &models.InputMediaPhoto{
			Media:   img.URL,
			Caption: fmt.Sprintf("%d. %s", rec.ID, firstWords(rec.Name, 5)),
		})
	}

	switch len(media) {
	case 0:
		return 0, errNoImages
	case 1:
		photo := media[0].(*models.InputMediaPhoto)
		_, err := b.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:  chatID,
			Photo:   &models.InputFileString{Data: photo.Media},
			Caption: photo.Caption,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to send photo: %w", err)
		}
		return 1, nil
	}

	if _, err := b.api.SendMediaGroup(ctx, &bot.SendMediaGroupParams{ChatID: chatID, Media: media}); err != nil {
		return 0, fmt.Errorf("failed to send media group: %w", err)
	}
	logger.TelegramInfo("Chat[%d]: Sent token gallery with %d images.", chatID, len(media))
	return len(media), nil
}

func firstWords(value string, count int) string {
	words := strings.Fields(value)
	if len(words) <= count {
		return value
	}
	return strings.Join(words[:count], " ") + "..."
}
