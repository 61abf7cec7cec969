package notify

import (
	"context"
	"fmt"
)

type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// Photo is sent either by URL or from Data when it had to be re-encoded.
type Photo struct {
	URL      string
	Data     []byte
	FileName string
	Caption  string
	Keyboard Keyboard
}

// Notifier delivers results to a Telegram chat. The chat id is the user id.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
	NotifyPhoto(ctx context.Context, userID int64, photo Photo) error
	// DeletePlaceholder removes the "please wait" message; messageID 0 is a no-op.
	DeletePlaceholder(ctx context.Context, userID int64, messageID int) error
}

// ImageKeyboard offers the derivative actions for a stored image task: U1-U4
// upscale, V1-V4 variation and a reroll.
func ImageKeyboard(imageID int64) Keyboard {
	upscale := make([]Button, 0, 4)
	variation := make([]Button, 0, 4)
	for choice := 1; choice <= 4; choice++ {
		upscale = append(upscale, Button{Text: fmt.Sprintf("U%d", choice), Data: fmt.Sprintf("upscale_%d_%d", choice, imageID)})
		variation = append(variation, Button{Text: fmt.Sprintf("V%d", choice), Data: fmt.Sprintf("variation_%d_%d", choice, imageID)})
	}
	return Keyboard{
		upscale,
		variation,
		{{Text: "🔄", Data: fmt.Sprintf("refresh_%d", imageID)}},
	}
}
