package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"

	"github.com/partnerdesk/backend/internal/faults"
)

func TestMapUpdate(t *testing.T) {
	raw := tgbotapi.Update{
		UpdateID: 7,
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 100},
			Chat: &tgbotapi.Chat{ID: 200},
			Text: "привет",
		},
	}
	up, ok := mapUpdate(raw)
	assert.True(t, ok)
	assert.Equal(t, int64(100), up.UserID)
	assert.Equal(t, int64(200), up.ChatID)
	assert.Equal(t, "привет", up.Text)
}

func TestMapUpdateDropsNonMessages(t *testing.T) {
	_, ok := mapUpdate(tgbotapi.Update{UpdateID: 7})
	assert.False(t, ok)

	_, ok = mapUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 100},
		Chat: &tgbotapi.Chat{ID: 100},
	}})
	assert.False(t, ok, "messages without text are dropped")
}

func TestClassifyFloodControlIsTransient(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 429, Message: "Too Many Requests"})
	assert.True(t, faults.IsTransient(err))
}

func TestClassifyServerErrorIsTransient(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 502, Message: "Bad Gateway"})
	assert.True(t, faults.IsTransient(err))
}

func TestClassifyRevokedTokenIsFatal(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 401, Message: "Unauthorized"})
	assert.True(t, faults.IsFatal(err))
}

func TestClassifyBlockedUserIsPermanent(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"})
	assert.True(t, faults.IsPermanent(err))
}

func TestClassifyUnknownErrorIsTransient(t *testing.T) {
	err := classify(errors.New("connection reset"))
	assert.True(t, faults.IsTransient(err))
}
