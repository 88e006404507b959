package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/messagesd/errors"
	"github.com/teranos/messagesd/message"
	"github.com/teranos/messagesd/platform"
	"github.com/teranos/messagesd/syncstate"
)

func readEvent(t *testing.T, a *Adapter) platform.Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return platform.Event{}
	}
}

func TestGroupMessagePayload(t *testing.T) {
	a := New(Config{Token: "tok"}, nil)
	a.mu.Lock()
	a.self = tgbotapi.User{UserName: "msgd_bot"}
	a.mu.Unlock()

	a.handleUpdate(&tgbotapi.Update{
		UpdateID: 88210045,
		Message: &tgbotapi.Message{
			MessageID: 5120,
			From:      &tgbotapi.User{ID: 7788990011, UserName: "kscholz", FirstName: "Kim", LastName: "Scholz"},
			Date:      1700000010,
			Chat:      &tgbotapi.Chat{ID: -1001234567890, Type: "supergroup", Title: "ops war room"},
			Text:      "rollback finished",
			ReplyToMessage: &tgbotapi.Message{
				MessageID: 5101,
			},
		},
	})

	ev := readEvent(t, a)
	require.Equal(t, platform.EventMessage, ev.Type)
	p := ev.Payload
	assert.Equal(t, message.KindTelegramMessage, p.Kind)
	assert.Equal(t, "Kim Scholz", p.Author.Name)
	assert.Equal(t, "kscholz", p.Author.Handle)
	assert.Equal(t, "rollback finished", p.Content)
	assert.Equal(t, int64(1700000010000), p.CreatedAt)
	assert.Equal(t, "5120", p.PlatformID)
	assert.Equal(t, "-1001234567890", p.Thread.ID)
	assert.Equal(t, message.ThreadGroup, p.Thread.Type)
	assert.Equal(t, "ops war room", p.Thread.Title)
	assert.Equal(t, "5101", p.ReplyTo)
	assert.Equal(t, "telegram:msgd_bot:updates", p.SyncID)
	require.NotNil(t, p.Watermark)
	assert.Equal(t, syncstate.Sequence(88210045), *p.Watermark)
}

func TestPrivateChatIsDM(t *testing.T) {
	a := New(Config{Token: "tok"}, nil)

	a.handleUpdate(&tgbotapi.Update{
		UpdateID: 88210046,
		Message: &tgbotapi.Message{
			MessageID: 12,
			From:      &tgbotapi.User{ID: 42, FirstName: "Sam"},
			Date:      1700000011,
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private", FirstName: "Sam"},
			Text:      "ping",
		},
	})

	p := readEvent(t, a).Payload
	assert.Equal(t, message.ThreadDM, p.Thread.Type)
	assert.Equal(t, "Sam", p.Thread.Title)
	assert.Equal(t, "42", p.Author.Handle, "numeric id stands in without a username")
	assert.Equal(t, "telegram:bot:updates", p.SyncID)
}

func TestChannelPostAuthoredByChannel(t *testing.T) {
	a := New(Config{Token: "tok"}, nil)

	a.handleUpdate(&tgbotapi.Update{
		UpdateID: 88210047,
		ChannelPost: &tgbotapi.Message{
			MessageID: 310,
			Date:      1700000012,
			Chat:      &tgbotapi.Chat{ID: -1009876543210, Type: "channel", Title: "release notes", UserName: "releasenotes"},
			Text:      "v2.4.0 is out",
		},
	})

	p := readEvent(t, a).Payload
	assert.Equal(t, message.ThreadChannel, p.Thread.Type)
	assert.Equal(t, "release notes", p.Author.Name)
	assert.Equal(t, "releasenotes", p.Author.Handle)
}

func TestCaptionStandsInForText(t *testing.T) {
	a := New(Config{Token: "tok"}, nil)

	a.handleUpdate(&tgbotapi.Update{
		UpdateID: 88210048,
		Message: &tgbotapi.Message{
			MessageID: 13,
			From:      &tgbotapi.User{ID: 42, UserName: "sam"},
			Date:      1700000013,
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
			Caption:   "sunset from the office",
		},
	})

	p := readEvent(t, a).Payload
	assert.Equal(t, "sunset from the office", p.Content)
}

func TestEmptyUpdatesDropped(t *testing.T) {
	a := New(Config{Token: "tok"}, nil)

	a.handleUpdate(&tgbotapi.Update{UpdateID: 1})
	a.handleUpdate(&tgbotapi.Update{
		UpdateID: 2,
		Message: &tgbotapi.Message{
			MessageID: 14,
			From:      &tgbotapi.User{ID: 42},
			Date:      1700000014,
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		},
	})

	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, a.Stats().MessageCount)
}

func TestConsumeEndsWhenChannelCloses(t *testing.T) {
	a := New(Config{Token: "tok"}, nil)
	updates := make(chan tgbotapi.Update, 4)

	a.wg.Add(1)
	go a.consume(context.Background(), updates)

	updates <- tgbotapi.Update{
		UpdateID: 3,
		Message: &tgbotapi.Message{
			MessageID: 15,
			From:      &tgbotapi.User{ID: 42, UserName: "sam"},
			Date:      1700000015,
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
			Text:      "last one",
		},
	}
	close(updates)

	p := readEvent(t, a).Payload
	assert.Equal(t, "last one", p.Content)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume loop did not end")
	}
}

func TestSendTargets(t *testing.T) {
	a := New(Config{Token: "tok"}, nil)

	err := a.Send(context.Background(), "42", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	var mu sync.Mutex
	var sent []tgbotapi.Chattable
	a.mu.Lock()
	a.send = func(c tgbotapi.Chattable) error {
		mu.Lock()
		sent = append(sent, c)
		mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	require.NoError(t, a.Send(context.Background(), "-1001234567890", "to the group"))
	require.NoError(t, a.Send(context.Background(), "@releasenotes", "to the channel"))

	err = a.Send(context.Background(), "not-a-chat", "nope")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 2)

	group, ok := sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-1001234567890), group.ChatID)
	assert.Equal(t, "to the group", group.Text)

	channel, ok := sent[1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "@releasenotes", channel.ChannelUsername)
	assert.Equal(t, "to the channel", channel.Text)
}

func TestStartRequiresToken(t *testing.T) {
	a := New(Config{}, nil)
	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token not configured")
	assert.False(t, a.IsAuthenticated(context.Background()))
}
