package core

import (
	"context"
	"testing"
)

func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, inputs ...UserCreateInput) []UserWithoutSecrets {
	users := make([]UserWithoutSecrets, 0, len(inputs))
	for _, input := range inputs {
		user, err := userStore.CreateUser(ctx, input)
		if err != nil {
			t.Fatal(err)
		}
		users = append(users, *user)
	}
	return users
}

func seedChat(f *ChatFixture, userA, userB string) *Chat {
	chat, _, err := f.chatStore.FindOrCreateChat(f.ctx, userA, userB)
	if err != nil {
		f.t.Fatal(err)
	}
	return chat
}

func seedMessage(f *ChatFixture, chatID, senderID, content string) *Message {
	msg, err := f.chatStore.CreateMessage(f.ctx, MessageCreateInput{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return msg
}

// sendMessage persists a message and applies its chat side effects the way
// the realtime fanout path does.
func sendMessage(f *ChatFixture, chatID, senderID, content string) *Message {
	msg := seedMessage(f, chatID, senderID, content)
	if err := f.chatStore.ApplyMessageSent(f.ctx, chatID, msg.ID, senderID); err != nil {
		f.t.Fatal(err)
	}
	return msg
}
