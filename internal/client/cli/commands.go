package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/client/api"
	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/google/uuid"
)

// Register creates an account and brings the session online.
func (a *App) Register(ctx context.Context) error {
	username, err := GetSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	if err := a.api.Register(ctx, username, string(password)); err != nil {
		fmt.Println("Registration failed:", err)
		return err
	}
	a.afterLogin(ctx)
	fmt.Println("Registered and logged in.")
	return nil
}

// Login authenticates and brings the session online.
func (a *App) Login(ctx context.Context) error {
	username, err := GetSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	password, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	if err := a.api.Login(ctx, username, string(password)); err != nil {
		fmt.Println("Login failed:", err)
		return err
	}
	a.afterLogin(ctx)
	fmt.Println("Logged in.")
	return nil
}

func (a *App) afterLogin(ctx context.Context) {
	a.loggedIn = true
	a.startBackgroundTasks(ctx)
	_ = a.engine.TriggerSync(ctx)
	a.pickModelConfig(ctx)
}

// pickModelConfig selects the first cached model config, if any.
func (a *App) pickModelConfig(ctx context.Context) {
	if a.modelConfigID != "" {
		return
	}
	configs, err := a.cache.All(ctx, model.KindModelConfig)
	if err != nil || len(configs) == 0 {
		return
	}
	a.modelConfigID = configs[0].ID
}

// Chats lists cached chats, newest first.
func (a *App) Chats(ctx context.Context) error {
	chats, err := a.cache.All(ctx, model.KindChat)
	if err != nil {
		fmt.Println("Error listing chats:", err)
		return err
	}
	if len(chats) == 0 {
		fmt.Println("No chats yet. Use 'send' to start one.")
		return nil
	}
	for i := len(chats) - 1; i >= 0; i-- {
		var p model.ChatPayload
		_ = json.Unmarshal(chats[i].Payload, &p)
		title := p.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s\n", chats[i].ID, title)
	}
	return nil
}

// Open switches to a chat and prints its messages.
func (a *App) Open(ctx context.Context) error {
	chatID, err := GetSimpleText(a.reader, "Enter chat id", os.Stdout)
	if err != nil {
		return err
	}
	if _, err := a.cache.Get(ctx, model.KindChat, chatID); err != nil {
		fmt.Println("Unknown chat:", chatID)
		return err
	}
	a.currentChatID = chatID
	return a.Messages(ctx)
}

// Messages prints the current chat's messages in order.
func (a *App) Messages(ctx context.Context) error {
	if a.currentChatID == "" {
		fmt.Println("No chat open. Use 'open' first.")
		return nil
	}

	msgs, err := a.cache.All(ctx, model.KindMessage)
	if err != nil {
		fmt.Println("Error listing messages:", err)
		return err
	}
	for _, m := range msgs {
		var p model.MessagePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.ChatID != a.currentChatID {
			continue
		}
		content := p.Content
		if p.Streaming {
			content = "(generating...)"
		}
		fmt.Printf("[%s] %s: %s\n", m.ID, p.From, content)
	}
	return nil
}

// Send sends a message in the current chat (or starts a new one) and waits
// briefly for the reply to arrive through sync.
func (a *App) Send(ctx context.Context) error {
	if a.modelConfigID == "" {
		fmt.Println("No model configured. Use 'setmodel' first.")
		return nil
	}

	content, err := GetSimpleText(a.reader, "Message", os.Stdout)
	if err != nil {
		return err
	}

	res, err := a.api.SendMessage(ctx, api.ExchangeRequest{
		ChatID:        a.currentChatID,
		Content:       content,
		ModelConfigID: a.modelConfigID,
	})
	if err != nil {
		fmt.Println("Send failed:", err)
		return err
	}
	a.currentChatID = res.ChatID

	fmt.Println("Generating...")
	_ = a.engine.TriggerSync(ctx)
	a.waitForSettled(ctx, 60*time.Second)
	_ = a.engine.TriggerSync(ctx)
	return a.Messages(ctx)
}

// Cancel stops the in-flight generation in the current chat.
func (a *App) Cancel(ctx context.Context) error {
	id := a.streamingMessageID(ctx)
	if id == "" {
		fmt.Println("Nothing is generating.")
		return nil
	}
	if err := a.api.CancelMessage(ctx, id); err != nil {
		fmt.Println("Cancel failed:", err)
		return err
	}
	_ = a.engine.TriggerSync(ctx)
	fmt.Println("Canceled.")
	return nil
}

// Edit rewrites one of your messages and regenerates from that point.
func (a *App) Edit(ctx context.Context) error {
	messageID, err := GetSimpleText(a.reader, "Enter message id", os.Stdout)
	if err != nil {
		return err
	}
	content, err := GetSimpleText(a.reader, "New content", os.Stdout)
	if err != nil {
		return err
	}

	if _, err := a.api.EditMessage(ctx, messageID, content, a.modelConfigID); err != nil {
		fmt.Println("Edit failed:", err)
		return err
	}
	_ = a.engine.TriggerSync(ctx)
	fmt.Println("Regenerating...")
	return nil
}

// SetModel stores a model configuration locally; it reaches the server on
// the next sync.
func (a *App) SetModel(ctx context.Context) error {
	modelID, err := GetSimpleText(a.reader, "Provider model id (e.g. gpt-4o)", os.Stdout)
	if err != nil {
		return err
	}
	apiKey, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(model.ModelConfigPayload{ProviderModelID: modelID, APIKey: string(apiKey)})
	if err != nil {
		return err
	}

	id := uuid.NewString()
	if err := a.cache.Set(ctx, model.KindModelConfig, id, payload); err != nil {
		fmt.Println("Error saving model config:", err)
		return err
	}
	a.modelConfigID = id

	_ = a.engine.TriggerSync(ctx)
	fmt.Println("Model configured.")
	return nil
}

// Sync runs a sync cycle on demand.
func (a *App) Sync(ctx context.Context) error {
	if err := a.engine.TriggerSync(ctx); err != nil {
		fmt.Println("Sync failed:", err)
		return err
	}
	fmt.Println("Synced.")
	return nil
}

// Logout drops the session and stops background tasks.
func (a *App) Logout(ctx context.Context) error {
	a.stopBackgroundTasks()
	a.api.SetToken("")
	a.loggedIn = false
	a.currentChatID = ""
	fmt.Println("Logged out.")
	return nil
}

// streamingMessageID finds the newest streaming assistant message in the
// current chat.
func (a *App) streamingMessageID(ctx context.Context) string {
	msgs, err := a.cache.All(ctx, model.KindMessage)
	if err != nil {
		return ""
	}
	var found string
	var foundAt int64
	for _, m := range msgs {
		var p model.MessagePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			continue
		}
		if p.ChatID == a.currentChatID && p.Streaming && m.UpdatedAt >= foundAt {
			found, foundAt = m.ID, m.UpdatedAt
		}
	}
	return found
}

// waitForSettled polls the cache until no message in the current chat is
// streaming, or the timeout passes. Useful in scripts.
func (a *App) waitForSettled(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.streamingMessageID(ctx) == "" {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}
