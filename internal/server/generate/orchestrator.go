// Package generate orchestrates assistant response generation: it stamps the
// user message and an assistant placeholder into the record store, streams
// provider output into an ephemeral buffer, and finalizes the placeholder
// with the full content when the stream ends, is cancelled, or fails.
package generate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/wirechat/internal/common"
	"github.com/dmitrijs2005/wirechat/internal/dbx"
	"github.com/dmitrijs2005/wirechat/internal/logging"
	"github.com/dmitrijs2005/wirechat/internal/metrics"
	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/dmitrijs2005/wirechat/internal/server/clock"
	"github.com/dmitrijs2005/wirechat/internal/server/provider"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/records"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wirechat/internal/server/secrets"
	"github.com/dmitrijs2005/wirechat/internal/server/streams"
	"github.com/google/uuid"
)

const titlePrompt = "Generate a concise title for this conversation, at most six words. Reply with the title only."

// ExchangeRequest starts one user/assistant exchange. An empty ChatID starts
// a new chat.
type ExchangeRequest struct {
	ChatID        string `json:"chatId,omitempty"`
	Content       string `json:"content"`
	ModelConfigID string `json:"modelConfigId"`
}

// ExchangeResult identifies the records minted for the exchange.
type ExchangeResult struct {
	ChatID             string `json:"chatId"`
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId"`
	StreamID           string `json:"streamId"`
}

// Orchestrator runs generations in the background. Record writes go through
// the same store the sync endpoint reads, so clients observe progress by
// pulling deltas.
type Orchestrator struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	stamps  *clock.Stamper
	buffer  *streams.Buffer
	sealer  *secrets.Sealer
	prov    provider.Provider
	logger  logging.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// New constructs an Orchestrator.
func New(db *sql.DB, repos repomanager.RepositoryManager, stamps *clock.Stamper,
	buffer *streams.Buffer, sealer *secrets.Sealer, prov provider.Provider,
	logger logging.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		db:      db,
		repos:   repos,
		stamps:  stamps,
		buffer:  buffer,
		sealer:  sealer,
		prov:    prov,
		logger:  logger.With("module", "generate"),
		metrics: m,
	}
}

// Wait blocks until all in-flight generations have finalized. Used on
// shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// StartExchange stores the user message plus an assistant placeholder and
// kicks off generation in the background. The placeholder carries the stream
// id so clients can follow progress before the final content lands.
func (o *Orchestrator) StartExchange(ctx context.Context, ownerID string, req ExchangeRequest) (*ExchangeResult, error) {
	if ownerID == "" {
		return nil, common.ErrUnauthenticated
	}
	if req.Content == "" {
		return nil, fmt.Errorf("empty message content")
	}

	opts, err := o.resolveModel(ctx, ownerID, req.ModelConfigID)
	if err != nil {
		return nil, err
	}

	streamID, err := o.buffer.Create(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	result := &ExchangeResult{ChatID: req.ChatID, StreamID: streamID}
	err = dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := o.repos.Records(tx)

		if result.ChatID == "" {
			result.ChatID = uuid.NewString()
			if err := o.insertChat(ctx, repo, ownerID, result.ChatID); err != nil {
				return err
			}
		} else if _, err := repo.Get(ctx, ownerID, result.ChatID); err != nil {
			return err
		}

		// consecutive stamps fix the relative order of the pair
		st := o.stamps.NextN(ownerID, 2)
		result.UserMessageID = uuid.NewString()
		if err := o.insertMessage(ctx, repo, ownerID, result.UserMessageID, st[0], model.MessagePayload{
			Content: req.Content, ChatID: result.ChatID, From: "user",
		}); err != nil {
			return err
		}

		result.AssistantMessageID = uuid.NewString()
		return o.insertMessage(ctx, repo, ownerID, result.AssistantMessageID, st[1], model.MessagePayload{
			ChatID: result.ChatID, From: "assistant", Streaming: true, StreamID: streamID,
		})
	})
	if err != nil {
		return nil, err
	}

	o.spawn(ctx, ownerID, result.ChatID, result.AssistantMessageID, streamID, opts)
	return result, nil
}

// Cancel finishes the stream behind a streaming assistant message and writes
// the accumulated content as its final body. The generation loop observes the
// flipped flag on its next append and stops; its own finalize then rewrites
// the same settled state. Settling here rather than waiting for that append
// matters with a silent provider, which may not produce another chunk for a
// long time.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, messageID string) error {
	if ownerID == "" {
		return common.ErrUnauthenticated
	}

	repo := o.repos.Records(o.db)
	rec, err := repo.Get(ctx, ownerID, messageID)
	if err != nil {
		return err
	}
	payload, err := messagePayload(rec)
	if err != nil {
		return err
	}
	if !payload.Streaming || payload.StreamID == "" {
		return nil
	}

	if err := o.buffer.Finish(ctx, ownerID, payload.StreamID); err != nil {
		return err
	}

	content, err := o.buffer.Content(ctx, ownerID, payload.StreamID)
	if err != nil {
		return err
	}
	if err := o.settle(ctx, ownerID, messageID, content); err != nil {
		return err
	}

	o.metrics.StreamsCanceled.Inc()
	return nil
}

// Edit rewrites a user message and regenerates from that point: every later
// message in the chat is tombstoned, in-flight streams among them are force
// finished, and a fresh generation starts against the truncated history.
func (o *Orchestrator) Edit(ctx context.Context, ownerID, messageID, newContent, modelConfigID string) (*ExchangeResult, error) {
	if ownerID == "" {
		return nil, common.ErrUnauthenticated
	}
	if newContent == "" {
		return nil, fmt.Errorf("empty message content")
	}

	opts, err := o.resolveModel(ctx, ownerID, modelConfigID)
	if err != nil {
		return nil, err
	}

	streamID, err := o.buffer.Create(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	result := &ExchangeResult{UserMessageID: messageID, StreamID: streamID}
	var orphanStreams []string
	err = dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := o.repos.Records(tx)

		rec, err := repo.Get(ctx, ownerID, messageID)
		if err != nil {
			return err
		}
		payload, err := messagePayload(rec)
		if err != nil {
			return err
		}
		if payload.From != "user" {
			return fmt.Errorf("only user messages can be edited")
		}
		result.ChatID = payload.ChatID

		later, err := repo.MessagesCreatedAfter(ctx, ownerID, payload.ChatID, rec.CreatedAt)
		if err != nil {
			return err
		}
		for _, l := range later {
			lp, err := messagePayload(l)
			if err == nil && lp.Streaming && lp.StreamID != "" {
				orphanStreams = append(orphanStreams, lp.StreamID)
			}
			l.Deleted = true
			l.UpdatedAt = o.stamps.Next(ownerID)
			if err := repo.Update(ctx, l); err != nil {
				return err
			}
		}

		st := o.stamps.NextN(ownerID, 2)
		payload.Content = newContent
		if err := o.updateMessage(ctx, repo, rec, st[0], *payload); err != nil {
			return err
		}

		result.AssistantMessageID = uuid.NewString()
		return o.insertMessage(ctx, repo, ownerID, result.AssistantMessageID, st[1], model.MessagePayload{
			ChatID: payload.ChatID, From: "assistant", Streaming: true, StreamID: streamID,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, sid := range orphanStreams {
		if err := o.buffer.Finish(ctx, ownerID, sid); err != nil {
			o.logger.Warn(ctx, "finishing orphaned stream", "stream_id", sid, "error", err.Error())
		}
	}

	o.spawn(ctx, ownerID, result.ChatID, result.AssistantMessageID, streamID, opts)
	return result, nil
}

// spawn launches the generation loop detached from the request context, so
// the response keeps generating after the initiating HTTP call returns.
func (o *Orchestrator) spawn(ctx context.Context, ownerID, chatID, assistantID, streamID string, opts provider.Options) {
	o.metrics.StreamsStarted.Inc()
	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(bg, ownerID, chatID, assistantID, streamID, opts)
	}()
}

func (o *Orchestrator) run(ctx context.Context, ownerID, chatID, assistantID, streamID string, opts provider.Options) {
	history, err := o.history(ctx, ownerID, chatID)
	if err != nil {
		o.finalize(ctx, ownerID, chatID, assistantID, streamID, opts, err)
		return
	}

	err = o.prov.Stream(ctx, history, opts, func(chunk string) error {
		return o.buffer.Append(ctx, ownerID, streamID, chunk)
	})
	o.finalize(ctx, ownerID, chatID, assistantID, streamID, opts, err)
}

// finalize joins the buffered chunks into the assistant message, clears the
// streaming markers and finishes the stream. A provider failure lands as the
// message content so the client renders something instead of an eternal
// spinner.
func (o *Orchestrator) finalize(ctx context.Context, ownerID, chatID, assistantID, streamID string, opts provider.Options, genErr error) {
	canceled := errors.Is(genErr, common.ErrStreamFinished)

	content, err := o.buffer.Content(ctx, ownerID, streamID)
	if err != nil {
		o.logger.Error(ctx, "reading stream content", "stream_id", streamID, "error", err.Error())
	}

	switch {
	case genErr == nil:
		o.metrics.StreamsFinished.Inc()
	case canceled:
		// partial content stands as the final message
	default:
		o.logger.Error(ctx, "generation failed", "chat_id", chatID, "error", genErr.Error())
		o.metrics.StreamsFailed.Inc()
		if content == "" {
			content = fmt.Sprintf("Generation failed: %v", genErr)
		}
	}

	if err := o.buffer.Finish(ctx, ownerID, streamID); err != nil {
		o.logger.Error(ctx, "finishing stream", "stream_id", streamID, "error", err.Error())
	}

	if err := o.settle(ctx, ownerID, assistantID, content); err != nil {
		o.logger.Error(ctx, "finalizing assistant message", "message_id", assistantID, "error", err.Error())
		return
	}

	if genErr == nil {
		o.maybeTitle(ctx, ownerID, chatID, opts)
	}
}

// settle writes content as the message's final body and clears its streaming
// markers. Safe to run more than once for the same stream outcome.
func (o *Orchestrator) settle(ctx context.Context, ownerID, messageID, content string) error {
	return dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := o.repos.Records(tx)
		rec, err := repo.Get(ctx, ownerID, messageID)
		if err != nil {
			return err
		}
		payload, err := messagePayload(rec)
		if err != nil {
			return err
		}
		payload.Content = content
		payload.Streaming = false
		payload.StreamID = ""
		return o.updateMessage(ctx, repo, rec, o.stamps.Next(ownerID), *payload)
	})
}

// maybeTitle names the chat after its first exchange.
func (o *Orchestrator) maybeTitle(ctx context.Context, ownerID, chatID string, opts provider.Options) {
	repo := o.repos.Records(o.db)

	chat, err := repo.Get(ctx, ownerID, chatID)
	if err != nil {
		return
	}
	var cp model.ChatPayload
	if err := json.Unmarshal(chat.Payload, &cp); err != nil || cp.Title != "" {
		return
	}

	msgs, err := repo.ListChatMessages(ctx, ownerID, chatID)
	if err != nil || len(msgs) > 2 {
		return
	}

	history, err := o.history(ctx, ownerID, chatID)
	if err != nil {
		return
	}
	history = append(history, provider.Message{Role: "system", Content: titlePrompt})

	title, err := o.prov.Chat(ctx, history, opts)
	if err != nil {
		o.logger.Warn(ctx, "title generation failed", "chat_id", chatID, "error", err.Error())
		return
	}

	cp.Title = title
	payload, err := json.Marshal(cp)
	if err != nil {
		return
	}
	chat.Payload = payload
	chat.UpdatedAt = o.stamps.Next(ownerID)
	if err := repo.Update(ctx, chat); err != nil {
		o.logger.Warn(ctx, "storing chat title", "chat_id", chatID, "error", err.Error())
	}
}

// history builds the provider conversation from the chat's settled messages.
// Streaming placeholders and empty messages are left out.
func (o *Orchestrator) history(ctx context.Context, ownerID, chatID string) ([]provider.Message, error) {
	repo := o.repos.Records(o.db)
	msgs, err := repo.ListChatMessages(ctx, ownerID, chatID)
	if err != nil {
		return nil, err
	}

	history := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		payload, err := messagePayload(m)
		if err != nil || payload.Streaming || payload.Content == "" {
			continue
		}
		role := "user"
		if payload.From == "assistant" {
			role = "assistant"
		}
		history = append(history, provider.Message{Role: role, Content: payload.Content})
	}
	return history, nil
}

// resolveModel loads the owner's model config and unseals its key.
func (o *Orchestrator) resolveModel(ctx context.Context, ownerID, modelConfigID string) (provider.Options, error) {
	repo := o.repos.Records(o.db)
	rec, err := repo.Get(ctx, ownerID, modelConfigID)
	if err != nil {
		return provider.Options{}, fmt.Errorf("loading model config: %w", err)
	}
	var p model.ModelConfigPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return provider.Options{}, fmt.Errorf("decoding model config: %w", err)
	}
	key, err := o.sealer.Open(p.APIKey)
	if err != nil {
		return provider.Options{}, fmt.Errorf("opening model config key: %w", err)
	}
	return provider.Options{ModelID: p.ProviderModelID, APIKey: key}, nil
}

func (o *Orchestrator) insertChat(ctx context.Context, repo records.Repository, ownerID, chatID string) error {
	payload, err := json.Marshal(model.ChatPayload{})
	if err != nil {
		return err
	}
	stamp := o.stamps.Next(ownerID)
	return repo.Insert(ctx, &model.Record{
		ID: chatID, OwnerID: ownerID, Kind: model.KindChat,
		UpdatedAt: stamp, CreatedAt: stamp, Payload: payload,
	})
}

func (o *Orchestrator) insertMessage(ctx context.Context, repo records.Repository, ownerID, id string, stamp int64, payload model.MessagePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return repo.Insert(ctx, &model.Record{
		ID: id, OwnerID: ownerID, Kind: model.KindMessage,
		UpdatedAt: stamp, CreatedAt: stamp, Payload: raw,
	})
}

func (o *Orchestrator) updateMessage(ctx context.Context, repo records.Repository, rec *model.Record, stamp int64, payload model.MessagePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	rec.Payload = raw
	rec.UpdatedAt = stamp
	return repo.Update(ctx, rec)
}

func messagePayload(rec *model.Record) (*model.MessagePayload, error) {
	var p model.MessagePayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	return &p, nil
}
