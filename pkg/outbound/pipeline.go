// Package outbound turns user intent into an optimistic store record, a
// network request, and finally the reconciliation of the server's
// authoritative response. Send failures roll the optimistic record back;
// there is no automatic retry.
package outbound

import (
	"context"
	"errors"
	"time"

	"talkie/pkg/api"
	"talkie/pkg/ident"
	"talkie/pkg/logger"
	"talkie/pkg/models"
	"talkie/pkg/store"
	"talkie/pkg/telemetry"
)

// ErrEmptyCompose is returned when no content field is present. It is a
// no-op, not a failure: no record is created and nothing hits the network.
var ErrEmptyCompose = errors.New("compose has no content")

// Compose is the user's composed message.
type Compose struct {
	Text          string
	ReplyTo       string
	Media         *api.Attachment
	Voice         *api.Attachment
	VoiceDuration float64
	// LocalMediaURL / LocalVoiceURL are local preview references shown
	// while the upload is in flight.
	LocalMediaURL string
	LocalVoiceURL string
	// ForwardedFrom carries provenance when forwarding.
	ForwardedFrom *models.Provenance
}

// Hooks observe terminal pipeline states. Both are optional and are
// invoked from the transmit goroutine.
type Hooks struct {
	// OnAcknowledged fires after the server record has been reconciled
	// into the store.
	OnAcknowledged func(models.Message)
	// OnFailed fires after the pending record has been rolled back.
	OnFailed func(tempID string, err error)
}

// Pipeline drives outbound sends. One per session.
type Pipeline struct {
	client *api.Client
	store  *store.Store
	reg    *ident.Registry
	self   string
	hooks  Hooks
}

func NewPipeline(client *api.Client, st *store.Store, reg *ident.Registry, self string, hooks Hooks) *Pipeline {
	return &Pipeline{client: client, store: st, reg: reg, self: self, hooks: hooks}
}

// Send validates the compose, upserts the optimistic pending record and
// starts the network send in the background, returning the temp id
// immediately. The caller clears its compose inputs right after this
// returns, regardless of how the send turns out.
//
// Per-message state machine: composing -> pending -> acknowledged |
// failed-removed.
func (p *Pipeline) Send(ctx context.Context, conversation string, c Compose) (string, error) {
	if c.Text == "" && c.Media == nil && c.Voice == nil {
		return "", ErrEmptyCompose
	}

	tempID := p.reg.NewTempID()
	m := models.Message{
		TempID:        tempID,
		Conversation:  conversation,
		Sender:        p.self,
		TS:            time.Now().UTC().UnixNano(),
		Text:          c.Text,
		ReplyTo:       c.ReplyTo,
		ForwardedFrom: c.ForwardedFrom,
	}
	if c.Media != nil {
		m.Media = &models.MediaRef{URL: c.LocalMediaURL, Name: c.Media.Name, MIME: c.Media.MIME, Size: c.Media.Size}
		m.Upload = &models.UploadState{}
	}
	if c.Voice != nil {
		m.Voice = &models.VoiceRef{URL: c.LocalVoiceURL, Duration: c.VoiceDuration, Size: c.Voice.Size}
	}
	p.store.Upsert(m)

	go p.transmit(ctx, conversation, tempID, c)
	return tempID, nil
}

func (p *Pipeline) transmit(ctx context.Context, conversation, tempID string, c Compose) {
	rec, err := p.client.SendMessage(ctx, api.SendRequest{
		Conversation:  conversation,
		TempID:        tempID,
		Text:          c.Text,
		ReplyTo:       c.ReplyTo,
		Media:         c.Media,
		Voice:         c.Voice,
		VoiceDuration: c.VoiceDuration,
		Progress: func(frac float64) {
			p.store.SetUploadProgress(tempID, frac)
		},
	})
	if err != nil {
		// roll back the optimistic record; the user resends explicitly
		p.store.Remove(tempID)
		p.reg.Ack(tempID)
		telemetry.SendFailures.Inc()
		logger.Warn("send_failed", "conversation", conversation, "temp_id", tempID, "error", err)
		if p.hooks.OnFailed != nil {
			p.hooks.OnFailed(tempID, err)
		}
		return
	}

	// carry the correlation id even when the backend omits it, so the
	// reconcile path and later echo suppression keep working
	if rec.TempID == "" {
		rec.TempID = tempID
	}
	p.store.Upsert(rec)
	p.reg.Ack(tempID)
	logger.Debug("send_acknowledged", "temp_id", tempID, "msg", rec.ID)
	if p.hooks.OnAcknowledged != nil {
		p.hooks.OnAcknowledged(rec)
	}
}
