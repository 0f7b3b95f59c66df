package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkie/pkg/api"
	"talkie/pkg/httpx"
	"talkie/pkg/ident"
	"talkie/pkg/models"
	"talkie/pkg/store"
)

type pipelineFixture struct {
	pipeline *Pipeline
	store    *store.Store
	reg      *ident.Registry
	acked    chan models.Message
	failed   chan string
}

func newPipelineFixture(t *testing.T, handler http.Handler) *pipelineFixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := &pipelineFixture{
		store:  store.New(),
		reg:    ident.NewRegistry(),
		acked:  make(chan models.Message, 1),
		failed: make(chan string, 1),
	}
	f.store.Reset("c1")
	client := api.New(srv.URL, "", httpx.NewNetHTTPDoer(5*time.Second))
	f.pipeline = NewPipeline(client, f.store, f.reg, "me", Hooks{
		OnAcknowledged: func(m models.Message) { f.acked <- m },
		OnFailed:       func(tempID string, err error) { f.failed <- tempID },
	})
	return f
}

func waitAck(t *testing.T, ch chan models.Message) models.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for send acknowledgment")
		return models.Message{}
	}
}

func TestSendEmptyComposeIsNoop(t *testing.T) {
	f := newPipelineFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty compose")
	}))

	_, err := f.pipeline.Send(context.Background(), "c1", Compose{})
	require.ErrorIs(t, err, ErrEmptyCompose)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.reg.PendingCount())
}

func TestSendOptimisticThenReconciled(t *testing.T) {
	f := newPipelineFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		tempID := r.FormValue("temp_id")
		require.NotEmpty(t, tempID)
		assert.Equal(t, "hello", r.FormValue("text"))
		_ = json.NewEncoder(w).Encode(models.Message{
			ID: "m1", TempID: tempID, Conversation: "c1", Sender: "me", Text: "hello", TS: 99,
		})
	}))

	tempID, err := f.pipeline.Send(context.Background(), "c1", Compose{Text: "hello"})
	require.NoError(t, err)

	// optimistic record is visible immediately
	m, ok := f.store.Get(tempID)
	require.True(t, ok)
	assert.True(t, m.Pending())
	assert.True(t, f.reg.IsPending(tempID))

	ack := waitAck(t, f.acked)
	assert.Equal(t, "m1", ack.ID)

	require.Equal(t, 1, f.store.Len())
	m, ok = f.store.Get("m1")
	require.True(t, ok)
	assert.Equal(t, tempID, m.TempID)
	assert.Equal(t, int64(99), m.TS)
	assert.False(t, f.reg.IsPending(tempID))
}

func TestSendFailureRollsBack(t *testing.T) {
	f := newPipelineFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	tempID, err := f.pipeline.Send(context.Background(), "c1", Compose{Text: "hello"})
	require.NoError(t, err)

	select {
	case failedID := <-f.failed:
		assert.Equal(t, tempID, failedID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for failure hook")
	}

	assert.Equal(t, 0, f.store.Len(), "failed send rolls the optimistic record back")
	assert.False(t, f.reg.IsPending(tempID))
}

func TestSendAckWithoutTempIDStillReconciles(t *testing.T) {
	f := newPipelineFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		// backend omits the correlation id from the response
		_ = json.NewEncoder(w).Encode(models.Message{
			ID: "m1", Conversation: "c1", Sender: "me", Text: "hello",
		})
	}))

	tempID, err := f.pipeline.Send(context.Background(), "c1", Compose{Text: "hello"})
	require.NoError(t, err)
	waitAck(t, f.acked)

	require.Equal(t, 1, f.store.Len(), "ack without temp id must not duplicate the record")
	m, ok := f.store.Get("m1")
	require.True(t, ok)
	assert.Equal(t, tempID, m.TempID)
}

func TestSendMediaCarriesUploadState(t *testing.T) {
	f := newPipelineFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, hdr, err := r.FormFile("media")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "pic.png", hdr.Filename)
		_ = json.NewEncoder(w).Encode(models.Message{
			ID: "m1", TempID: r.FormValue("temp_id"), Conversation: "c1", Sender: "me",
			Media: &models.MediaRef{URL: "https://cdn/pic.png", Name: "pic.png"},
		})
	}))

	body := strings.Repeat("x", 2048)
	tempID, err := f.pipeline.Send(context.Background(), "c1", Compose{
		Media:         &api.Attachment{Name: "pic.png", MIME: "image/png", Size: int64(len(body)), Reader: strings.NewReader(body)},
		LocalMediaURL: "blob:local",
	})
	require.NoError(t, err)

	m, ok := f.store.Get(tempID)
	require.True(t, ok)
	require.NotNil(t, m.Media)
	assert.Equal(t, "blob:local", m.Media.URL, "pending record shows the local preview")

	waitAck(t, f.acked)
	m, _ = f.store.Get("m1")
	assert.Nil(t, m.Upload, "upload state cleared after the ack")
	assert.Equal(t, "https://cdn/pic.png", m.Media.URL, "server media reference wins")
}

func TestSendVoiceNote(t *testing.T) {
	f := newPipelineFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "2.5", r.FormValue("voice_duration"))
		_ = json.NewEncoder(w).Encode(models.Message{
			ID: "m1", TempID: r.FormValue("temp_id"), Conversation: "c1", Sender: "me",
			Voice: &models.VoiceRef{URL: "https://cdn/v.ogg", Duration: 2.5},
		})
	}))

	_, err := f.pipeline.Send(context.Background(), "c1", Compose{
		Voice:         &api.Attachment{Name: "v.ogg", Reader: strings.NewReader("audio")},
		VoiceDuration: 2.5,
	})
	require.NoError(t, err)

	ack := waitAck(t, f.acked)
	require.NotNil(t, ack.Voice)
	assert.InDelta(t, 2.5, ack.Voice.Duration, 1e-9)
}

func TestSendFailureErrorPropagatesToHook(t *testing.T) {
	var hookErr error
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over quota", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	st := store.New()
	st.Reset("c1")
	reg := ident.NewRegistry()
	client := api.New(srv.URL, "", httpx.NewNetHTTPDoer(5*time.Second))
	p := NewPipeline(client, st, reg, "me", Hooks{
		OnFailed: func(tempID string, err error) {
			hookErr = err
			close(done)
		},
	})

	_, err := p.Send(context.Background(), "c1", Compose{Text: "hi"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for failure hook")
	}
	require.Error(t, hookErr)
	assert.False(t, errors.Is(hookErr, ErrEmptyCompose))
	assert.Contains(t, hookErr.Error(), "429")
}
