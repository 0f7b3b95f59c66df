package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkie/pkg/httpx"
	"talkie/pkg/models"
)

func newTestClient(t *testing.T, r *mux.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL, "tok-123", httpx.NewNetHTTPDoer(5*time.Second))
}

func TestFetchHistory(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
		assert.Equal(t, "c1", mux.Vars(req)["id"])
		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "m1", Conversation: "c1", Text: "a"},
			{ID: "m2", Conversation: "c1", Text: "b"},
		})
	}).Methods(http.MethodGet)

	c := newTestClient(t, r)
	msgs, err := c.FetchHistory(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestFetchHistoryErrorIncludesBody(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "conversation not found", http.StatusNotFound)
	}).Methods(http.MethodGet)

	c := newTestClient(t, r)
	_, err := c.FetchHistory(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "conversation not found")
}

func TestSendMessageMultipart(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "t1", req.FormValue("temp_id"))
		assert.Equal(t, "hello", req.FormValue("text"))
		assert.Equal(t, "m0", req.FormValue("reply_to"))

		file, hdr, err := req.FormFile("media")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "pic.png", hdr.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "imagebytes", string(data))

		_ = json.NewEncoder(w).Encode(models.Message{ID: "m1", TempID: "t1", Conversation: "c1"})
	}).Methods(http.MethodPost)

	c := newTestClient(t, r)
	var fracs []float64
	rec, err := c.SendMessage(context.Background(), SendRequest{
		Conversation: "c1",
		TempID:       "t1",
		Text:         "hello",
		ReplyTo:      "m0",
		Media: &Attachment{
			Name: "pic.png", MIME: "image/png",
			Size: 10, Reader: strings.NewReader("imagebytes"),
		},
		Progress: func(f float64) { fracs = append(fracs, f) },
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", rec.ID)
	require.NotEmpty(t, fracs)
	assert.Equal(t, float64(1), fracs[len(fracs)-1])
}

func TestMarkSeen(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/conversations/{id}/seen", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			MessageIDs []string `json:"message_ids"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		assert.Equal(t, []string{"m1", "m2"}, in.MessageIDs)
		_ = json.NewEncoder(w).Encode(map[string][]string{"message_ids": {"m1"}})
	}).Methods(http.MethodPost)

	c := newTestClient(t, r)
	marked, err := c.MarkSeen(context.Background(), "c1", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, marked)
}

func TestReact(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/messages/{id}/reactions", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "m1", mux.Vars(req)["id"])
		var in struct {
			Emoji string `json:"emoji"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		assert.Equal(t, "👍", in.Emoji)
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)

	c := newTestClient(t, r)
	require.NoError(t, c.React(context.Background(), "m1", "👍"))
}

func TestDeleteScopes(t *testing.T) {
	var scopes []string
	r := mux.NewRouter()
	r.HandleFunc("/v1/messages/{id}", func(w http.ResponseWriter, req *http.Request) {
		scopes = append(scopes, req.URL.Query().Get("scope"))
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodDelete)

	c := newTestClient(t, r)
	require.NoError(t, c.Delete(context.Background(), "m1", true))
	require.NoError(t, c.Delete(context.Background(), "m2", false))
	assert.Equal(t, []string{"everyone", "me"}, scopes)
}
