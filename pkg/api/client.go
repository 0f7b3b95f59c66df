// Package api is the REST boundary to the excluded backend. Exact paths
// live here; everything above it works with records and ids.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"talkie/pkg/httpx"
	"talkie/pkg/logger"
	"talkie/pkg/models"
)

// Client talks to the messaging backend.
type Client struct {
	base  string
	token string
	doer  httpx.Doer
}

func New(baseURL, token string, doer httpx.Doer) *Client {
	return &Client{base: baseURL, token: token, doer: doer}
}

func (c *Client) header() http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body io.Reader) (*httpx.Response, error) {
	logger.Debug("api_request", "method", method, "path", path, "headers", logger.SafeHeaders(header))
	res, err := c.doer.Do(ctx, &httpx.Request{
		Method: method,
		URL:    c.base + path,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status >= 300 {
		snippet := res.Body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, res.Status, snippet)
	}
	return res, nil
}

// FetchHistory returns the ordered message records of a conversation.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	res, err := c.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages", c.header(), nil)
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := json.Unmarshal(res.Body, &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// Attachment is an outbound media or voice file.
type Attachment struct {
	Name   string
	MIME   string
	Size   int64
	Reader io.Reader
}

// SendRequest carries one composed message to the backend.
type SendRequest struct {
	Conversation string
	TempID       string
	Text         string
	ReplyTo      string
	Media        *Attachment
	Voice        *Attachment
	// VoiceDuration is seconds; only meaningful with Voice.
	VoiceDuration float64
	// Progress, when set, observes attachment upload progress in [0,1].
	Progress func(fraction float64)
}

// SendMessage posts a multipart send and returns the authoritative record.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeSendForm(mw, req)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	header := c.header()
	header.Set("Content-Type", mw.FormDataContentType())
	res, err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(req.Conversation)+"/messages", header, pr)
	if err != nil {
		return models.Message{}, err
	}
	var m models.Message
	if err := json.Unmarshal(res.Body, &m); err != nil {
		return models.Message{}, fmt.Errorf("decode send response: %w", err)
	}
	if req.Progress != nil {
		req.Progress(1)
	}
	return m, nil
}

func writeSendForm(mw *multipart.Writer, req SendRequest) error {
	if err := mw.WriteField("temp_id", req.TempID); err != nil {
		return err
	}
	if req.Text != "" {
		if err := mw.WriteField("text", req.Text); err != nil {
			return err
		}
	}
	if req.ReplyTo != "" {
		if err := mw.WriteField("reply_to", req.ReplyTo); err != nil {
			return err
		}
	}
	if req.Media != nil {
		fw, err := mw.CreateFormFile("media", req.Media.Name)
		if err != nil {
			return err
		}
		src := io.Reader(req.Media.Reader)
		if req.Progress != nil && req.Media.Size > 0 {
			src = &progressReader{r: src, total: req.Media.Size, fn: req.Progress}
		}
		if _, err := io.Copy(fw, src); err != nil {
			return err
		}
	}
	if req.Voice != nil {
		if err := mw.WriteField("voice_duration", strconv.FormatFloat(req.VoiceDuration, 'f', -1, 64)); err != nil {
			return err
		}
		fw, err := mw.CreateFormFile("voice", req.Voice.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(fw, req.Voice.Reader); err != nil {
			return err
		}
	}
	return nil
}

// progressReader reports cumulative read fraction through fn.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		frac := float64(p.read) / float64(p.total)
		if frac > 1 {
			frac = 1
		}
		p.fn(frac)
	}
	return n, err
}

// MarkSeen marks messages as seen and returns the ids the backend
// actually marked.
func (c *Client) MarkSeen(ctx context.Context, conversationID string, msgIDs []string) ([]string, error) {
	body, _ := json.Marshal(map[string][]string{"message_ids": msgIDs})
	header := c.header()
	header.Set("Content-Type", "application/json")
	res, err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/seen", header, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return nil, fmt.Errorf("decode seen response: %w", err)
	}
	return out.MessageIDs, nil
}

// React toggles a reaction on a message.
func (c *Client) React(ctx context.Context, msgID, emoji string) error {
	body, _ := json.Marshal(map[string]string{"emoji": emoji})
	header := c.header()
	header.Set("Content-Type", "application/json")
	_, err := c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(msgID)+"/reactions", header, bytes.NewReader(body))
	return err
}

// Delete removes a message, for everyone or for the caller only.
func (c *Client) Delete(ctx context.Context, msgID string, forEveryone bool) error {
	scope := "me"
	if forEveryone {
		scope = "everyone"
	}
	_, err := c.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(msgID)+"?scope="+scope, c.header(), nil)
	return err
}
