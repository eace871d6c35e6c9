package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/foobles/discord-bot/internal/protocol"
)

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

type GatewayInfo struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// GatewayBot resolves the streaming endpoint. A missing or unparsable url is a *ProtocolError.
func (c *Client) GatewayBot(ctx context.Context) (GatewayInfo, error) {
	info, _, err := GetJSON[GatewayInfo](ctx, c, "gateway/bot")
	if err != nil {
		return GatewayInfo{}, err
	}
	u, err := url.Parse(strings.TrimSpace(info.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("gateway url %q is not absolute", info.URL)
		}
		return GatewayInfo{}, &ProtocolError{Route: "GET gateway/bot", Err: err}
	}
	return info, nil
}

func (c *Client) CreateMessage(ctx context.Context, channel protocol.Snowflake, content string) (*protocol.Message, error) {
	path := "channels/" + channel.String() + "/messages"
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   map[string]string{"content": content},
	})
	if err != nil {
		return nil, err
	}
	var msg protocol.Message
	if err := resp.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateReaction reacts to a message; emoji is a unicode emoji or "name:id" for custom ones.
func (c *Client) CreateReaction(ctx context.Context, channel, message protocol.Snowflake, emoji string) error {
	path := fmt.Sprintf("channels/%s/messages/%s/reactions/%s/@me", channel, message, url.PathEscape(emoji))
	_, err := c.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   path,
		Route:  fmt.Sprintf("PUT channels/%s/messages/reactions", channel),
	})
	return err
}

// ChannelMessages lists messages older than before (when set), newest first.
func (c *Client) ChannelMessages(ctx context.Context, channel protocol.Snowflake, before *protocol.Snowflake, limit int) ([]protocol.Message, RateLimit, error) {
	q := url.Values{}
	if before != nil {
		q.Set("before", before.String())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(min(limit, 100)))
	}
	path := "channels/" + channel.String() + "/messages"
	route := "GET " + path
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Route: route})
	if err != nil {
		return nil, RateLimit{}, err
	}
	var msgs []protocol.Message
	if err := resp.Decode(&msgs); err != nil {
		return nil, resp.RateLimit, err
	}
	return msgs, resp.RateLimit, nil
}
