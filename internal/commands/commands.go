// Package commands is the bot's dispatch handler: prefix commands read from
// MESSAGE_CREATE and answered through the REST client.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/foobles/discord-bot/internal/protocol"
	"github.com/foobles/discord-bot/internal/rest"
)

const (
	DefaultPrefix = "eg!"
	// maxHistory bounds how far back eg!history pages.
	maxHistory = 1000
)

type Config struct {
	Prefix string
	// Announce lists channels greeted after every READY.
	Announce []protocol.Snowflake
	// Admins may run admin commands. Empty means nobody can.
	Admins []protocol.Snowflake
	// Throttle limits commands per user; nil means unlimited.
	Throttle *Throttle
	// Audit records every invocation; nil disables it.
	Audit      *AuditLog
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type command struct {
	args  []string
	help  string
	admin bool
	run   func(ctx context.Context, client *rest.Client, msg *protocol.Message, args []string) error
}

// Handler runs on the session goroutine, so its fields need no locking.
type Handler struct {
	prefix   string
	announce []protocol.Snowflake
	admins   map[protocol.Snowflake]struct{}
	logger   *slog.Logger
	self     protocol.Snowflake
	throttle *Throttle
	audit    *AuditLog
	commands map[string]command
	invoked  *prometheus.CounterVec
}

func New(cfg Config) *Handler {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		prefix:   cfg.Prefix,
		announce: cfg.Announce,
		admins:   make(map[protocol.Snowflake]struct{}, len(cfg.Admins)),
		throttle: cfg.Throttle,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		invoked: promauto.With(cfg.Registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "discord_bot",
			Subsystem: "commands",
			Name:      "invocations_total",
			Help:      "Commands handled by name.",
		}, []string{"command"}),
	}
	for _, id := range cfg.Admins {
		h.admins[id] = struct{}{}
	}
	h.commands = map[string]command{
		"ping": {help: "check the bot is alive", run: h.ping},
		"echo": {args: []string{"text"}, help: "repeat text back", run: h.echo},
		"help": {help: "list commands", run: h.help},
		"history": {
			args:  []string{"n"},
			help:  "count the last n messages of this channel and their authors",
			admin: true,
			run:   h.history,
		},
		"react": {args: []string{"emoji"}, help: "react to the command message", run: h.react},
	}
	return h
}

func (h *Handler) HandleDispatch(ctx context.Context, payload protocol.DispatchPayload, client *rest.Client) error {
	switch p := payload.(type) {
	case *protocol.Ready:
		h.self = p.User.ID
		var errs []error
		for _, ch := range h.announce {
			if _, err := client.CreateMessage(ctx, ch, "Dispenser goin' up!"); err != nil {
				errs = append(errs, fmt.Errorf("announce in %s: %w", ch, err))
			}
		}
		return errors.Join(errs...)
	case *protocol.MessageCreate:
		if p.Author.ID == h.self || p.Author.Bot {
			return nil
		}
		if err := h.wot(ctx, client, &p.Message); err != nil {
			return err
		}
		return h.handleMessage(ctx, client, &p.Message)
	default:
		return nil
	}
}

func (h *Handler) handleMessage(ctx context.Context, client *rest.Client, msg *protocol.Message) error {
	name, args, ok := h.parse(msg.Content)
	if !ok {
		return nil
	}
	cmd, ok := h.commands[name]
	if !ok {
		return nil
	}
	h.invoked.WithLabelValues(name).Inc()
	if h.throttle != nil {
		if ok, wait := h.throttle.Take(msg.Author.ID); !ok {
			h.audit.record(msg, name, args, outcomeThrottled, nil)
			h.logger.Info("command throttled", "command", name, "user_id", msg.Author.ID, "wait", wait)
			reply := fmt.Sprintf("slow down, try again in %s", wait.Round(time.Second))
			_, err := client.CreateMessage(ctx, msg.ChannelID, reply)
			return err
		}
	}
	if cmd.admin {
		if _, ok := h.admins[msg.Author.ID]; !ok {
			h.audit.record(msg, name, args, outcomeDenied, nil)
			h.logger.Info("command denied", "command", name, "user_id", msg.Author.ID)
			_, err := client.CreateMessage(ctx, msg.ChannelID, "Watch it, string bean. You aren't an admin")
			return err
		}
	}
	if len(args) < len(cmd.args) {
		h.audit.record(msg, name, args, outcomeUsage, nil)
		_, err := client.CreateMessage(ctx, msg.ChannelID, "usage: "+h.usage(name, cmd))
		return err
	}
	h.logger.Debug("command invoked", "command", name, "channel_id", msg.ChannelID, "author", msg.Author.Username)
	if err := cmd.run(ctx, client, msg, args); err != nil {
		h.audit.record(msg, name, args, outcomeFailed, err)
		return fmt.Errorf("command %s: %w", name, err)
	}
	h.audit.record(msg, name, args, outcomeOK, nil)
	return nil
}

// parse splits "<prefix><name> args..." into the command name and its arguments.
func (h *Handler) parse(content string) (string, []string, bool) {
	body, ok := strings.CutPrefix(content, h.prefix)
	if !ok {
		return "", nil, false
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (h *Handler) usage(name string, cmd command) string {
	var b strings.Builder
	b.WriteString(h.prefix)
	b.WriteString(name)
	for _, a := range cmd.args {
		b.WriteString(" <" + a + ">")
	}
	return b.String()
}

// wot answers any message containing the word "wot".
func (h *Handler) wot(ctx context.Context, client *rest.Client, msg *protocol.Message) error {
	for _, w := range strings.Fields(msg.Content) {
		if strings.EqualFold(w, "wot") {
			_, err := client.CreateMessage(ctx, msg.ChannelID, "u wot m8")
			return err
		}
	}
	return nil
}

func (h *Handler) ping(ctx context.Context, client *rest.Client, msg *protocol.Message, _ []string) error {
	_, err := client.CreateMessage(ctx, msg.ChannelID, "pong")
	return err
}

func (h *Handler) echo(ctx context.Context, client *rest.Client, msg *protocol.Message, args []string) error {
	_, err := client.CreateMessage(ctx, msg.ChannelID, strings.Join(args, " "))
	return err
}

func (h *Handler) help(ctx context.Context, client *rest.Client, msg *protocol.Message, _ []string) error {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		cmd := h.commands[name]
		fmt.Fprintf(&b, "`%s` %s", h.usage(name, cmd), cmd.help)
		if cmd.admin {
			b.WriteString(" (admin)")
		}
		b.WriteByte('\n')
	}
	_, err := client.CreateMessage(ctx, msg.ChannelID, strings.TrimRight(b.String(), "\n"))
	return err
}

func (h *Handler) react(ctx context.Context, client *rest.Client, msg *protocol.Message, args []string) error {
	return client.CreateReaction(ctx, msg.ChannelID, msg.ID, args[0])
}

// history pages backwards through the channel using the oldest message seen as the cursor.
// Each page waits out the route's rate limit inside the client.
func (h *Handler) history(ctx context.Context, client *rest.Client, msg *protocol.Message, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		_, err := client.CreateMessage(ctx, msg.ChannelID, "n must be a positive number")
		return err
	}
	n = min(n, maxHistory)

	var (
		before  *protocol.Snowflake
		count   int
		authors = make(map[protocol.Snowflake]struct{})
	)
	for count < n {
		page, _, err := client.ChannelMessages(ctx, msg.ChannelID, before, n-count)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		oldest := page[len(page)-1]
		for _, m := range page {
			if count == n {
				break
			}
			count++
			authors[m.Author.ID] = struct{}{}
			if m.Timestamp.Before(oldest.Timestamp) {
				oldest = m
			}
		}
		id := oldest.ID
		before = &id
	}

	reply := fmt.Sprintf("read %d messages from %d authors", count, len(authors))
	_, err = client.CreateMessage(ctx, msg.ChannelID, reply)
	return err
}
