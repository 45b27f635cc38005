package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beads-village/village/internal/journal"
	"github.com/beads-village/village/internal/mail"
	"github.com/mark3labs/mcp-go/mcp"
)

// mailInputError maps mail validation errors to tool errors. It returns
// nil for anything else.
func mailInputError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, mail.ErrMissingSubject):
		return errorResult("subj required", "Give the message a short subject.")
	case errors.Is(err, mail.ErrInvalidScope):
		return errorResult(err.Error(), "Scopes: 'local' (this workspace), 'team' (your team), 'global' (every team).")
	case errors.Is(err, mail.ErrInvalidImportance):
		return errorResult(err.Error(), "Importance: 'normal', 'high' or 'urgent'.")
	case errors.Is(err, mail.ErrScopeViolation):
		return errorResult(err.Error(), "Use 'init' with team=... to switch teams first.")
	}
	return nil
}

// send is the common path of msg and broadcast.
func (v *Village) send(req mcp.CallToolRequest, to, defaultScope, kind string) (*mcp.CallToolResult, error) {
	scope, err := mail.ParseScope(req.GetString("scope", defaultScope))
	if err != nil {
		return mailInputError(err), nil
	}
	imp, err := mail.ParseImportance(req.GetString("importance", ""))
	if err != nil {
		return mailInputError(err), nil
	}

	msg, err := v.Router.Send(v.Session.Identity(), mail.Draft{
		To:         to,
		Subject:    req.GetString("subj", ""),
		Body:       req.GetString("body", ""),
		Importance: imp,
		Scope:      scope,
		Team:       req.GetString("team", ""),
		Thread:     req.GetString("thread", v.Session.Issue()),
		Issue:      v.Session.Issue(),
	})
	if err != nil {
		if res := mailInputError(err); res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("sending message: %w", err)
	}
	v.record(kind, msg.Subject, fmt.Sprintf("to=%s scope=%s", msg.To, msg.Scope))
	return jsonResult(map[string]any{"ok": 1, "id": msg.ID, "scope": msg.Scope, "to": msg.To})
}

// MsgTool handles the msg MCP tool.
type MsgTool struct {
	v *Village
}

// NewMsgTool creates a MsgTool.
func NewMsgTool(v *Village) *MsgTool {
	return &MsgTool{v: v}
}

// Definition returns the MCP tool definition for msg.
func (t *MsgTool) Definition() mcp.Tool {
	return mcp.NewTool("msg",
		mcp.WithDescription(
			"Send a message to other agents. Local scope reaches agents in this workspace; "+
				"team scope reaches your team across workspaces.",
		),
		mcp.WithString("subj",
			mcp.Required(),
			mcp.Description("Subject"),
		),
		mcp.WithString("body",
			mcp.Description("Message body"),
		),
		mcp.WithString("to",
			mcp.Description("Recipient agent ID (default: all)"),
		),
		mcp.WithString("thread",
			mcp.Description("Thread ID (default: your current issue)"),
		),
		mcp.WithString("importance",
			mcp.Description("normal (default), high or urgent"),
			mcp.Enum("normal", "high", "urgent"),
		),
		mcp.WithString("scope",
			mcp.Description("local (default), team or global"),
			mcp.Enum("local", "team", "global"),
		),
		mcp.WithString("team",
			mcp.Description("Team the message is meant for; must be your session team"),
		),
	)
}

// Handle processes the msg tool call.
func (t *MsgTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := req.GetString("to", mail.All)
	if to == "" {
		to = mail.All
	}
	return t.v.send(req, to, string(mail.ScopeLocal), journal.KindMessage)
}

// BroadcastTool handles the broadcast MCP tool.
type BroadcastTool struct {
	v *Village
}

// NewBroadcastTool creates a BroadcastTool.
func NewBroadcastTool(v *Village) *BroadcastTool {
	return &BroadcastTool{v: v}
}

// Definition returns the MCP tool definition for broadcast.
func (t *BroadcastTool) Definition() mcp.Tool {
	return mcp.NewTool("broadcast",
		mcp.WithDescription(
			"Send a message to every agent in your team (default) or, with scope=global, to every team.",
		),
		mcp.WithString("subj",
			mcp.Required(),
			mcp.Description("Subject"),
		),
		mcp.WithString("body",
			mcp.Description("Message body"),
		),
		mcp.WithString("importance",
			mcp.Description("normal (default), high or urgent"),
			mcp.Enum("normal", "high", "urgent"),
		),
		mcp.WithString("scope",
			mcp.Description("team (default), global or local"),
			mcp.Enum("team", "global", "local"),
		),
	)
}

// Handle processes the broadcast tool call.
func (t *BroadcastTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.v.send(req, mail.All, string(mail.ScopeTeam), journal.KindBroadcast)
}

// InboxTool handles the inbox MCP tool.
type InboxTool struct {
	v *Village
}

// NewInboxTool creates an InboxTool.
func NewInboxTool(v *Village) *InboxTool {
	return &InboxTool{v: v}
}

// Definition returns the MCP tool definition for inbox.
func (t *InboxTool) Definition() mcp.Tool {
	return mcp.NewTool("inbox",
		mcp.WithDescription(
			"Read messages from other agents in this workspace and your team, oldest first. "+
				"Returned messages are marked read for you.",
		),
		mcp.WithNumber("n",
			mcp.Description("Maximum messages (default 5, max 50)"),
		),
		mcp.WithBoolean("unread",
			mcp.Description("Only messages you have not read yet"),
		),
		mcp.WithBoolean("global",
			mcp.Description("Include hub-wide messages from every team"),
		),
		mcp.WithString("from",
			mcp.Description("Only messages from this agent"),
		),
	)
}

type messageView struct {
	ID         string    `json:"id"`
	From       string    `json:"f"`
	To         string    `json:"to,omitempty"`
	Subject    string    `json:"s"`
	Body       string    `json:"b,omitempty"`
	Importance string    `json:"imp"`
	Scope      string    `json:"scope"`
	Thread     string    `json:"thread,omitempty"`
	CreatedAt  time.Time `json:"ts"`
}

// Handle processes the inbox tool call.
func (t *InboxTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msgs, err := t.v.Router.Inbox(t.v.Session.Identity(), mail.InboxOptions{
		Limit:         clamp(intArg(req, "n", mail.DefaultInboxLimit), 1, mail.MaxInboxLimit),
		UnreadOnly:    boolArg(req, "unread", false),
		IncludeGlobal: boolArg(req, "global", false),
		From:          req.GetString("from", ""),
	})
	if err != nil {
		if res := mailInputError(err); res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("reading inbox: %w", err)
	}

	items := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{
			ID:         m.ID,
			From:       m.From,
			Subject:    m.Subject,
			Body:       truncate(m.Body, 100),
			Importance: string(m.Importance),
			Scope:      string(m.Scope),
			Thread:     m.Thread,
			CreatedAt:  m.CreatedAt,
		}
		if m.To != mail.All {
			v.To = m.To
		}
		items = append(items, v)
	}
	return jsonResult(items)
}

// DiscoverTool handles the discover MCP tool.
type DiscoverTool struct {
	v *Village
}

// NewDiscoverTool creates a DiscoverTool.
func NewDiscoverTool(v *Village) *DiscoverTool {
	return &DiscoverTool{v: v}
}

// Definition returns the MCP tool definition for discover.
func (t *DiscoverTool) Definition() mcp.Tool {
	return mcp.NewTool("discover",
		mcp.WithDescription(
			"List agents recently active in your team, from their messages and heartbeats. "+
				"Approximate: agents silent for the whole window are not listed.",
		),
		mcp.WithNumber("minutes",
			mcp.Description("Activity window in minutes (default 10)"),
		),
	)
}

// Handle processes the discover tool call.
func (t *DiscoverTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes := intArg(req, "minutes", 10)
	if minutes < 1 {
		minutes = 10
	}
	id := t.v.Session.Identity()
	t.v.heartbeat()

	agents, err := t.v.Router.Discover(id, time.Duration(minutes)*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("discovering agents: %w", err)
	}
	if agents == nil {
		agents = []mail.Agent{}
	}
	teams, err := t.v.Router.Teams()
	if err != nil {
		t.v.logger.Debug("listing teams failed", "err", err)
	}
	return jsonResult(map[string]any{
		"team":    id.Team,
		"minutes": minutes,
		"agents":  agents,
		"count":   len(agents),
		"teams":   teams,
	})
}
