package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/arkestra-ai/arkestra/core"
)

// Narrow persistence surfaces the bundled tools depend on. Both bundled
// store implementations provide them; custom stores only need to implement
// what their registered tools use.

// NoteStore persists free-form notes.
type NoteStore interface {
	AddNote(ctx context.Context, sessionID, text string, tags []string) (int64, error)
}

// ReminderStore schedules reminders.
type ReminderStore interface {
	CreateReminder(ctx context.Context, sessionID, title string, when time.Time, channel string) (int64, error)
}

// AliasStore records what the user likes to be called.
type AliasStore interface {
	SetAlias(ctx context.Context, sessionID, alias string, primary bool, shortDesc string) error
}

// MessageSearcher looks up past conversation turns by calendar date.
type MessageSearcher interface {
	MessagesByDate(ctx context.Context, sessionID, date string) ([]core.Message, error)
}

// NewNoteTool returns the bundled note-taking tool.
func NewNoteTool(store NoteStore) *FunctionTool {
	return NewFunctionTool(
		"note.add",
		"Save a short free-form note for later recall",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "Note body"},
				"tags": map[string]any{"type": "array", "description": "Optional tags"},
			},
			"required": []string{"text"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			var tags []string
			if raw, ok := args["tags"].([]any); ok {
				for _, t := range raw {
					if s, ok := t.(string); ok {
						tags = append(tags, s)
					}
				}
			}
			id, err := store.AddNote(ctx, SessionID(ctx), text, tags)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "saved": true}, nil
		},
	)
}

// NewReminderTool returns the bundled reminder tool. The "when" argument is
// RFC 3339; a malformed timestamp is a validation error, not an execution
// failure.
func NewReminderTool(store ReminderStore) *FunctionTool {
	return NewFunctionTool(
		"reminder.create",
		"Schedule a reminder to be delivered at a given time",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":   map[string]any{"type": "string", "description": "What to remind about"},
				"when":    map[string]any{"type": "string", "description": "RFC 3339 timestamp"},
				"channel": map[string]any{"type": "string", "description": "Delivery channel", "enum": []string{"cli", "chat"}},
			},
			"required": []string{"title", "when"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			title, _ := args["title"].(string)
			whenRaw, _ := args["when"].(string)
			when, err := time.Parse(time.RFC3339, whenRaw)
			if err != nil {
				return nil, NewToolError("reminder.create", fmt.Sprintf("bad timestamp %q", whenRaw), CodeValidation)
			}
			channel, _ := args["channel"].(string)
			if channel == "" {
				channel = "cli"
			}
			id, err := store.CreateReminder(ctx, SessionID(ctx), title, when, channel)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "scheduled_for": when.Format(time.RFC3339)}, nil
		},
	)
}

// NewAliasTool returns the bundled alias tool.
func NewAliasTool(store AliasStore) *FunctionTool {
	return NewFunctionTool(
		"alias.set",
		"Remember a name or nickname the user wants to be called",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"alias":      map[string]any{"type": "string", "description": "The name itself"},
				"primary":    map[string]any{"type": "boolean", "description": "Whether this becomes the preferred name"},
				"short_desc": map[string]any{"type": "string", "description": "Context for the name"},
			},
			"required": []string{"alias"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			alias, _ := args["alias"].(string)
			primary, _ := args["primary"].(bool)
			desc, _ := args["short_desc"].(string)
			if err := store.SetAlias(ctx, SessionID(ctx), alias, primary, desc); err != nil {
				return nil, err
			}
			return map[string]any{"alias": alias, "primary": primary}, nil
		},
	)
}

// NewSearchByDateTool returns the bundled history-lookup tool.
func NewSearchByDateTool(store MessageSearcher) *FunctionTool {
	return NewFunctionTool(
		"history.search_by_date",
		"Look up what was discussed on a given calendar day",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{"type": "string", "description": "Day in YYYY-MM-DD"},
			},
			"required": []string{"date"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			date, _ := args["date"].(string)
			if _, err := time.Parse("2006-01-02", date); err != nil {
				return nil, NewToolError("history.search_by_date", fmt.Sprintf("bad date %q", date), CodeValidation)
			}
			msgs, err := store.MessagesByDate(ctx, SessionID(ctx), date)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(msgs))
			for _, m := range msgs {
				out = append(out, map[string]any{"role": m.Role, "text": m.Text, "at": m.CreatedAt.Format(time.RFC3339)})
			}
			return map[string]any{"date": date, "messages": out}, nil
		},
	)
}
