package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"MorningCall/internal/call"
	"MorningCall/internal/conversation"
	"MorningCall/internal/plan"
	"MorningCall/internal/search"
	"MorningCall/internal/session"
)

// handleCommand executes a slash command and reports whether to quit
func (a *App) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	args := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/start":
		if err := a.calls.StartCall(ctx); err != nil {
			return false, describeStartError(err)
		}
		if a.console != nil {
			a.printf("Type your replies while the call is active. /end hangs up.\n")
		}
		return false, nil

	case "/end":
		entry, err := a.calls.EndCall(ctx)
		if err != nil {
			return false, err
		}
		if entry != nil {
			a.printf("Call log saved (%d seconds, %d messages)\n", entry.Duration, len(entry.Conversation))
		}
		return false, nil

	case "/status":
		st := a.calls.Status()
		if st.State == call.StateIdle {
			a.printf("Idle\n")
			return false, nil
		}
		a.printf("On a call since %s, %s left (%s plan)\n",
			st.StartedAt.Format(time.Kitchen), st.Remaining, plan.Resolve(st.Plan).Name)
		return false, nil

	case "/plan":
		if len(parts) < 2 {
			id, err := a.store.Plan(ctx)
			if err != nil {
				return false, err
			}
			printPlan(a, plan.Resolve(id), true)
			return false, nil
		}
		id, err := plan.Parse(parts[1])
		if err != nil {
			return false, fmt.Errorf("usage: /plan <free|plus|premium>: %w", err)
		}
		if err := a.store.SetPlan(ctx, id); err != nil {
			return false, err
		}
		a.printf("Plan set to %s\n", plan.Resolve(id).Name)
		if a.calls.Status().State == call.StateActive {
			a.printf("The current call keeps its plan; the change applies to the next call.\n")
		}
		return false, nil

	case "/plans":
		current, err := a.store.Plan(ctx)
		if err != nil {
			return false, err
		}
		for _, ent := range plan.All() {
			printPlan(a, ent, ent.Plan == current)
		}
		return false, nil

	case "/key":
		return false, a.keyCommand(ctx, parts[1:])

	case "/add":
		title, content, ok := strings.Cut(args, "|")
		title, content = strings.TrimSpace(title), strings.TrimSpace(content)
		if !ok || title == "" || content == "" {
			return false, fmt.Errorf("usage: /add <title> | <content>")
		}
		all, err := a.store.Instructions(ctx)
		if err != nil {
			return false, err
		}
		order := 1
		for _, inst := range all {
			if inst.Order >= order {
				order = inst.Order + 1
			}
		}
		inst, err := a.store.AddInstruction(ctx, session.Instruction{
			Title:    title,
			Content:  content,
			Order:    order,
			IsActive: true,
		})
		if err != nil {
			return false, err
		}
		a.printf("Added %q (%s)\n", inst.Title, shortID(inst.ID))
		return false, nil

	case "/list":
		all, err := a.store.Instructions(ctx)
		if err != nil {
			return false, err
		}
		if len(all) == 0 {
			a.printf("No instructions. Add one with /add <title> | <content>\n")
			return false, nil
		}
		for i, inst := range byOrder(all) {
			active := " "
			if inst.IsActive {
				active = "x"
			}
			web := ""
			if inst.UseWebSearch {
				web = " [web]"
			}
			a.printf("%d. [%s] %s: %s (order %d, %s)%s\n", i+1, active, inst.Title, inst.Content, inst.Order, shortID(inst.ID), web)
		}
		return false, nil

	case "/toggle", "/search-toggle", "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: %s <number|id>", parts[0])
		}
		id, err := a.resolveInstruction(ctx, parts[1])
		if err != nil {
			return false, err
		}
		if parts[0] == "/delete" {
			if err := a.store.DeleteInstruction(ctx, id); err != nil {
				return false, err
			}
			a.printf("Deleted %s\n", shortID(id))
			return false, nil
		}
		inst, err := a.store.UpdateInstruction(ctx, id, func(inst *session.Instruction) {
			if parts[0] == "/toggle" {
				inst.IsActive = !inst.IsActive
			} else {
				inst.UseWebSearch = !inst.UseWebSearch
			}
		})
		if err != nil {
			return false, err
		}
		a.printf("%s: active=%t web=%t\n", inst.Title, inst.IsActive, inst.UseWebSearch)
		return false, nil

	case "/order":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /order <number|id> <order>")
		}
		order, err := strconv.Atoi(parts[2])
		if err != nil {
			return false, fmt.Errorf("order must be a number: %w", err)
		}
		id, err := a.resolveInstruction(ctx, parts[1])
		if err != nil {
			return false, err
		}
		inst, err := a.store.UpdateInstruction(ctx, id, func(inst *session.Instruction) {
			inst.Order = order
		})
		if err != nil {
			return false, err
		}
		a.printf("%s now has order %d\n", inst.Title, inst.Order)
		return false, nil

	case "/logs":
		logs, err := a.calls.CallLogs(ctx)
		if err != nil {
			return false, err
		}
		if len(logs) == 0 {
			a.printf("No calls recorded yet.\n")
			return false, nil
		}
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < 1 || n > len(logs) {
				return false, fmt.Errorf("no call log number %s", parts[1])
			}
			printCallLog(a, logs[n-1])
			return false, nil
		}
		for i, entry := range logs {
			a.printf("%d. %s  %ds  %d instructions, %d messages\n",
				i+1, entry.Date.Local().Format("2006-01-02 15:04"), entry.Duration, len(entry.Instructions), len(entry.Conversation))
		}
		return false, nil

	case "/search":
		if args == "" {
			return false, fmt.Errorf("usage: /search <query>")
		}
		resp, err := a.search.Search(ctx, args)
		if err != nil {
			return false, fmt.Errorf("search failed: %w", err)
		}
		a.printf("%s\n", search.FormatResults(resp, time.Now()))
		return false, nil

	case "/alarm":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /alarm <duration> [title]")
		}
		d, err := time.ParseDuration(parts[1])
		if err != nil {
			return false, fmt.Errorf("invalid duration %q: %w", parts[1], err)
		}
		title := strings.TrimSpace(strings.TrimPrefix(args, parts[1]))
		if title == "" {
			title = "Morning call"
		}
		al, err := a.alarms.ScheduleIn(d, title, "Time for your morning routine")
		if err != nil {
			return false, err
		}
		a.printf("Alarm %s set for %s\n", shortID(al.ID), al.At.Format(time.Kitchen))
		return false, nil

	case "/alarms":
		alarms := a.alarms.List()
		if len(alarms) == 0 {
			a.printf("No alarms.\n")
			return false, nil
		}
		for _, al := range alarms {
			a.printf("%s  %s  %s  %s\n", shortID(al.ID), al.At.Format(time.Kitchen), al.State, al.Title)
		}
		return false, nil

	case "/alarm-cancel", "/alarm-pause", "/alarm-resume":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: %s <id>", parts[0])
		}
		id, err := a.resolveAlarm(parts[1])
		if err != nil {
			return false, err
		}
		switch parts[0] {
		case "/alarm-cancel":
			err = a.alarms.Cancel(id)
		case "/alarm-pause":
			err = a.alarms.Pause(id)
		default:
			err = a.alarms.Resume(id)
		}
		if err != nil {
			return false, err
		}
		a.printf("OK\n")
		return false, nil

	case "/help":
		a.printf("Available commands:\n")
		a.printf("  /start                      - Start a morning call\n")
		a.printf("  /end                        - End the current call\n")
		a.printf("  /status                     - Show call state and time left\n")
		a.printf("  /plan [free|plus|premium]   - Show or change the plan\n")
		a.printf("  /plans                      - List plans and what they include\n")
		a.printf("  /key [<key>|clear]          - Show, set or remove the OpenAI API key\n")
		a.printf("  /add <title> | <content>    - Add an instruction\n")
		a.printf("  /list                       - List instructions\n")
		a.printf("  /toggle <n>                 - Activate or deactivate an instruction\n")
		a.printf("  /search-toggle <n>          - Toggle web search for an instruction\n")
		a.printf("  /order <n> <order>          - Change an instruction's position\n")
		a.printf("  /delete <n>                 - Delete an instruction\n")
		a.printf("  /logs [n]                   - Show recorded calls, or one call in full\n")
		a.printf("  /search <query>             - Run a web search\n")
		a.printf("  /alarm <duration> [title]   - Start a call after a delay (e.g. 7h30m)\n")
		a.printf("  /alarms                     - List alarms\n")
		a.printf("  /alarm-cancel|pause|resume <id>\n")
		a.printf("  /quit, /exit                - Exit\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", parts[0])
	}
}

func (a *App) keyCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		key, err := a.store.APIKey(ctx)
		if err != nil {
			return err
		}
		if key == "" {
			a.printf("No API key set.\n")
		} else {
			a.printf("API key: %s\n", maskKey(key))
		}
		return nil
	}
	if args[0] == "clear" {
		if err := a.store.DeleteAPIKey(ctx); err != nil {
			return err
		}
		a.printf("API key removed.\n")
		return nil
	}
	if err := conversation.ValidateAPIKey(args[0]); err != nil {
		return err
	}
	if err := a.store.SaveAPIKey(ctx, args[0]); err != nil {
		return err
	}
	a.printf("API key saved.\n")
	return nil
}

// resolveInstruction accepts a position from /list or an id prefix
func (a *App) resolveInstruction(ctx context.Context, ref string) (string, error) {
	all, err := a.store.Instructions(ctx)
	if err != nil {
		return "", err
	}
	ordered := byOrder(all)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(ordered) {
			return "", fmt.Errorf("no instruction number %d", n)
		}
		return ordered[n-1].ID, nil
	}
	ids := make([]string, len(all))
	for i, inst := range all {
		ids[i] = inst.ID
	}
	return matchPrefix(ids, ref, "instruction")
}

func (a *App) resolveAlarm(ref string) (string, error) {
	alarms := a.alarms.List()
	ids := make([]string, len(alarms))
	for i, al := range alarms {
		ids[i] = al.ID
	}
	return matchPrefix(ids, ref, "alarm")
}

func matchPrefix(ids []string, ref, kind string) (string, error) {
	var found []string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no %s matches %q", kind, ref)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%q matches %d %ss", ref, len(found), kind)
	}
}

func byOrder(all []session.Instruction) []session.Instruction {
	out := append([]session.Instruction(nil), all...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func printPlan(a *App, ent plan.Entitlements, current bool) {
	marker := " "
	if current {
		marker = "*"
	}
	a.printf("%s %-8s %3ds  logs=%t  web=%t  model=%s\n",
		marker, ent.Name, ent.DurationLimitSeconds(), ent.HasLogAccess, ent.HasWebSearch, ent.Model)
}

func printCallLog(a *App, entry session.CallLog) {
	a.printf("Call on %s, %d seconds\n", entry.Date.Local().Format("2006-01-02 15:04"), entry.Duration)
	a.printf("Instructions:\n")
	for i, inst := range entry.Instructions {
		a.printf("  %d. %s: %s\n", i+1, inst.Title, inst.Content)
	}
	a.printf("Conversation:\n")
	for _, msg := range entry.Conversation {
		a.printf("  [%s] %s: %s\n", msg.Timestamp.Local().Format(time.TimeOnly), msg.Role, msg.Content)
	}
}

func describeStartError(err error) error {
	switch {
	case errors.Is(err, call.ErrNoCredential):
		return fmt.Errorf("%w; set one with /key <key>", err)
	case errors.Is(err, call.ErrNoActiveInstructions):
		return fmt.Errorf("%w; add one with /add or activate one with /toggle", err)
	default:
		return err
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
