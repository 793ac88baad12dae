package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/groupgate/groupgate/internal/domain"
	"github.com/groupgate/groupgate/internal/usecase"
)

const adminUsage = `Operator commands (private chat):
/cdkey create <days> <count> - mint keys
/cdkey list - list all keys
/cdkey delete <code> - remove a key
/cdkey assign <groupID> <code> - redeem a key for a group`

const groupUsage = `Group commands:
/cdkey use <code> - activate a key for this group
/authstatus - remaining license days
/plugin list - plugin states
/plugin enable <name> | /plugin disable <name> (operator)`

// Plugin is one optional, gated feature handler. The dispatcher asks the
// gatekeeper before Handle runs; Handle returns the reply text.
type Plugin interface {
	Name() string
	Commands() []string
	Handle(ctx context.Context, groupID, command string, args []string) string
}

type Handler struct {
	bot     *tgbotapi.BotAPI
	license *usecase.LicenseService
	plugins *usecase.PluginService
	gate    *usecase.Gatekeeper
	adminID int64
	logger  *slog.Logger

	mu       sync.Mutex
	observed map[int64]bool
	commands map[string]Plugin
}

func NewHandler(
	bot *tgbotapi.BotAPI,
	license *usecase.LicenseService,
	plugins *usecase.PluginService,
	gate *usecase.Gatekeeper,
	adminID int64,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		bot:      bot,
		license:  license,
		plugins:  plugins,
		gate:     gate,
		adminID:  adminID,
		logger:   logger.With("component", "bot"),
		observed: make(map[int64]bool),
		commands: make(map[string]Plugin),
	}
}

// RegisterPlugin wires a gated plugin's commands into the dispatcher.
// Startup only.
func (h *Handler) RegisterPlugin(p Plugin) {
	for _, cmd := range p.Commands() {
		h.commands[cmd] = p
	}
}

func (h *Handler) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := h.bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		h.bot.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil {
			continue
		}
		go h.handleMessage(ctx, update.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat.IsPrivate() {
		// operator surface only; everything else is group-scoped
		if msg.From.ID == h.adminID {
			h.handleAdmin(ctx, msg)
		}
		return
	}
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		return
	}

	h.observe(ctx, msg.Chat.ID)

	if !msg.IsCommand() {
		return
	}

	groupID := strconv.FormatInt(msg.Chat.ID, 10)
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "cdkey":
		h.handleGroupCDKey(ctx, msg, groupID, args)
	case "authstatus":
		h.handleAuthStatus(ctx, msg, groupID)
	case "plugin":
		h.handlePlugin(ctx, msg, groupID, args)
	default:
		h.dispatchPlugin(ctx, msg, groupID, args)
	}
}

// observe runs the roster hook once per chat per session.
func (h *Handler) observe(ctx context.Context, chatID int64) {
	h.mu.Lock()
	seen := h.observed[chatID]
	h.observed[chatID] = true
	h.mu.Unlock()
	if seen {
		return
	}

	groupID := strconv.FormatInt(chatID, 10)
	if err := h.gate.OnGroupObserved(ctx, groupID); err != nil {
		h.logger.Error("failed to sync observed group", "group", groupID, "err", err)
	}
}

// --- Operator commands (private chat) ---

func (h *Handler) handleAdmin(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() || msg.Command() != "cdkey" {
		h.send(msg.Chat.ID, adminUsage)
		return
	}

	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		h.send(msg.Chat.ID, adminUsage)
		return
	}

	switch args[0] {
	case "create":
		h.adminCreate(ctx, msg, args[1:])
	case "list":
		h.adminList(ctx, msg)
	case "delete":
		h.adminDelete(ctx, msg, args[1:])
	case "assign":
		h.adminAssign(ctx, msg, args[1:])
	default:
		h.send(msg.Chat.ID, adminUsage)
	}
}

func (h *Handler) adminCreate(ctx context.Context, msg *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		h.send(msg.Chat.ID, "Usage: /cdkey create <days> <count>")
		return
	}
	days, err1 := strconv.Atoi(args[0])
	count, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || days <= 0 || count <= 0 {
		h.send(msg.Chat.ID, "Days and count must be positive integers.")
		return
	}

	keys, err := h.license.IssueCodes(ctx, days, count)
	if err != nil {
		h.logger.Error("issue failed", "err", err)
		h.send(msg.Chat.ID, "Failed to create keys.")
		return
	}
	h.send(msg.Chat.ID, renderIssued(keys))
}

func (h *Handler) adminList(ctx context.Context, msg *tgbotapi.Message) {
	keys, err := h.license.ListCodes(ctx)
	if err != nil {
		h.logger.Error("list failed", "err", err)
		h.send(msg.Chat.ID, "Failed to list keys.")
		return
	}
	h.send(msg.Chat.ID, renderCodeList(keys))
}

func (h *Handler) adminDelete(ctx context.Context, msg *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		h.send(msg.Chat.ID, "Usage: /cdkey delete <code>")
		return
	}
	err := h.license.DeleteCode(ctx, args[0])
	if errors.Is(err, domain.ErrNotFound) {
		h.send(msg.Chat.ID, fmt.Sprintf("CDKey not found: %s", args[0]))
		return
	}
	if err != nil {
		h.logger.Error("delete failed", "err", err)
		h.send(msg.Chat.ID, "Failed to delete key.")
		return
	}
	h.send(msg.Chat.ID, fmt.Sprintf("Deleted CDKey: %s", args[0]))
}

func (h *Handler) adminAssign(ctx context.Context, msg *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		h.send(msg.Chat.ID, "Usage: /cdkey assign <groupID> <code>")
		return
	}
	groupID, code := args[0], args[1]

	newExpires, err := h.license.Redeem(ctx, code, groupID)
	if err != nil {
		h.send(msg.Chat.ID, redeemErrorReply(err))
		if !isTaxonomy(err) {
			h.logger.Error("assign failed", "group", groupID, "err", err)
		}
		return
	}
	h.send(msg.Chat.ID, fmt.Sprintf("Assigned CDKey to group %s.\nNew expiry: %s",
		groupID, newExpires.Format("2006-01-02")))
}

// --- Group commands ---

func (h *Handler) handleGroupCDKey(ctx context.Context, msg *tgbotapi.Message, groupID string, args []string) {
	if len(args) != 2 || args[0] != "use" {
		h.send(msg.Chat.ID, groupUsage)
		return
	}

	newExpires, err := h.license.Redeem(ctx, args[1], groupID)
	if err != nil {
		h.send(msg.Chat.ID, redeemErrorReply(err))
		if !isTaxonomy(err) {
			h.logger.Error("redeem failed", "group", groupID, "err", err)
		}
		return
	}
	h.send(msg.Chat.ID, fmt.Sprintf("CDKey accepted!\nNew expiry: %s", newExpires.Format("2006-01-02")))
}

func (h *Handler) handleAuthStatus(ctx context.Context, msg *tgbotapi.Message, groupID string) {
	days, err := h.license.RemainingDays(ctx, groupID)
	if err != nil {
		h.logger.Error("status failed", "group", groupID, "err", err)
		h.send(msg.Chat.ID, "Failed to read license status.")
		return
	}
	if days <= 0 {
		h.send(msg.Chat.ID, fmt.Sprintf("Group %s is not licensed or the license has expired.", groupID))
		return
	}

	expiry, err := h.license.Expiry(ctx, groupID)
	if err != nil || expiry == nil {
		h.send(msg.Chat.ID, fmt.Sprintf("Group %s licensed, %d days remaining.", groupID, days))
		return
	}
	h.send(msg.Chat.ID, fmt.Sprintf("Group %s licensed, %d days remaining.\nExpires: %s",
		groupID, days, expiry.Format("2006-01-02")))
}

func (h *Handler) handlePlugin(ctx context.Context, msg *tgbotapi.Message, groupID string, args []string) {
	if len(args) == 0 {
		h.send(msg.Chat.ID, groupUsage)
		return
	}

	switch args[0] {
	case "list":
		states, err := h.plugins.ListForGroup(ctx, groupID)
		if err != nil {
			h.logger.Error("plugin list failed", "group", groupID, "err", err)
			h.send(msg.Chat.ID, "Failed to read plugin states.")
			return
		}
		h.send(msg.Chat.ID, renderPluginStates(groupID, states))

	case "enable", "disable":
		if len(args) != 2 {
			h.send(msg.Chat.ID, groupUsage)
			return
		}
		if msg.From.ID != h.adminID {
			h.send(msg.Chat.ID, "Insufficient permissions.")
			return
		}
		h.togglePlugin(ctx, msg, groupID, args[1], args[0] == "enable")

	default:
		h.send(msg.Chat.ID, groupUsage)
	}
}

func (h *Handler) togglePlugin(ctx context.Context, msg *tgbotapi.Message, groupID, name string, enable bool) {
	// toggles are only meaningful on a licensed group
	authed, err := h.license.IsAuthorized(ctx, groupID)
	if err != nil {
		h.logger.Error("toggle auth check failed", "group", groupID, "err", err)
		h.send(msg.Chat.ID, "Failed to check the group license.")
		return
	}
	if !authed {
		h.send(msg.Chat.ID, fmt.Sprintf("Group %s is not licensed or the license has expired.", groupID))
		return
	}

	if err := h.plugins.SetEnabled(ctx, groupID, name, enable); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.send(msg.Chat.ID, fmt.Sprintf("Unknown plugin: %s", name))
			return
		}
		h.logger.Error("toggle failed", "group", groupID, "plugin", name, "err", err)
		h.send(msg.Chat.ID, "Failed to update the plugin state.")
		return
	}

	action := "Enabled"
	if !enable {
		action = "Disabled"
	}
	h.send(msg.Chat.ID, fmt.Sprintf("%s plugin [%s] in group %s.", action, name, groupID))
}

// dispatchPlugin routes an unrecognized command to its registered plugin,
// gate first. Denied events are dropped without a reply, like the source
// framework ignoring the matcher.
func (h *Handler) dispatchPlugin(ctx context.Context, msg *tgbotapi.Message, groupID string, args []string) {
	plugin, ok := h.commands[msg.Command()]
	if !ok {
		return
	}

	verdict := h.gate.ShouldProceed(ctx, groupID, plugin.Name())
	if !verdict.Allow {
		h.logger.Info("plugin skipped", "group", groupID, "plugin", plugin.Name(), "reason", verdict.Reason)
		return
	}

	if reply := plugin.Handle(ctx, groupID, msg.Command(), args); reply != "" {
		h.send(msg.Chat.ID, reply)
	}
}

// NotifyGroup implements domain.NotificationService for the workers.
func (h *Handler) NotifyGroup(groupID string, message string) error {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad group id %q: %w", groupID, err)
	}
	h.send(chatID, message)
	return nil
}

func (h *Handler) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Error("send failed", "chat", chatID, "err", err)
	}
}

// --- Rendering ---

func renderIssued(keys []domain.CDKey) string {
	if len(keys) == 0 {
		return "No keys created."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Created %d keys for %d days (assign before %s):\n",
		len(keys), keys[0].Days, keys[0].Expires.Format("2006-01-02"))
	for _, k := range keys {
		fmt.Fprintf(&sb, "`%s`\n", k.Code)
	}
	return sb.String()
}

func renderCodeList(keys []domain.CDKey) string {
	if len(keys) == 0 {
		return "No CDKeys."
	}
	var sb strings.Builder
	sb.WriteString("CDKey list:\n")
	for _, k := range keys {
		status := "unused"
		if k.Used {
			status = "used by " + k.UsedBy
		}
		fmt.Fprintf(&sb, "\n`%s` - %d days | %s\nassignable until %s | created %s\n",
			k.Code, k.Days, status,
			k.Expires.Format("2006-01-02"), k.Created.Format("2006-01-02"))
	}
	return sb.String()
}

func renderPluginStates(groupID string, states map[string]bool) string {
	if len(states) == 0 {
		return fmt.Sprintf("Group %s has no plugin states.", groupID)
	}
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Group %s plugin states:\n", groupID)
	for _, name := range names {
		mark := "off"
		if states[name] {
			mark = "on"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", mark, name)
	}
	return sb.String()
}

func redeemErrorReply(err error) string {
	switch {
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return "This CDKey has already been used."
	case errors.Is(err, domain.ErrCodeInvalidOrExpired):
		return "CDKey is invalid or expired."
	default:
		return "Failed to redeem the key, try again later."
	}
}

func isTaxonomy(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrCodeInvalidOrExpired) ||
		errors.Is(err, domain.ErrCodeAlreadyUsed) ||
		errors.Is(err, domain.ErrUnauthorized)
}
