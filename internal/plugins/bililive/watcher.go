package bililive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/groupgate/groupgate/internal/domain"
	"github.com/groupgate/groupgate/internal/infrastructure/bilibili"
	"github.com/groupgate/groupgate/internal/usecase"
)

// PluginName is the catalog name this plugin is gated under.
const PluginName = "bililive"

const usage = `bililive commands:
/bsub add <uid> <roomID> - watch a streamer's live room
/bsub remove <uid> - drop the subscription
/bsub list - subscriptions of this group`

// Watcher is a gated consumer of the core: it follows live-room status over
// the broadcast stream and announces changes into subscribed groups, asking
// the gatekeeper again right before every announcement.
type Watcher struct {
	repo     *Repository
	stream   *bilibili.LiveStream
	gate     *usecase.Gatekeeper
	notifier domain.NotificationService
	logger   *slog.Logger
}

func NewWatcher(
	repo *Repository,
	stream *bilibili.LiveStream,
	gate *usecase.Gatekeeper,
	notifier domain.NotificationService,
	logger *slog.Logger,
) *Watcher {
	return &Watcher{
		repo:     repo,
		stream:   stream,
		gate:     gate,
		notifier: notifier,
		logger:   logger.With("component", "bililive"),
	}
}

func (w *Watcher) Run(ctx context.Context) {
	subs, err := w.repo.All(ctx)
	if err != nil {
		w.logger.Error("failed to load subscriptions", "err", err)
		return
	}

	rooms := make([]string, 0, len(subs))
	seen := make(map[string]bool)
	for _, sub := range subs {
		if !seen[sub.RoomID] {
			seen[sub.RoomID] = true
			rooms = append(rooms, sub.RoomID)
		}
	}

	updates, err := w.stream.Subscribe(rooms)
	if err != nil {
		w.logger.Error("failed to open live stream", "err", err)
		return
	}

	w.logger.Info("watcher started", "rooms", len(rooms))

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			w.handleUpdate(ctx, update)
		case <-ctx.Done():
			w.stream.Close()
			return
		}
	}
}

func (w *Watcher) handleUpdate(ctx context.Context, update bilibili.StatusUpdate) {
	subs, err := w.repo.ListByRoom(ctx, update.RoomID)
	if err != nil {
		w.logger.Error("failed to look up room", "room", update.RoomID, "err", err)
		return
	}

	announced := false
	for _, sub := range subs {
		if sub.Live == update.Live {
			continue
		}
		announced = true

		// licensing may have lapsed since the subscription was added
		verdict := w.gate.ShouldProceed(ctx, sub.GroupID, PluginName)
		if !verdict.Allow {
			w.logger.Info("announcement suppressed",
				"group", sub.GroupID, "room", update.RoomID, "reason", verdict.Reason)
			continue
		}

		msg := fmt.Sprintf("UP %s went offline.", sub.UID)
		if update.Live {
			msg = fmt.Sprintf("UP %s is live: %s", sub.UID, update.Title)
		}
		if err := w.notifier.NotifyGroup(sub.GroupID, msg); err != nil {
			w.logger.Error("announcement failed", "group", sub.GroupID, "err", err)
		}
	}

	if announced {
		if err := w.repo.SetStatus(ctx, update.RoomID, update.Live); err != nil {
			w.logger.Error("failed to record room status", "room", update.RoomID, "err", err)
		}
	}
}

// --- bot.Plugin ---

func (w *Watcher) Name() string { return PluginName }

func (w *Watcher) Commands() []string { return []string{"bsub"} }

func (w *Watcher) Handle(ctx context.Context, groupID, command string, args []string) string {
	if len(args) == 0 {
		return usage
	}

	switch args[0] {
	case "add":
		if len(args) != 3 {
			return usage
		}
		uid, roomID := args[1], args[2]
		err := w.repo.Add(ctx, Subscription{GroupID: groupID, UID: uid, RoomID: roomID})
		if err != nil {
			w.logger.Error("subscribe failed", "group", groupID, "uid", uid, "err", err)
			return "Failed to add the subscription."
		}
		if err := w.stream.AddSubscriptions([]string{roomID}); err != nil {
			w.logger.Error("stream subscribe failed", "room", roomID, "err", err)
		}
		return fmt.Sprintf("Subscribed to UP %s (room %s).", uid, roomID)

	case "remove":
		if len(args) != 2 {
			return usage
		}
		err := w.repo.Remove(ctx, groupID, args[1])
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("No subscription for UP %s in this group.", args[1])
		}
		if err != nil {
			w.logger.Error("unsubscribe failed", "group", groupID, "err", err)
			return "Failed to remove the subscription."
		}
		return fmt.Sprintf("Unsubscribed from UP %s.", args[1])

	case "list":
		subs, err := w.repo.ListByGroup(ctx, groupID)
		if err != nil {
			w.logger.Error("list failed", "group", groupID, "err", err)
			return "Failed to list subscriptions."
		}
		if len(subs) == 0 {
			return "This group has no live subscriptions."
		}
		var sb strings.Builder
		sb.WriteString("Live subscriptions:\n")
		for _, sub := range subs {
			state := "offline"
			if sub.Live {
				state = "live"
			}
			fmt.Fprintf(&sb, "UP %s - room %s (%s)\n", sub.UID, sub.RoomID, state)
		}
		return sb.String()

	default:
		return usage
	}
}
