package drop

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dropbot/internal/eventbus"
	"dropbot/internal/router"
	"dropbot/internal/storage"
	"dropbot/internal/transport"
	logx "dropbot/pkg/logx"
)

// textFields maps the per-tier customisation commands to their settings
// field. All of them share one handler.
var textFields = map[string]struct {
	field storage.Field
	usage string
	desc  string
}{
	"dropmessage":        {storage.FieldDropText, "/dropmessage <text>", "set the drop announcement text"},
	"dropimage":          {storage.FieldDropImage, "/dropimage <url>", "set the drop announcement image"},
	"claimmessage":       {storage.FieldClaimText, "/claimmessage <text>", "set the claim outcome text ({user} substituted)"},
	"claimimage":         {storage.FieldClaimImage, "/claimimage <url>", "set the claim outcome image"},
	"destroymessage":     {storage.FieldDestroyText, "/destroymessage <text>", "set the destroy outcome text ({user} substituted)"},
	"destroyimage":       {storage.FieldDestroyImage, "/destroyimage <url>", "set the destroy outcome image"},
	"raremessage":        {storage.FieldRareDropText, "/raremessage <text>", "set the rare drop announcement text"},
	"rareimage":          {storage.FieldRareDropImage, "/rareimage <url>", "set the rare drop announcement image"},
	"rareclaimmessage":   {storage.FieldRareClaimText, "/rareclaimmessage <text>", "set the rare claim outcome text"},
	"rareclaimimage":     {storage.FieldRareClaimImage, "/rareclaimimage <url>", "set the rare claim outcome image"},
	"raredestroymessage": {storage.FieldRareDestroyText, "/raredestroymessage <text>", "set the rare destroy outcome text"},
	"raredestroyimage":   {storage.FieldRareDestroyImage, "/raredestroyimage <url>", "set the rare destroy outcome image"},
	"rarerole":           {storage.FieldRareRole, "/rarerole <title>", "set the role granted to the latest rare claimer"},
}

// Commands returns the chat command surface backed by this engine.
func (s *Service) Commands() []router.Command {
	cmds := []router.Command{
		{
			Name:        "dropchannel",
			Usage:       "/dropchannel [here|clear]",
			Description: "pin drops to this chat, or clear to roam",
			Handle:      s.gated(s.cmdDropChannel),
		},
		{
			Name:        "dropexpiry",
			Usage:       "/dropexpiry <minutes>",
			Description: "set how long a drop waits before expiring (1-1440)",
			Handle:      s.gated(s.cmdDropExpiry),
		},
		{
			Name:        "dropchance",
			Usage:       "/dropchance <n>",
			Description: "set the process-wide 1-in-n drop chance (1-500)",
			Access:      router.AccessOwnerOnly,
			Handle:      s.cmdDropChance,
		},
		{
			Name:        "dropconfig",
			Usage:       "/dropconfig",
			Description: "show the current drop configuration",
			Handle:      s.gated(s.cmdDropConfig),
		},
		{
			Name:        "leaderboard",
			Usage:       "/leaderboard [on|off]",
			Description: "show top collectors, or toggle availability",
			Handle:      s.cmdLeaderboard,
		},
		{
			Name:        "authorise",
			Usage:       "/authorise <user id>",
			Description: "let a user change drop settings here",
			Handle:      s.gated(s.cmdAuthorise),
		},
		{
			Name:        "unauthorise",
			Usage:       "/unauthorise <user id>",
			Description: "revoke a user's drop settings access",
			Handle:      s.gated(s.cmdUnauthorise),
		},
	}

	for name, tf := range textFields {
		tf := tf
		cmds = append(cmds, router.Command{
			Name:        name,
			Usage:       tf.usage,
			Description: tf.desc,
			Handle:      s.gated(s.textFieldHandler(tf.field)),
		})
	}
	return cmds
}

// gated wraps a handler with the tenant-level configuration permission
// check. The tenant is the chat the command was issued in.
func (s *Service) gated(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		ok, err := s.CanConfigure(ctx, req.Chat.ChatID, req.FromID)
		if err != nil {
			return fmt.Errorf("permission check: %w", err)
		}
		if !ok {
			return s.reply(ctx, req, "You need to be a chat admin (or authorised) to do that.")
		}
		return next(ctx, req)
	}
}

func (s *Service) reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Messenger.Post(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

func (s *Service) textFieldHandler(field storage.Field) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		tenantID := req.Chat.ChatID
		value := strings.TrimSpace(strings.Join(req.Args, " "))
		if value == "" {
			return s.reply(ctx, req, "Nothing to set; pass the new value after the command (or \"clear\").")
		}
		if strings.EqualFold(value, "clear") {
			value = ""
		}
		s.TouchTenant(ctx, tenantID)
		if err := s.store.UpdateTenantField(ctx, tenantID, field, value); err != nil {
			return fmt.Errorf("update %s: %w", field, err)
		}
		s.audit(ctx, tenantID, req.FromID, "set_"+string(field), value)
		return s.reply(ctx, req, "Saved.")
	}
}

func (s *Service) cmdDropChannel(ctx context.Context, req *router.Request) error {
	tenantID := req.Chat.ChatID
	s.TouchTenant(ctx, tenantID)

	mode := "here"
	if len(req.Args) > 0 {
		mode = strings.ToLower(req.Args[0])
	}
	var chat int64
	var thread int
	switch mode {
	case "here":
		chat, thread = req.Chat.ChatID, req.Chat.ThreadID
	case "clear":
		// zero destination means "roam over permitted destinations"
	default:
		return s.reply(ctx, req, "Usage: /dropchannel [here|clear]")
	}

	if err := s.store.UpdateTenantField(ctx, tenantID, storage.FieldDestinationChat, chat); err != nil {
		return fmt.Errorf("set destination chat: %w", err)
	}
	if err := s.store.UpdateTenantField(ctx, tenantID, storage.FieldDestinationThread, thread); err != nil {
		return fmt.Errorf("set destination thread: %w", err)
	}
	s.audit(ctx, tenantID, req.FromID, "set_destination", fmt.Sprintf("chat=%d thread=%d", chat, thread))
	if chat == 0 {
		return s.reply(ctx, req, "Destination cleared; drops will pick any chat I can post in.")
	}
	return s.reply(ctx, req, "Drops will land in this chat.")
}

func (s *Service) cmdDropExpiry(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return s.reply(ctx, req, "Usage: /dropexpiry <minutes>")
	}
	minutes, err := strconv.Atoi(req.Args[0])
	if err != nil || minutes < 1 || minutes > 1440 {
		return s.reply(ctx, req, "Expiry must be between 1 and 1440 minutes.")
	}
	tenantID := req.Chat.ChatID
	s.TouchTenant(ctx, tenantID)
	if err := s.store.UpdateTenantField(ctx, tenantID, storage.FieldExpiryMinutes, minutes); err != nil {
		return fmt.Errorf("set expiry: %w", err)
	}
	s.audit(ctx, tenantID, req.FromID, "set_expiry", strconv.Itoa(minutes))
	return s.reply(ctx, req, fmt.Sprintf("Drops now expire after %d minutes.", minutes))
}

func (s *Service) cmdDropChance(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return s.reply(ctx, req, "Usage: /dropchance <n>")
	}
	n, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return s.reply(ctx, req, "Pass a whole number between 1 and 500.")
	}
	if err := s.policy.Set(ctx, n); err != nil {
		return s.reply(ctx, req, "Drop chance must be between 1 and 500.")
	}
	s.audit(ctx, req.Chat.ChatID, req.FromID, "set_drop_chance", strconv.Itoa(n))
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeConfigChange,
		Time: time.Now(),
		Data: Policy{ChanceDenominator: n},
	})
	return s.reply(ctx, req, fmt.Sprintf("Drops now roll 1-in-%d per tick.", n))
}

func (s *Service) cmdDropConfig(ctx context.Context, req *router.Request) error {
	tenantID := req.Chat.ChatID
	s.TouchTenant(ctx, tenantID)
	ts, err := s.store.TenantSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	return s.reply(ctx, req, renderConfig(ts, s.policy.Get()))
}

func (s *Service) cmdAuthorise(ctx context.Context, req *router.Request) error {
	return s.setAuthorised(ctx, req, true)
}

func (s *Service) cmdUnauthorise(ctx context.Context, req *router.Request) error {
	return s.setAuthorised(ctx, req, false)
}

func (s *Service) setAuthorised(ctx context.Context, req *router.Request, grant bool) error {
	if len(req.Args) != 1 {
		return s.reply(ctx, req, "Pass the numeric user id.")
	}
	userID, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || userID <= 0 {
		return s.reply(ctx, req, "Pass the numeric user id.")
	}
	tenantID := req.Chat.ChatID
	s.TouchTenant(ctx, tenantID)
	if err := s.store.SetAuthorized(ctx, tenantID, userID, grant); err != nil {
		return fmt.Errorf("set authorisation: %w", err)
	}
	action := "authorise"
	replyText := fmt.Sprintf("User %d can now change drop settings here.", userID)
	if !grant {
		action = "unauthorise"
		replyText = fmt.Sprintf("User %d can no longer change drop settings here.", userID)
	}
	s.audit(ctx, tenantID, req.FromID, action, strconv.FormatInt(userID, 10))
	return s.reply(ctx, req, replyText)
}

func (s *Service) cmdLeaderboard(ctx context.Context, req *router.Request) error {
	tenantID := req.Chat.ChatID
	s.TouchTenant(ctx, tenantID)

	if len(req.Args) == 1 {
		switch strings.ToLower(req.Args[0]) {
		case "on", "off":
			ok, err := s.CanConfigure(ctx, tenantID, req.FromID)
			if err != nil {
				return fmt.Errorf("permission check: %w", err)
			}
			if !ok {
				return s.reply(ctx, req, "You need to be a chat admin (or authorised) to do that.")
			}
			on := strings.EqualFold(req.Args[0], "on")
			if err := s.store.UpdateTenantField(ctx, tenantID, storage.FieldLeaderboardOn, on); err != nil {
				return fmt.Errorf("toggle leaderboard: %w", err)
			}
			s.audit(ctx, tenantID, req.FromID, "leaderboard_toggle", req.Args[0])
			if on {
				return s.reply(ctx, req, "Leaderboard enabled.")
			}
			return s.reply(ctx, req, "Leaderboard disabled.")
		}
	}

	ts, err := s.store.TenantSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !ts.LeaderboardOn {
		return s.reply(ctx, req, "The leaderboard is disabled here.")
	}

	text, err := s.leaderboardText(ctx, tenantID, false)
	if err != nil {
		return err
	}
	_, err = req.Messenger.Post(ctx, req.Chat, text, &transport.SendOptions{
		DisablePreview: true,
		Buttons: [][]transport.Button{{
			{Text: "Global", Data: "lb:global"},
		}},
	})
	return err
}

// handleLeaderboardToggle flips a posted leaderboard between the tenant
// and global scopes in place.
func (s *Service) handleLeaderboardToggle(ctx context.Context, cb transport.Callback) error {
	global := cb.Data == "lb:global"
	text, err := s.leaderboardText(ctx, cb.ChatID, global)
	if err != nil {
		return err
	}
	toggle := transport.Button{Text: "Global", Data: "lb:global"}
	if global {
		toggle = transport.Button{Text: "This chat", Data: "lb:local"}
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if err := s.gate.msgr.Edit(ctx, ref, text, &transport.SendOptions{
		DisablePreview: true,
		Buttons:        [][]transport.Button{{toggle}},
	}); err != nil {
		return fmt.Errorf("leaderboard edit: %w", err)
	}
	return s.gate.msgr.AnswerCallback(ctx, cb.ID, "")
}

func (s *Service) leaderboardText(ctx context.Context, tenantID int64, global bool) (string, error) {
	var (
		entries []storage.LeaderboardEntry
		err     error
	)
	if global {
		entries, err = s.store.GlobalTopCollectors(ctx, 10)
	} else {
		entries, err = s.store.TopCollectors(ctx, tenantID, 10)
	}
	if err != nil {
		return "", fmt.Errorf("leaderboard query: %w", err)
	}
	return renderLeaderboard(entries, global), nil
}

func (s *Service) audit(ctx context.Context, tenantID, actorID int64, action, detail string) {
	err := s.store.AppendAudit(ctx, storage.AuditEntry{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Detail:   detail,
	})
	if err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
