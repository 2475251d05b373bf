package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Telegram has no grantable roles, so the "rare role" maps onto the admin
// custom title: holders are administrators whose custom_title equals the role
// string. telebot doesn't expose these calls, so we hit the Bot API directly
// (same approach as command-menu updates elsewhere in this package).

func (a *Adapter) httpClient() *http.Client {
	return &http.Client{Timeout: 8 * time.Second}
}

func (a *Adapter) apiCall(ctx context.Context, method string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := "https://api.telegram.org/bot" + strings.TrimSpace(a.cfg.Token) + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		OK          bool            `json:"ok"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if resp.StatusCode/100 != 2 || !env.OK {
		if env.Description != "" {
			return fmt.Errorf("telegram %s failed: %s (code=%d http=%d)", method, env.Description, env.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram %s failed: http=%d", method, resp.StatusCode)
	}
	if out != nil && len(env.Result) > 0 {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

type promotePayload struct {
	ChatID         int64 `json:"chat_id"`
	UserID         int64 `json:"user_id"`
	CanInviteUsers bool  `json:"can_invite_users"`
}

// GrantRole promotes the participant with a minimal right (a title can only
// be set on an admin) and stamps the role string as their custom title.
func (a *Adapter) GrantRole(ctx context.Context, tenantID, participantID int64, role string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.apiCall(ctx, "promoteChatMember", promotePayload{
		ChatID:         tenantID,
		UserID:         participantID,
		CanInviteUsers: true,
	}, nil); err != nil {
		return err
	}
	return a.apiCall(ctx, "setChatAdministratorCustomTitle", struct {
		ChatID      int64  `json:"chat_id"`
		UserID      int64  `json:"user_id"`
		CustomTitle string `json:"custom_title"`
	}{ChatID: tenantID, UserID: participantID, CustomTitle: role}, nil)
}

// RevokeRole demotes the participant back to a regular member.
func (a *Adapter) RevokeRole(ctx context.Context, tenantID, participantID int64, role string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return a.apiCall(ctx, "promoteChatMember", promotePayload{
		ChatID: tenantID,
		UserID: participantID,
	}, nil)
}

// RoleHolders lists administrators currently carrying the role title.
func (a *Adapter) RoleHolders(ctx context.Context, tenantID int64, role string) ([]int64, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var admins []struct {
		Status      string `json:"status"`
		CustomTitle string `json:"custom_title"`
		User        struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	err := a.apiCall(ctx, "getChatAdministrators", struct {
		ChatID int64 `json:"chat_id"`
	}{ChatID: tenantID}, &admins)
	if err != nil {
		return nil, err
	}

	var holders []int64
	for _, ad := range admins {
		if ad.Status == "administrator" && ad.CustomTitle == role {
			holders = append(holders, ad.User.ID)
		}
	}
	return holders, nil
}
