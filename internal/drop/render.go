package drop

import (
	"fmt"
	"strings"

	"dropbot/internal/storage"
)

// renderConfig shows the effective configuration: stored values with the
// fallbacks already applied, plus the process-wide chance.
func renderConfig(ts storage.TenantSettings, pol Policy) string {
	normal := resolveView(ts, false)
	rare := resolveView(ts, true)

	var b strings.Builder
	b.WriteString("Drop configuration\n")
	if ts.DestinationChat == 0 {
		b.WriteString("destination: any chat I can post in\n")
	} else {
		fmt.Fprintf(&b, "destination: chat %d", ts.DestinationChat)
		if ts.DestinationThread != 0 {
			fmt.Fprintf(&b, " (topic %d)", ts.DestinationThread)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "expiry: %d min\n", ts.ExpiryMinutes)
	fmt.Fprintf(&b, "chance: 1-in-%d per tick (rare: 1-in-%d of those)\n", pol.ChanceDenominator, rareDenominator)
	fmt.Fprintf(&b, "leaderboard: %s\n", onOff(ts.LeaderboardOn))

	b.WriteString("\nNormal tier\n")
	writeTier(&b, normal)
	b.WriteString("\nRare tier\n")
	writeTier(&b, rare)
	if rare.RareRole != "" {
		fmt.Fprintf(&b, "role: %s\n", rare.RareRole)
	}
	return b.String()
}

func writeTier(b *strings.Builder, v view) {
	fmt.Fprintf(b, "drop: %s\n", v.DropText)
	fmt.Fprintf(b, "image: %s\n", v.DropImage)
	fmt.Fprintf(b, "claim: %s\n", v.ClaimText)
	if v.ClaimImage != "" {
		fmt.Fprintf(b, "claim image: %s\n", v.ClaimImage)
	}
	fmt.Fprintf(b, "destroy: %s\n", v.DestroyText)
	if v.DestroyImage != "" {
		fmt.Fprintf(b, "destroy image: %s\n", v.DestroyImage)
	}
}

func renderLeaderboard(entries []storage.LeaderboardEntry, global bool) string {
	var b strings.Builder
	if global {
		b.WriteString("Top collectors (everywhere)\n")
	} else {
		b.WriteString("Top collectors (this chat)\n")
	}
	if len(entries) == 0 {
		b.WriteString("Nobody has claimed anything yet.")
		return b.String()
	}
	for i, e := range entries {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("user %d", e.ParticipantID)
		}
		fmt.Fprintf(&b, "%d. %s - %d\n", i+1, name, e.Claimed)
	}
	return strings.TrimRight(b.String(), "\n")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
