package drop

import (
	"strings"

	"dropbot/internal/storage"
)

// Hard fallbacks. Settings rows store empty strings for anything the
// tenant never customised; resolution to a usable value happens here, at
// read time, so consumers never see a blank field.
const (
	defaultDropText     = "An item has appeared! Press a button!"
	defaultRareDropText = "A rare item has appeared! Press a button!"
	defaultDropImage    = "https://imgur.com/CoVltbo.png"
	defaultClaimText    = "{user} claimed it!"
	defaultDestroyText  = "{user} destroyed it!"
)

// view is the fully resolved presentation of one drop at a given rarity.
type view struct {
	DropText     string
	DropImage    string
	ClaimText    string
	ClaimImage   string
	DestroyText  string
	DestroyImage string
	RareRole     string
}

// resolveView applies the fallback chain for a rarity tier. Rare fields
// fall back to the tenant's normal-tier customisation, then to the
// built-in defaults; the rare announcement has its own default text.
func resolveView(ts storage.TenantSettings, rare bool) view {
	v := view{
		DropText:     firstNonEmpty(ts.DropText, defaultDropText),
		DropImage:    firstNonEmpty(ts.DropImage, defaultDropImage),
		ClaimText:    firstNonEmpty(ts.ClaimText, defaultClaimText),
		ClaimImage:   ts.ClaimImage,
		DestroyText:  firstNonEmpty(ts.DestroyText, defaultDestroyText),
		DestroyImage: ts.DestroyImage,
	}
	if !rare {
		return v
	}
	v.DropText = firstNonEmpty(ts.RareDropText, defaultRareDropText)
	v.DropImage = firstNonEmpty(ts.RareDropImage, ts.DropImage, defaultDropImage)
	v.ClaimText = firstNonEmpty(ts.RareClaimText, ts.ClaimText, defaultClaimText)
	v.ClaimImage = firstNonEmpty(ts.RareClaimImage, ts.ClaimImage)
	v.DestroyText = firstNonEmpty(ts.RareDestroyText, ts.DestroyText, defaultDestroyText)
	v.DestroyImage = firstNonEmpty(ts.RareDestroyImage, ts.DestroyImage)
	v.RareRole = ts.RareRole
	return v
}

// substituteActor fills the {user} placeholder in outcome texts.
func substituteActor(text, name string) string {
	return strings.ReplaceAll(text, "{user}", name)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
