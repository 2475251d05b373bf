package drop

import (
	"testing"

	"dropbot/internal/storage"
)

func TestResolveViewFallbacks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ts   storage.TenantSettings
		rare bool
		want view
	}{
		{
			name: "normal defaults",
			want: view{
				DropText:    defaultDropText,
				DropImage:   defaultDropImage,
				ClaimText:   defaultClaimText,
				DestroyText: defaultDestroyText,
			},
		},
		{
			name: "rare defaults",
			rare: true,
			want: view{
				DropText:    defaultRareDropText,
				DropImage:   defaultDropImage,
				ClaimText:   defaultClaimText,
				DestroyText: defaultDestroyText,
			},
		},
		{
			name: "normal customised",
			ts: storage.TenantSettings{
				DropText:  "a shiny box!",
				ClaimText: "{user} grabbed the box",
			},
			want: view{
				DropText:    "a shiny box!",
				DropImage:   defaultDropImage,
				ClaimText:   "{user} grabbed the box",
				DestroyText: defaultDestroyText,
			},
		},
		{
			name: "rare falls back to normal customisation",
			ts: storage.TenantSettings{
				DropText:  "a shiny box!",
				DropImage: "https://example.com/box.png",
				ClaimText: "{user} grabbed it",
				RareRole:  "Keeper",
			},
			rare: true,
			want: view{
				DropText:    defaultRareDropText,
				DropImage:   "https://example.com/box.png",
				ClaimText:   "{user} grabbed it",
				DestroyText: defaultDestroyText,
				RareRole:    "Keeper",
			},
		},
		{
			name: "rare overrides beat normal customisation",
			ts: storage.TenantSettings{
				DropText:      "a box",
				RareDropText:  "a GOLDEN box!",
				ClaimText:     "{user} grabbed it",
				RareClaimText: "{user} struck gold",
			},
			rare: true,
			want: view{
				DropText:    "a GOLDEN box!",
				DropImage:   defaultDropImage,
				ClaimText:   "{user} struck gold",
				DestroyText: defaultDestroyText,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveView(tt.ts, tt.rare); got != tt.want {
				t.Fatalf("resolveView = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSubstituteActor(t *testing.T) {
	t.Parallel()
	got := substituteActor("{user} claimed it!", "alice")
	if got != "alice claimed it!" {
		t.Fatalf("substituteActor = %q", got)
	}
	// no placeholder, no change
	if got := substituteActor("gone.", "alice"); got != "gone." {
		t.Fatalf("substituteActor = %q", got)
	}
}
