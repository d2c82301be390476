package device

import "testing"

func TestResolveIconName(t *testing.T) {
	inTheme := func(names ...string) IconLookup {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		return func(name string) bool { return set[name] }
	}

	tests := []struct {
		name     string
		lookup   IconLookup
		hints    []string
		nameHint string
		want     string
	}{
		{
			name:   "first resolvable hint wins",
			lookup: inTheme("drive-harddisk"),
			hints:  []string{"missing-icon", "drive-harddisk", "drive-removable-media"},
			want:   "drive-harddisk",
		},
		{
			name:   "nil lookup accepts first hint",
			lookup: nil,
			hints:  []string{"multimedia-player"},
			want:   "multimedia-player",
		},
		{
			name:   "no hints falls back to pendrive",
			lookup: inTheme(),
			hints:  nil,
			want:   defaultIconName,
		},
		{
			name:     "phone guessed from device name",
			lookup:   inTheme(),
			hints:    []string{"unknown-icon"},
			nameHint: "Nokia Phone",
			want:     "phone",
		},
		{
			name:   "ipod guessed from hint text",
			lookup: inTheme(),
			hints:  []string{"ipod-nano-something"},
			want:   "multimedia-player-ipod-standard-monochrome",
		},
		{
			name:     "apple device gets ipod icon",
			lookup:   inTheme(),
			hints:    []string{"unknown"},
			nameHint: "Apple iPhone",
			want:     "multimedia-player-ipod-standard-monochrome",
		},
		{
			name:   "unrecognised falls back to pendrive",
			lookup: inTheme(),
			hints:  []string{"some-vendor-icon"},
			want:   defaultIconName,
		},
		{
			name:   "empty hints skipped",
			lookup: inTheme("drive-removable-media"),
			hints:  []string{"", "drive-removable-media"},
			want:   "drive-removable-media",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveIconName(tt.lookup, tt.hints, tt.nameHint)
			if got != tt.want {
				t.Errorf("resolveIconName(%v, %q) = %q, want %q", tt.hints, tt.nameHint, got, tt.want)
			}
		})
	}
}

func TestPrettySize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{-1, "0 bytes"},
		{1, "1 bytes"},
		{999, "999 bytes"},
		{1000, "1.0 KB"},
		{1500, "1.5 KB"},
		{999_999, "1000.0 KB"},
		{1_000_000, "1.0 MB"},
		{750_000_000, "750.0 MB"},
		{1_000_000_000, "1.0 GB"},
		{8_000_000_000, "8.0 GB"},
		{1_500_000_000_000, "1500.0 GB"},
	}

	for _, tt := range tests {
		if got := prettySize(tt.bytes); got != tt.want {
			t.Errorf("prettySize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
