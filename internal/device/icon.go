package device

import (
	"fmt"
	"strings"
)

// defaultIconName is the fallback icon for unrecognised removable media.
const defaultIconName = "drive-removable-media-usb-pendrive"

// IconLookup reports whether an icon name resolves in the consumer's icon
// theme. The registry only delegates; it never loads icons itself.
type IconLookup func(name string) bool

// acceptAllIcons is the default lookup: every non-empty name resolves.
func acceptAllIcons(string) bool { return true }

// resolveIconName picks an icon name from backend-supplied hints.
//
// The first hint the lookup accepts wins. If none resolve, the combined
// hint+name text is used to guess a phone or media-player icon, falling
// back to the generic USB pendrive icon.
func resolveIconName(lookup IconLookup, hints []string, nameHint string) string {
	if lookup == nil {
		lookup = acceptAllIcons
	}

	var first string
	for _, hint := range hints {
		if hint == "" {
			continue
		}
		if first == "" {
			first = hint
		}
		if lookup(hint) {
			return hint
		}
	}

	if first == "" {
		return defaultIconName
	}

	guess := strings.ToLower(first + nameHint)
	switch {
	case strings.Contains(guess, "phone"):
		return "phone"
	case strings.Contains(guess, "ipod"), strings.Contains(guess, "apple"):
		return "multimedia-player-ipod-standard-monochrome"
	default:
		return defaultIconName
	}
}

// prettySize formats a byte count for display ("1.2 GB").
func prettySize(bytes int64) string {
	switch {
	case bytes <= 0:
		return "0 bytes"
	case bytes < 1000:
		return fmt.Sprintf("%d bytes", bytes)
	case bytes < 1000*1000:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1000)
	case bytes < 1000*1000*1000:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1000*1000))
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1000*1000*1000))
	}
}
