// Package identity projects device identifiers for display. Devices carry a
// privileged full identifier and a masked one; which a caller sees is
// governed by role, never stored.
package identity

import (
	"regexp"
	"strings"
)

// Caller roles recognized by the presentation surface.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var spaceRe = regexp.MustCompile(`\s+`)

// visibleEdge is how many leading/trailing characters Mask keeps.
const visibleEdge = 2

// Display returns the identifier a caller of the given role may see: the
// full external ID for admins, the masked form otherwise. When the roster
// did not supply a masked form, one is derived.
func Display(externalID, maskedID, role string) string {
	if role == RoleAdmin {
		return externalID
	}
	if maskedID != "" {
		return maskedID
	}
	return Mask(externalID)
}

// Mask derives a masked identifier: the first and last two characters stay,
// the middle is starred. Identifiers too short to keep any edge are fully
// starred.
func Mask(externalID string) string {
	s := strings.TrimSpace(externalID)
	s = spaceRe.ReplaceAllString(s, " ")

	runes := []rune(s)
	if len(runes) <= 2*visibleEdge {
		return strings.Repeat("*", len(runes))
	}

	masked := make([]rune, len(runes))
	for i := range runes {
		if i < visibleEdge || i >= len(runes)-visibleEdge {
			masked[i] = runes[i]
		} else {
			masked[i] = '*'
		}
	}
	return string(masked)
}
