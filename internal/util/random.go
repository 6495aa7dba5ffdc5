// Package util provides utility functions for the GameBridge application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; these identifiers are not security tokens.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateJoinCode generates a short uppercase code participants type to join
// a room. The alphabet omits easily-confused characters (0/O, 1/I).
func GenerateJoinCode(length int) string {
	if length <= 0 {
		return ""
	}

	const chars = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.IntN(len(chars))])
	}

	return builder.String()
}

// GenerateRoomID generates a unique room ID with "room_" prefix.
func GenerateRoomID() string {
	return GenerateRandomID("room_", 32)
}

// GenerateParticipantID generates a unique participant ID with "p_" prefix.
func GenerateParticipantID() string {
	return GenerateRandomID("p_", 32)
}

// GenerateInviteID generates a unique invite ID with "inv_" prefix.
func GenerateInviteID() string {
	return GenerateRandomID("inv_", 32)
}

// GenerateInterventionID generates a unique intervention ID with "itv_" prefix.
func GenerateInterventionID() string {
	return GenerateRandomID("itv_", 32)
}

// GenerateDrawID generates a unique card draw ID with "draw_" prefix.
func GenerateDrawID() string {
	return GenerateRandomID("draw_", 32)
}

// GenerateEntryID generates a unique therapy entry ID with "entry_" prefix.
func GenerateEntryID() string {
	return GenerateRandomID("entry_", 32)
}
