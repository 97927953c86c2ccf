package collaboration

import "github.com/cespare/xxhash/v2"

// cursorPalette is the fixed set of cursor/highlight colors handed to participants
var cursorPalette = [...]string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#FFA07A",
	"#98D8C8",
	"#F7DC6F",
	"#BB8FCE",
	"#85C1E2",
}

// ColorFor maps a user id to a palette color. The same user always gets the same color.
func ColorFor(userID string) string {
	return cursorPalette[xxhash.Sum64String(userID)%uint64(len(cursorPalette))]
}
