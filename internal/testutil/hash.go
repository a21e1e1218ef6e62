package testutil

import (
	"strings"

	"ckpt-go/internal/ckpt"
)

// HashOf returns the content hash of data in the format stored in change
// records.
func HashOf(data string) string {
	h, _, err := ckpt.HashContent(strings.NewReader(data))
	if err != nil {
		panic(err) // reading from a strings.Reader cannot fail
	}
	return h
}
