package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed identifier such as "inv-3f0c9a52e1b44a0d9d7f3b1c2e4a5b6c".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + strings.ReplaceAll(id.String(), "-", "")
}
