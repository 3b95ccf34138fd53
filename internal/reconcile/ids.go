package reconcile

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// LocalPrefix marks ids minted on this side before the store has seen the
// entity. The store never hands out ids with this prefix.
const LocalPrefix = "tmp-"

// NewLocalID returns a fresh local-temporary id. ULIDs sort by creation
// time, which keeps log lines for one burst of submissions in order.
func NewLocalID() string {
	return LocalPrefix + ulid.Make().String()
}

func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}
