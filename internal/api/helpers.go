package api

import (
	"time"

	"github.com/relayctl/relay/internal/models"
)

// modifiedNow returns a pointer to the current unix-millisecond timestamp,
// for fields that must always advance on update regardless of what else the
// caller is changing.
func modifiedNow() *uint64 {
	return models.Ptr(uint64(time.Now().UnixMilli()))
}
