package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/repo"
)

const presenceTimeout = 3 * time.Second

// Presence refreshes last-active timestamps. Strictly best-effort: a
// failed touch is logged and swallowed, the primary operation never
// sees it.
type Presence struct {
	users repo.Users
}

func NewPresence(users repo.Users) *Presence {
	return &Presence{users: users}
}

// Touch fires the update in the background and returns immediately.
func (p *Presence) Touch(uid domain.UserID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := p.users.TouchLastSeen(ctx, uid, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Int64("user_id", int64(uid)).Msg("last seen update failed")
		}
	}()
}
