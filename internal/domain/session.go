package domain

import "time"

// Session binds one live transport connection to an authenticated user.
// At most one session per user is considered current; a newer session
// supersedes the older binding.
type Session struct {
	ID          SessionID
	UserID      UserID
	ConnectedAt time.Time
}
