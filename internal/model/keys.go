package model

import "time"

// Storage-channel keys and engine constants.
//
// These are a wire contract shared with collaborating subsystems (the
// settings and livestream pages read the same keys), so they are defined
// once here rather than near their first use.
const (
	// KeySession holds the single currently-active UserRecord.
	KeySession = "rewards_session"
	// KeyRegistry holds the full email→UserRecord map, replicated to every channel.
	KeyRegistry = "rewards_registry"
	// KeyLeaderboard holds the sorted []LeaderboardEntry snapshot.
	KeyLeaderboard = "rewards_leaderboard"
	// KeyLivestream is owned by the livestream widget; this engine only ever
	// passes it through opaquely.
	KeyLivestream = "rewards_livestream"

	// CookiePrefix + lowercased email names the per-user reduced-record cookie.
	CookiePrefix = "rewards_user_"
	// AuthCookieName carries the active credentialRef token.
	AuthCookieName = "rewards_auth"
)

const (
	// SignupBonus is seeded into every new account with a matching bonus
	// transaction. It doubles as the threshold for back-filling
	// HasReceivedInitialBonus on legacy records that predate the flag.
	SignupBonus int64 = 500

	// CookieTTL is the per-user cookie lifetime.
	CookieTTL = 30 * 24 * time.Hour
)
