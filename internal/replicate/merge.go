package replicate

import "github.com/sakif/rewards-engine/internal/model"

// MergePolicy decides, for one user key during a merged read, whether the
// record read from a lower-priority channel replaces the candidate already
// adopted from a higher-priority one.
//
// The policy is a named, injectable function rather than inline conditionals
// so new channels or tie-break rules slot in without touching the read path.
type MergePolicy func(candidate, incoming model.UserRecord) bool

// FirstWins never replaces the candidate: the highest-priority channel that
// knows a user owns that user's record. This is the default for every
// channel except cookies.
func FirstWins(model.UserRecord, model.UserRecord) bool {
	return false
}

// PreferNewerLogin replaces the candidate only when the incoming record's
// lastLogin is strictly greater. The cookie channel carries this policy:
// cookies are written on every login, so a cookie that postdates the durable
// stores means the durable copy went stale (a crashed tab, an interrupted
// fan-out) and the cookie is the fresher identity.
//
// Equal lastLogin keeps the candidate — "strictly greater" is part of the
// compatibility contract, not an implementation accident.
func PreferNewerLogin(candidate, incoming model.UserRecord) bool {
	return incoming.LastLogin > candidate.LastLogin
}
