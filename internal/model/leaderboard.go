package model

// LeaderboardEntry is the projection of a UserRecord that lives in the
// separately persisted leaderboard snapshot. It deliberately omits the
// transaction history and credentials — the leaderboard is read far more
// often than the registry and is rendered directly by collaborating pages.
type LeaderboardEntry struct {
	Email                   string            `json:"email"`
	Name                    string            `json:"name"`
	JackPoints              int64             `json:"jackPoints"`
	LastUpdated             int64             `json:"lastUpdated"`
	HasReceivedInitialBonus bool              `json:"hasReceivedInitialBonus"`
	Rank                    Rank              `json:"rank"`
	IsVerified              bool              `json:"isVerified"`
	Avatar                  string            `json:"avatar,omitempty"`
	PhoneNumber             string            `json:"phoneNumber,omitempty"`
	SocialAccounts          map[string]string `json:"socialAccounts,omitempty"`
}

// ProjectEntry builds the leaderboard projection of a user record.
func ProjectEntry(u UserRecord) LeaderboardEntry {
	return LeaderboardEntry{
		Email:                   u.EmailKey(),
		Name:                    u.Name,
		JackPoints:              u.JackPoints,
		LastUpdated:             u.LastUpdated,
		HasReceivedInitialBonus: u.HasReceivedInitialBonus,
		Rank:                    u.Rank,
		IsVerified:              u.IsVerified,
		Avatar:                  u.Avatar,
		PhoneNumber:             u.PhoneNumber,
		SocialAccounts:          u.SocialAccounts,
	}
}
