package models

// Profile is what the profile service knows about a signed-in user.
type Profile struct {
	Nickname string
	AgentID  string
	Pool     PoolSettings
}

// PoolSettings describes the pool the user asks about.
type PoolSettings struct {
	PoolType string `json:"poolType"`
	PoolSize string `json:"poolSize"`
	Location string `json:"location"`
}

// Empty reports whether none of the settings are filled.
func (p PoolSettings) Empty() bool {
	return p.PoolType == "" && p.PoolSize == "" && p.Location == ""
}
