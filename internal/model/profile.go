package model

// Profile is the public identity of a user.
type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// UnknownUserName is shown when a counterpart has no profile.
const UnknownUserName = "Unknown User"
