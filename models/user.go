package models

// User is the public view of an account, returned by GET /users/me.
type User struct {
	Username string `json:"username" db:"username" yaml:"username"`
	Email    string `json:"email" db:"email" yaml:"email"`
	FullName string `json:"full_name" db:"full_name" yaml:"full_name"`
	Disabled bool   `json:"disabled" db:"disabled" yaml:"disabled"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// IsActive returns true if the account may log in and use its tokens
func (u *User) IsActive() bool {
	return u != nil && !u.Disabled
}

// Credential is a stored account together with its password hash. It never
// leaves the server.
type Credential struct {
	User           `yaml:",inline"`
	HashedPassword string `json:"-" db:"hashed_password" yaml:"hashed_password"`
}

// NewCredential creates a Credential for an enabled account
func NewCredential(username, email, fullName, hashedPassword string) *Credential {
	return &Credential{
		User: User{
			Username: username,
			Email:    email,
			FullName: fullName,
		},
		HashedPassword: hashedPassword,
	}
}

// Public returns a copy of the account without the password hash
func (c *Credential) Public() *User {
	u := c.User
	return &u
}
