package store

import "time"

// SecurityQuestion is a recovery question with its hashed answer.
type SecurityQuestion struct {
	Question   string
	AnswerHash string
}

// Identity is a registered account.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string

	EmailVerified bool
	PhoneVerified bool
	Active        bool

	SecurityQuestions []SecurityQuestion

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if i.SecurityQuestions != nil {
		out.SecurityQuestions = append([]SecurityQuestion(nil), i.SecurityQuestions...)
	}
	return &out
}

// Sanitized returns a copy with every hash field cleared.
func (i *Identity) Sanitized() *Identity {
	out := i.Clone()
	if out == nil {
		return nil
	}
	out.PasswordHash = ""
	for j := range out.SecurityQuestions {
		out.SecurityQuestions[j].AnswerHash = ""
	}
	return out
}

// LoginEvent is one successful login.
type LoginEvent struct {
	IdentityID string
	Address    string
	UserAgent  string
	At         time.Time
}

// TwoFactorSecret is the TOTP enrolment of an identity. A secret that is
// stored but not Enabled is pending confirmation.
type TwoFactorSecret struct {
	IdentityID string
	Secret     string
	Enabled    bool
	CreatedAt  time.Time
	// LastUsedCounter is the newest TOTP time step accepted for this secret.
	// Codes for this step or an older one are replays.
	LastUsedCounter int64
}

// APIKey is an issued key. Only the SHA-256 of the key is stored; KeyPrefix
// and KeySuffix keep the characters shown in masked listings.
type APIKey struct {
	ID          string
	IdentityID  string
	Name        string
	Description string
	KeyHash     string
	KeyPrefix   string
	KeySuffix   string
	Permissions uint64
	CreatedAt   time.Time
	LastUsed    *time.Time
	Active      bool
}

// Clone returns a deep copy.
func (k *APIKey) Clone() *APIKey {
	if k == nil {
		return nil
	}
	out := *k
	if k.LastUsed != nil {
		t := *k.LastUsed
		out.LastUsed = &t
	}
	return &out
}
