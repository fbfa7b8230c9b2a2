package truedata

import "time"

// expirySkew renews a token shortly before the vendor expires it.
const expirySkew = time.Minute

// Session is an authenticated vendor session.
type Session struct {
	AccessToken string
	ExpiresIn   int
	ExpiresAt   time.Time
}

func newSession(token string, expiresIn int, now time.Time) Session {
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return Session{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		ExpiresAt:   now.Add(time.Duration(expiresIn) * time.Second),
	}
}

// Valid reports whether the token can still be used at now.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Add(expirySkew).Before(s.ExpiresAt)
}
