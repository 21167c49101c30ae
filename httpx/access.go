package httpx

import (
	"crypto/subtle"
)

// OutputStreamType is a set of capabilities a peer may be granted.
type OutputStreamType uint32

const (
	StreamPlay OutputStreamType = 1 << iota
	StreamRelay
	StreamMetadata
	StreamInterface

	StreamNone OutputStreamType = 0
	StreamAll                   = StreamPlay | StreamRelay | StreamMetadata | StreamInterface
)

// AccessPolicy is the access-control decision for one remote peer. It is
// supplied by the host application and may be shared by many connections.
type AccessPolicy interface {
	Allows(stream OutputStreamType) bool
	RequiresAuthorization() bool
	CheckAuthorization(user, password string) bool
}

type AuthenticationKey struct {
	ID       string
	Password string
}

// AccessControlInfo is a static AccessPolicy.
type AccessControlInfo struct {
	Accepts               OutputStreamType
	AuthorizationRequired bool
	Key                   *AuthenticationKey
}

func (a *AccessControlInfo) Allows(stream OutputStreamType) bool {
	return a != nil && a.Accepts&stream != 0
}

func (a *AccessControlInfo) RequiresAuthorization() bool {
	return a != nil && a.AuthorizationRequired
}

func (a *AccessControlInfo) CheckAuthorization(user, password string) bool {
	if a == nil || !a.AuthorizationRequired {
		return true
	}
	if a.Key == nil {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(user), []byte(a.Key.ID))
	p := subtle.ConstantTimeCompare([]byte(password), []byte(a.Key.Password))
	return u&p == 1
}
