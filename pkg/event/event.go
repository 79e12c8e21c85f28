// Package event defines the social-graph mutation events consumed from the
// transaction queue and the decoder that parses queue payloads.
package event

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Kind discriminates the event variants.
type Kind string

// Event kinds as they appear in the payload "type" field.
const (
	KindRegister  Kind = "register"
	KindReferral  Kind = "referral"
	KindAddFriend Kind = "addfriend"
	KindUnfriend  Kind = "unfriend"
)

// MaxNameLen is the longest accepted user name.
const MaxNameLen = 255

// Event is a closed sum over the four mutation variants.
// The decoder returns exactly one of Register, Referral, AddFriend, Unfriend.
type Event interface {
	Kind() Kind
	// Payload returns the original queue payload the event was decoded from.
	Payload() []byte
}

type raw struct {
	payload []byte
}

func (r raw) Payload() []byte { return r.payload }

// Register announces a new user.
type Register struct {
	raw
	Name      string
	CreatedAt string
}

// Kind implements Event.
func (Register) Kind() Kind { return KindRegister }

// Referral records that ReferredBy brought User to the network.
type Referral struct {
	raw
	ReferredBy string
	User       string
	CreatedAt  string
}

// Kind implements Event.
func (Referral) Kind() Kind { return KindReferral }

// AddFriend establishes or re-activates a friendship between two users.
type AddFriend struct {
	raw
	User1     string
	User2     string
	CreatedAt string
}

// Kind implements Event.
func (AddFriend) Kind() Kind { return KindAddFriend }

// Unfriend deactivates a friendship between two users.
type Unfriend struct {
	raw
	User1     string
	User2     string
	CreatedAt string
}

// Kind implements Event.
func (Unfriend) Kind() Kind { return KindUnfriend }

// Decode errors.
var (
	ErrUnknownKind  = errors.New("unknown event type")
	ErrMissingField = errors.New("missing required field")
	ErrNameTooLong  = errors.New("name exceeds max length")
)

// envelope covers the union of all payload fields.
type envelope struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	ReferredBy string `json:"referredBy"`
	User       string `json:"user"`
	User1Name  string `json:"user1_name"`
	User2Name  string `json:"user2_name"`
	CreatedAt  string `json:"created_at"`
}

// Decode parses a queue payload into its event variant.
// The decoder is strict about the discriminator and the required name fields;
// anything else in the payload is carried along opaquely via Payload.
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	r := raw{payload: payload}
	switch Kind(env.Type) {
	case KindRegister:
		if err := checkNames(env.Name); err != nil {
			return nil, fmt.Errorf("register: %w", err)
		}
		return Register{raw: r, Name: env.Name, CreatedAt: env.CreatedAt}, nil
	case KindReferral:
		if err := checkNames(env.ReferredBy, env.User); err != nil {
			return nil, fmt.Errorf("referral: %w", err)
		}
		return Referral{raw: r, ReferredBy: env.ReferredBy, User: env.User, CreatedAt: env.CreatedAt}, nil
	case KindAddFriend:
		if err := checkNames(env.User1Name, env.User2Name); err != nil {
			return nil, fmt.Errorf("addfriend: %w", err)
		}
		return AddFriend{raw: r, User1: env.User1Name, User2: env.User2Name, CreatedAt: env.CreatedAt}, nil
	case KindUnfriend:
		if err := checkNames(env.User1Name, env.User2Name); err != nil {
			return nil, fmt.Errorf("unfriend: %w", err)
		}
		return Unfriend{raw: r, User1: env.User1Name, User2: env.User2Name, CreatedAt: env.CreatedAt}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
}

func checkNames(names ...string) error {
	for _, name := range names {
		if name == "" {
			return ErrMissingField
		}
		if len(name) > MaxNameLen {
			return ErrNameTooLong
		}
	}
	return nil
}
