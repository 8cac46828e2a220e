package model

import (
	"time"
)

// Field names one of the three relationship sets on a FriendList.
type Field string

const (
	FieldFriends    Field = "friends"
	FieldOpen       Field = "openFriendRequests"
	FieldUnanswered Field = "unansweredFriendRequests"
)

// Fields lists every relationship set, in a stable order.
var Fields = []Field{FieldFriends, FieldOpen, FieldUnanswered}

func (f Field) Valid() bool {
	switch f {
	case FieldFriends, FieldOpen, FieldUnanswered:
		return true
	}
	return false
}

// FriendList is the per-user relationship record.
//
// Friends is symmetric across records. OpenFriendRequests holds users who
// asked this user and are still waiting; UnansweredFriendRequests holds
// users this user asked. B in Open(A) mirrors A in Unanswered(B).
type FriendList struct {
	Username                 string    `bson:"username" json:"username"`
	Friends                  []string  `bson:"friends" json:"friends"`
	OpenFriendRequests       []string  `bson:"openFriendRequests" json:"openFriendRequests"`
	UnansweredFriendRequests []string  `bson:"unansweredFriendRequests" json:"unansweredFriendRequests"`
	CreatedAt                time.Time `bson:"createdAt" json:"created_at"`
}

func NewFriendList(username string) *FriendList {
	return &FriendList{
		Username:                 username,
		Friends:                  []string{},
		OpenFriendRequests:       []string{},
		UnansweredFriendRequests: []string{},
		CreatedAt:                time.Now().UTC(),
	}
}

// Set returns the slice backing field f.
func (l *FriendList) Set(f Field) []string {
	switch f {
	case FieldFriends:
		return l.Friends
	case FieldOpen:
		return l.OpenFriendRequests
	case FieldUnanswered:
		return l.UnansweredFriendRequests
	}
	return nil
}

func (l *FriendList) Has(f Field, username string) bool {
	for _, name := range l.Set(f) {
		if name == username {
			return true
		}
	}
	return false
}

// EdgeState is the relationship between a record's owner and another user,
// as seen from the owner's side.
type EdgeState int

const (
	EdgeNone EdgeState = iota
	EdgePendingOut
	EdgePendingIn
	EdgeFriends
)

func (s EdgeState) String() string {
	switch s {
	case EdgePendingOut:
		return "pending_out"
	case EdgePendingIn:
		return "pending_in"
	case EdgeFriends:
		return "friends"
	}
	return "none"
}

// Edge derives the owner's view of its relationship with other. A record
// holding other in more than one set reports the strongest state.
func (l *FriendList) Edge(other string) EdgeState {
	switch {
	case l.Has(FieldFriends, other):
		return EdgeFriends
	case l.Has(FieldOpen, other):
		return EdgePendingIn
	case l.Has(FieldUnanswered, other):
		return EdgePendingOut
	}
	return EdgeNone
}

// Mirror converts a state seen from one side into the other side's view.
func (s EdgeState) Mirror() EdgeState {
	switch s {
	case EdgePendingOut:
		return EdgePendingIn
	case EdgePendingIn:
		return EdgePendingOut
	}
	return s
}
