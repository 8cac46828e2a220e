package protocol

import "strconv"

// Tag identifies a message. Each plugin owns a contiguous block of
// TagsPerPlugin tags; the friends block starts at FriendsTag*TagsPerPlugin.
type Tag uint16

const (
	TagsPerPlugin = 16
	FriendsTag    = 1

	shift = FriendsTag * TagsPerPlugin
)

// Friends subjects.
const (
	FriendRequest         Tag = 0 + shift
	RequestFailed         Tag = 1 + shift
	RequestSuccess        Tag = 2 + shift
	AcceptRequest         Tag = 3 + shift
	AcceptRequestSuccess  Tag = 4 + shift
	AcceptRequestFailed   Tag = 5 + shift
	DeclineRequest        Tag = 6 + shift
	DeclineRequestSuccess Tag = 7 + shift
	DeclineRequestFailed  Tag = 8 + shift
	RemoveFriend          Tag = 9 + shift
	RemoveFriendSuccess   Tag = 10 + shift
	RemoveFriendFailed    Tag = 11 + shift
	GetAllFriends         Tag = 12 + shift
	GetAllFriendsFailed   Tag = 13 + shift
	FriendLoggedIn        Tag = 14 + shift
	FriendLoggedOut       Tag = 15 + shift
)

// IsFriendsTag reports whether t falls inside the friends block.
func IsFriendsTag(t Tag) bool {
	return t >= shift && t < shift+TagsPerPlugin
}

var tagNames = map[Tag]string{
	FriendRequest:         "FriendRequest",
	RequestFailed:         "RequestFailed",
	RequestSuccess:        "RequestSuccess",
	AcceptRequest:         "AcceptRequest",
	AcceptRequestSuccess:  "AcceptRequestSuccess",
	AcceptRequestFailed:   "AcceptRequestFailed",
	DeclineRequest:        "DeclineRequest",
	DeclineRequestSuccess: "DeclineRequestSuccess",
	DeclineRequestFailed:  "DeclineRequestFailed",
	RemoveFriend:          "RemoveFriend",
	RemoveFriendSuccess:   "RemoveFriendSuccess",
	RemoveFriendFailed:    "RemoveFriendFailed",
	GetAllFriends:         "GetAllFriends",
	GetAllFriendsFailed:   "GetAllFriendsFailed",
	FriendLoggedIn:        "FriendLoggedIn",
	FriendLoggedOut:       "FriendLoggedOut",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "Tag(" + strconv.Itoa(int(t)) + ")"
}
