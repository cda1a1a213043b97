package entity

import (
	"fmt"
	"sort"
	"time"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// DirectPairKey derives the unique key of a direct conversation from
// the unordered pair of its two members.
// Format: {min(userA,userB)}:{max(userA,userB)}
// Uses ":" as separator between userIds to support userIds containing "_"
func DirectPairKey(userA, userB string) string {
	users := []string{userA, userB}
	sort.Strings(users)
	return fmt.Sprintf("%s:%s", users[0], users[1])
}
