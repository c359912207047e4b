package strikes

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key addresses one ledger entry. Counts never leak between groups.
type Key struct {
	GroupID int64
	UserID  int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d_%d", k.GroupID, k.UserID)
}

// ParseKey reads the "<group_id>_<user_id>" form used by the JSON ledger.
func ParseKey(s string) (Key, error) {
	group, user, ok := strings.Cut(s, "_")
	if !ok {
		return Key{}, fmt.Errorf("malformed ledger key %q", s)
	}
	groupID, err := strconv.ParseInt(group, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("malformed group id in key %q: %w", s, err)
	}
	userID, err := strconv.ParseInt(user, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("malformed user id in key %q: %w", s, err)
	}
	return Key{GroupID: groupID, UserID: userID}, nil
}

// Identity is the best-effort naming of an offender supplied with each strike.
type Identity struct {
	Username  string
	FirstName string
}

type Record struct {
	Key
	Strikes    int
	LastStrike time.Time
	Username   string
	FirstName  string
}

// DisplayName falls back from username to first name to the numeric id.
func (r Record) DisplayName() string {
	switch {
	case r.Username != "":
		return r.Username
	case r.FirstName != "":
		return r.FirstName
	default:
		return strconv.FormatInt(r.UserID, 10)
	}
}

// String overrides the one promoted from Key so the counters show up in logs.
func (r Record) String() string {
	return fmt.Sprintf("%s strikes=%d last_strike=%s username=%q first_name=%q",
		r.Key, r.Strikes, r.LastStrike.Format(time.RFC3339), r.Username, r.FirstName)
}

type Offender struct {
	Key
	Strikes   int
	Username  string
	FirstName string
}

func (o Offender) String() string {
	return fmt.Sprintf("%s strikes=%d username=%q first_name=%q", o.Key, o.Strikes, o.Username, o.FirstName)
}

type Stats struct {
	TotalUsers      int
	TotalViolations int
	TopOffenders    []Offender
}
