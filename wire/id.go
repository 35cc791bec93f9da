package wire

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CallID correlates a single invocation with its response. CallIDs are
// caller-generated 128-bit UUIDs, used exactly once.
type CallID = uuid.UUID

// StreamID identifies a streaming subscription. The client allocates a
// provisional StreamID when opening a subscription; the server's first
// frame carries the canonical one.
type StreamID = uuid.UUID

// NewCallID and NewStreamID allocate fresh, caller-side identifiers.
func NewCallID() CallID     { return uuid.New() }
func NewStreamID() StreamID { return uuid.New() }

// ActorID is a free-form string identifier plus an optional remote
// endpoint. An absent Host designates a local actor.
type ActorID struct {
	ID   string
	Host string
	Port int
}

// Local builds a local ActorID from a bare name.
func Local(id string) ActorID { return ActorID{ID: id} }

// Remote builds a remote ActorID addressed at host:port.
func Remote(id, host string, port int) ActorID { return ActorID{ID: id, Host: host, Port: port} }

// IsLocal reports whether this ID designates a local actor.
func (a ActorID) IsLocal() bool { return a.Host == "" }

// String renders the textual form: "<id>" for local, "<id>@<host>:<port>"
// for remote.
func (a ActorID) String() string {
	if a.IsLocal() {
		return a.ID
	}
	return fmt.Sprintf("%s@%s:%d", a.ID, a.Host, a.Port)
}

// Equal compares IDs field-wise.
func (a ActorID) Equal(b ActorID) bool {
	return a.ID == b.ID && a.Host == b.Host && a.Port == b.Port
}

// Less implements the total lexical order over textual form.
func Less(a, b ActorID) bool { return a.String() < b.String() }

// ParseActorID parses the textual form, rejecting malformed ports.
func ParseActorID(s string) (ActorID, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		if s == "" {
			return ActorID{}, fmt.Errorf("actorbridge: empty actor id")
		}
		return ActorID{ID: s}, nil
	}

	id, hostport := s[:at], s[at+1:]
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return ActorID{}, fmt.Errorf("actorbridge: malformed actor id %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return ActorID{}, fmt.Errorf("actorbridge: malformed port in actor id %q", s)
	}
	return ActorID{ID: id, Host: host, Port: port}, nil
}

// MarshalText and UnmarshalText let ActorID serialize as a plain JSON string
// via its textual form, reused by the envelope codec.
func (a ActorID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *ActorID) UnmarshalText(text []byte) error {
	parsed, err := ParseActorID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
