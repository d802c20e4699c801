package mongo

import "time"

// Replica set member states as reported by replSetGetStatus.
const (
	StateStartup    = 0
	StatePrimary    = 1
	StateSecondary  = 2
	StateRecovering = 3
	StateStartup2   = 5
	StateUnknown    = 6
	StateArbiter    = 7
	StateDown       = 8
	StateRollback   = 9
	StateRemoved    = 10
)

// StateLabel maps a member state code to its display label.
func StateLabel(code int) string {
	switch code {
	case StateStartup:
		return "STARTUP"
	case StatePrimary:
		return "PRIMARY"
	case StateSecondary:
		return "SECONDARY"
	case StateRecovering:
		return "RECOVERING"
	case StateStartup2:
		return "STARTUP2"
	case StateUnknown:
		return "UNKNOWN"
	case StateArbiter:
		return "ARBITER"
	case StateDown:
		return "DOWN"
	case StateRollback:
		return "ROLLBACK"
	case StateRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Member is one entry of a replica set configuration document. Optional
// fields stay unset on initiate so the server applies its defaults.
type Member struct {
	ID          int      `bson:"_id"`
	Host        string   `bson:"host"`
	Priority    *float64 `bson:"priority,omitempty"`
	Votes       *int     `bson:"votes,omitempty"`
	ArbiterOnly bool     `bson:"arbiterOnly,omitempty"`
	Hidden      bool     `bson:"hidden,omitempty"`
}

// Config mirrors the replSetGetConfig document. The non-member fields are
// carried through so a reconfig does not strip server-maintained settings.
type Config struct {
	ID                                 string                 `bson:"_id"`
	Version                            int                    `bson:"version"`
	Term                               int                    `bson:"term,omitempty"`
	Members                            []Member               `bson:"members"`
	ProtocolVersion                    int64                  `bson:"protocolVersion,omitempty"`
	WriteConcernMajorityJournalDefault *bool                  `bson:"writeConcernMajorityJournalDefault,omitempty"`
	Settings                           map[string]interface{} `bson:"settings,omitempty"`
}

// NextMemberID returns the next free member id, one greater than the
// current maximum.
func (c *Config) NextMemberID() int {
	max := -1
	for _, m := range c.Members {
		if m.ID > max {
			max = m.ID
		}
	}
	return max + 1
}

// HasHost reports whether a member advertises the given host.
func (c *Config) HasHost(host string) bool {
	for _, m := range c.Members {
		if m.Host == host {
			return true
		}
	}
	return false
}

// RemoveHost drops the member advertising the given host and reports
// whether a member was removed.
func (c *Config) RemoveHost(host string) bool {
	for i, m := range c.Members {
		if m.Host == host {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
			return true
		}
	}
	return false
}

// StatusMember is one entry of a replSetGetStatus document. Heartbeat
// fields are absent for the member answering the command.
type StatusMember struct {
	ID            int       `bson:"_id"`
	Name          string    `bson:"name"`
	Health        float64   `bson:"health"`
	State         int       `bson:"state"`
	StateStr      string    `bson:"stateStr"`
	Uptime        int64     `bson:"uptime"`
	LastHeartbeat time.Time `bson:"lastHeartbeat,omitempty"`
	PingMs        *int64    `bson:"pingMs,omitempty"`
	Self          bool      `bson:"self,omitempty"`
}

// Status mirrors the subset of replSetGetStatus the control plane reads.
type Status struct {
	Set     string         `bson:"set"`
	MyState int            `bson:"myState"`
	Term    int64          `bson:"term"`
	Members []StatusMember `bson:"members"`
}

// PrimaryName returns the advertised address of the primary, or "" when
// no member is in the primary state.
func (s *Status) PrimaryName() string {
	for _, m := range s.Members {
		if m.State == StatePrimary {
			return m.Name
		}
	}
	return ""
}
