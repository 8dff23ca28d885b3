package cluster

import (
	"strings"
)

const (
	recordSeparator  = "|"
	replicaSeparator = ","
)

// MembershipRecord is the content of /nodes/{identity}: the acting leader of
// a block and the replicas it pushes mutations to.
type MembershipRecord struct {
	Identity string   `json:"identity"`
	Leader   string   `json:"leader"`
	Replicas []string `json:"replicas"`
}

// NewMembershipRecord builds a record with a normalized replica list
func NewMembershipRecord(identity, leader string, replicas []string) MembershipRecord {
	return MembershipRecord{
		Identity: identity,
		Leader:   strings.TrimSpace(leader),
		Replicas: normalizeReplicas(replicas, leader),
	}
}

// Encode renders the canonical "leader|r1,r2" form. A record without
// replicas is just the leader address.
func (r MembershipRecord) Encode() []byte {
	if len(r.Replicas) == 0 {
		return []byte(r.Leader)
	}
	return []byte(r.Leader + recordSeparator + strings.Join(r.Replicas, replicaSeparator))
}

// DecodeMembershipRecord parses the data stored under /nodes/{identity}
func DecodeMembershipRecord(identity string, data []byte) (MembershipRecord, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return MembershipRecord{}, &RecordError{Identity: identity, Reason: "empty record"}
	}

	leader, replicas, _ := strings.Cut(raw, recordSeparator)
	leader = strings.TrimSpace(leader)
	if leader == "" {
		return MembershipRecord{}, &RecordError{Identity: identity, Reason: "missing leader address"}
	}
	if strings.Contains(replicas, recordSeparator) {
		return MembershipRecord{}, &RecordError{Identity: identity, Reason: "more than one separator"}
	}

	return MembershipRecord{
		Identity: identity,
		Leader:   leader,
		Replicas: normalizeReplicas(strings.Split(replicas, replicaSeparator), leader),
	}, nil
}

// normalizeReplicas trims entries and drops blanks, duplicates and the
// leader itself, keeping first occurrence order
func normalizeReplicas(in []string, leader string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || r == leader {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// RecordError reports an undecodable membership record
type RecordError struct {
	Identity string
	Reason   string
}

func (e *RecordError) Error() string {
	return "invalid membership record for " + e.Identity + ": " + e.Reason
}
