package cluster

import (
    "fmt"

    "github.com/amirimatin/go-raftstore/pkg/membership"
)

// MemberType tags a member as the local node or a remote one.
type MemberType int

const (
    MemberLocal MemberType = iota + 1
    MemberRemote
)

func (t MemberType) String() string {
    switch t {
    case MemberLocal:
        return "local"
    case MemberRemote:
        return "remote"
    default:
        return "unknown"
    }
}

// ResourceMember is a member as handed out by a View. It holds a private
// copy of the protocol's member description.
type ResourceMember struct {
    info membership.MemberInfo
    typ  MemberType
}

func newResourceMember(info membership.MemberInfo, localID string) *ResourceMember {
    typ := MemberRemote
    if info.ID != "" && info.ID == localID {
        typ = MemberLocal
    }
    meta := make(map[string]string, len(info.Meta))
    for k, v := range info.Meta {
        meta[k] = v
    }
    info.Meta = meta
    return &ResourceMember{info: info, typ: typ}
}

func (m *ResourceMember) ID() string { return m.info.ID }

// URI is the member's gossip address.
func (m *ResourceMember) URI() string { return m.info.Addr }

// RaftAddr is the advertised raft transport address, or "" if unknown.
func (m *ResourceMember) RaftAddr() string { return m.info.Meta[membership.MetaRaftAddr] }

func (m *ResourceMember) Meta(key string) string { return m.info.Meta[key] }

func (m *ResourceMember) Type() MemberType { return m.typ }

func (m *ResourceMember) IsLocal() bool { return m.typ == MemberLocal }

func (m *ResourceMember) String() string {
    return fmt.Sprintf("%s[%s %s]", m.typ, m.info.ID, m.info.Addr)
}
