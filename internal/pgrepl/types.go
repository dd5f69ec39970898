// Package pgrepl decodes the Postgres logical replication protocol's
// pgoutput plugin output into canonical event.Records (spec §4.3).
package pgrepl

// MessageKind is the first byte of every pgoutput logical replication
// message (spec §4.3 "Message kinds").
type MessageKind byte

const (
	KindBegin    MessageKind = 'B'
	KindCommit   MessageKind = 'C'
	KindOrigin   MessageKind = 'O'
	KindRelation MessageKind = 'R'
	KindType     MessageKind = 'Y'
	KindInsert   MessageKind = 'I'
	KindUpdate   MessageKind = 'U'
	KindDelete   MessageKind = 'D'
	KindTruncate MessageKind = 'T'
	KindMessage  MessageKind = 'M'
)

// Relation is the decoded form of an 'R' Relation message: the table
// descriptor every subsequent I/U/D message for this relation id refers
// to (spec §4.3 "Relation cache").
type Relation struct {
	RelationID      uint32
	Namespace       string
	RelationName    string
	ReplicaIdentity byte // 'd' default, 'n' nothing, 'f' full, 'i' index
	Columns         []RelationColumn
}

// RelationColumn is one column of a Relation message.
type RelationColumn struct {
	IsKey    bool
	Name     string
	TypeOID  uint32
	TypeMod  int32
}

// TupleColumn is one column's wire-format value within a TupleData
// block (spec §4.3 "TupleData decode").
type TupleColumn struct {
	Kind byte // 'n' null, 'u' unchanged TOAST, 't' text value
	Text string
}
