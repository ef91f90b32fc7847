// Package workertype enumerates the three worker roles the conductor
// hands jobs to. The historical combined "TRANSACTION" role is
// recognized for backward compatibility but new job requests always
// use one of the three-role taxonomy members.
package workertype

// Type is a worker role.
type Type string

const (
	Block    Type = "BLOCK"
	TxPrime  Type = "TX_PRIME"
	TxDetail Type = "TX_DETAIL"

	// legacyTransaction is the historical combined prime+detail role
	// name. Accepted on input, never emitted.
	legacyTransaction Type = "TRANSACTION"
)

// FromString parses the wire-level type string, returning ("", false)
// for anything unrecognized.
func FromString(v string) (Type, bool) {
	switch Type(v) {
	case Block:
		return Block, true
	case TxPrime:
		return TxPrime, true
	case TxDetail:
		return TxDetail, true
	case legacyTransaction:
		// Treated as TX_DETAIL: the historical combined role's
		// data-filling half is what TX_DETAIL replaced it with.
		return TxDetail, true
	default:
		return "", false
	}
}

func (t Type) String() string { return string(t) }
