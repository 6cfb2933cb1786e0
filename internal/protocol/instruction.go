// Package protocol defines the instruction wire format, protocol status codes
// and the mapping from transport close signals to statuses.
package protocol

// InternalOpcode is the reserved opcode. The first instruction a peer sends may
// carry it to announce the session UUID; afterwards it only carries keepalive
// traffic and is never handed to the application.
const InternalOpcode = ""

// KeepalivePing is the first argument of outbound keepalive instructions.
const KeepalivePing = "ping"

// Wire delimiters.
const (
	lengthDelimiter  = '.'
	elementDelimiter = ','
	instructionEnd   = ';'
)

// Instruction is one opcode plus its ordered arguments.
type Instruction struct {
	Opcode string
	Args   []string
}

// Internal reports whether the instruction uses the reserved opcode.
func (i Instruction) Internal() bool {
	return i.Opcode == InternalOpcode
}

// String returns the wire form of the instruction.
func (i Instruction) String() string {
	return Encode(i.Opcode, i.Args...)
}
