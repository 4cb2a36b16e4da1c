package am

import "strings"

// Operation is an operation of the capability surface.
type Operation int

const (
	OpScan Operation = iota
	OpPointLookup
	OpInsert
	OpBulkInsert
	OpUpdate
	OpDelete
	OpVacuum
	OpAnalyze
	OpBuildIndex

	numOperations
)

var operationNames = [...]string{
	OpScan:        "scan",
	OpPointLookup: "point lookup",
	OpInsert:      "insert",
	OpBulkInsert:  "bulk insert",
	OpUpdate:      "update",
	OpDelete:      "delete",
	OpVacuum:      "vacuum",
	OpAnalyze:     "analyze",
	OpBuildIndex:  "index build",
}

// Operations lists all Operations.
func Operations() []Operation {
	var out = make([]Operation, 0, numOperations)
	for op := OpScan; op != numOperations; op++ {
		out = append(out, op)
	}
	return out
}

func (op Operation) String() string {
	if op >= 0 && op < numOperations {
		return operationNames[op]
	}
	return "unknown operation"
}

// Capabilities is a set of Operations.
type Capabilities uint16

// Caps returns Capabilities of |ops|.
func Caps(ops ...Operation) Capabilities {
	var c Capabilities
	for _, op := range ops {
		c |= 1 << uint(op)
	}
	return c
}

// Has returns whether |op| is a member of the Capabilities.
func (c Capabilities) Has(op Operation) bool { return c&(1<<uint(op)) != 0 }

func (c Capabilities) String() string {
	var names []string
	for _, op := range Operations() {
		if c.Has(op) {
			names = append(names, op.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
