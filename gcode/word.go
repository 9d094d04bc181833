// Package gcode tokenizes a single line of G-code text into the Block of
// Words the rest of the tree builds on: internal/parser turns a Block into
// command.Command values, internal/simulator and internal/estimator replay
// a Block against their own position models.
package gcode

// Word is one letter/number pair off a line, such as the G1 in "G1 X10
// F600". Arg is always a float64 even for integer-valued codes (M104,
// G1) since RS274-style G-code never distinguishes "G1" from "G1.0".
type Word struct {
	W   byte
	Arg float64
}

// IsValid reports whether W is a letter a block is allowed to carry. The
// parser's regexp already restricts the character class it accepts, so
// this mainly exists for Block.Validate to check words built by hand in
// tests and command construction helpers.
func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}
