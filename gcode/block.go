package gcode

import (
	"fmt"
)

// Block is one tokenized line: the ordered list of Words it carried. A nil
// or empty Block means the source line had nothing to dispatch (blank or
// comment-only).
type Block []Word

// Arg returns the argument of the first Word matching w, if any.
func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

// Args returns the subset of b that carries axis/parameter words rather
// than modal G/M/F codes, the set internal/simulator applies to its
// tracked position.
func (b Block) Args() Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.ModalGroup() == ModalGroupNone {
			res = append(res, g)
		}
	}
	return res
}

// Validate rejects a block the way a real controller's line checker
// would: an unrecognized word letter, the same non-G word appearing
// twice, or two words from the same modal group fighting over the same
// line (e.g. "G90 G91"). internal/parser runs this over every tokenized
// line before turning it into a command.Command.
func (b Block) Validate() error {
	var seenWord [256]bool
	var seenModal [256]bool

	for _, g := range b {
		if !g.IsValid() {
			return fmt.Errorf("gcode: invalid word %q in block", string(g.W))
		}
		if g.W != 'G' && seenWord[g.W] {
			return fmt.Errorf("gcode: word %q repeated in block", string(g.W))
		}
		seenWord[g.W] = true

		m := g.ModalGroup()
		if m != ModalGroupNone && seenModal[m] {
			return fmt.Errorf("gcode: two words from modal group %s in one block", m)
		}
		seenModal[m] = true
	}

	return nil
}
