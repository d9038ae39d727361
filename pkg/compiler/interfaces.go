package compiler

import (
	"fmt"

	"sbc/pkg/asm"
)

// ifaceKey names one entry of the interface table: an interface method when
// Sig is set, otherwise the interface itself, whose entry is 1 in every
// class that implements it.
type ifaceKey struct {
	Iface *asm.ClassDecl
	Sig   string
}

func (k ifaceKey) String() string {
	if k.Sig == "" {
		return k.Iface.Name.String()
	}
	return k.Iface.Name.String() + "::" + k.Sig
}

// ifaceSlot returns the interface table index of k, assigning the next free
// index on first use.
func (c *Compiler) ifaceSlot(k ifaceKey) int {
	key := k.String()
	if g, ok := c.ifaceSlots[key]; ok {
		return g
	}
	g := len(c.ifaceKeys)
	c.ifaceSlots[key] = g
	c.ifaceKeys = append(c.ifaceKeys, k)
	log.Debugf("interface entry %d: %s", g, key)
	return g
}

// ifaceOffset is the position of interface table entry g relative to the
// vtable address. The table grows downwards from the word below the vtable.
func ifaceOffset(g int) int { return -1 - g }

// emitInterfaceTable writes the interface entries for one class, highest
// index first, so that the vtable emitted next sits right above entry 0.
func (c *Compiler) emitInterfaceTable(sh *ClassShape) error {
	for g := len(c.ifaceKeys) - 1; g >= 0; g-- {
		k := c.ifaceKeys[g]
		switch {
		case !sh.Implements(k.Iface):
			c.constData = append(c.constData, 0)
		case k.Sig == "":
			c.constData = append(c.constData, 1)
		default:
			i, ok := sh.Slot(k.Sig)
			if !ok {
				return &CompileError{Pos: sh.Class.Pos, Err: fmt.Errorf("%s does not implement %s", sh.Class.Name, k)}
			}
			if m := sh.Slots[i]; m != nil && !m.IsAbstract() && c.includedSet[m] {
				c.constRef(methodLabel(m))
			} else {
				c.constData = append(c.constData, 0)
			}
		}
	}
	return nil
}
