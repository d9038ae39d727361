package compiler

import (
	"fmt"

	"sbc/pkg/cpu"
)

// LabelDef is a named value. Code labels hold an instruction index and are
// linearised to an address-slot when patched; other labels hold a word.
type LabelDef struct {
	Name          string `json:"name" cbor:"1,keyasint"`
	Value         int    `json:"value" cbor:"2,keyasint"`
	IsAddressSlot bool   `json:"isAddressSlot" cbor:"3,keyasint"`
}

// LabelRef is a use of a label: a placeholder in the code, or a constant
// word when InConst is set. RemoveCall turns the enclosing call sequence
// into NOPs instead.
type LabelRef struct {
	Name       string `json:"name" cbor:"1,keyasint"`
	At         int    `json:"at" cbor:"2,keyasint"`
	InConst    bool   `json:"inConst" cbor:"3,keyasint"`
	RemoveCall bool   `json:"removeCall" cbor:"4,keyasint"`
}

func (c *Compiler) defineLabel(name string, value int, addressSlot bool) error {
	if _, ok := c.labels[name]; ok {
		return fmt.Errorf("label %s redefined", name)
	}
	c.labels[name] = &LabelDef{Name: name, Value: value, IsAddressSlot: addressSlot}
	return nil
}

// defineCode defines name at the next instruction.
func (c *Compiler) defineCode(name string) error { return c.defineLabel(name, len(c.opcodes), true) }

// constRef appends a constant word to be patched with a label's value.
func (c *Compiler) constRef(name string) {
	c.refs = append(c.refs, &LabelRef{Name: name, At: len(c.constData), InConst: true})
	c.constData = append(c.constData, 0)
}

// resolve returns the patch value of a label.
func (c *Compiler) resolve(name string) (int32, error) {
	def, ok := c.labels[name]
	if !ok {
		return 0, &UnresolvedLabelError{Name: name}
	}
	if def.IsAddressSlot {
		return int32(c.Config.AddrIdxToAddrSlot(c.Config.ExecutableStart*c.Config.SlotsPerWord + def.Value)), nil
	}
	return int32(def.Value), nil
}

func (c *Compiler) patchLabels() error {
	seq := c.CallSequenceLength()
	for _, ref := range c.refs {
		if ref.RemoveCall {
			end := ref.At + seq
			if ref.InConst || end > len(c.opcodes) || c.opcodes[end-2] != cpu.PSH || c.opcodes[end-1] != cpu.JSR {
				return defectf("removal of %s at %d is not a call sequence", ref.Name, ref.At)
			}
			c.patchAt = ref.At
			for i := 0; i < seq; i++ {
				c.emit(cpu.NOP)
			}
			continue
		}
		v, err := c.resolve(ref.Name)
		if err != nil {
			return err
		}
		if ref.InConst {
			c.constData[ref.At] = v
			continue
		}
		c.patchAt = ref.At
		c.emit(c.Config.Prefixes(v, c.Config.LabelPrefixes())...)
	}
	return nil
}
