package compiler

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"sbc/pkg/cpu"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compiler: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is the serialised form of a Compilation. The code is stored packed;
// OpcodeCount trims the padding of the last word on load.
type Image struct {
	Config          cpu.Config          `cbor:"1,keyasint"`
	Code            []int32             `cbor:"2,keyasint"`
	OpcodeCount     int                 `cbor:"3,keyasint"`
	ConstStart      int                 `cbor:"4,keyasint"`
	ConstData       []int32             `cbor:"5,keyasint"`
	StaticDataCount int                 `cbor:"6,keyasint"`
	Methods         []MethodData        `cbor:"7,keyasint"`
	Lines           []SourceLine        `cbor:"8,keyasint"`
	Labels          map[string]LabelDef `cbor:"9,keyasint"`
	EntryAddrIdx    int                 `cbor:"10,keyasint"`
	HaltAddrIdx     int                 `cbor:"11,keyasint"`
}

// MarshalImage serialises a compilation to canonical CBOR bytes.
func MarshalImage(p *Compilation) ([]byte, error) {
	return cborEncMode.Marshal(&Image{
		Config:          p.Config,
		Code:            p.Code(),
		OpcodeCount:     len(p.Opcodes),
		ConstStart:      p.ConstStart,
		ConstData:       p.ConstData,
		StaticDataCount: p.StaticDataCount,
		Methods:         p.Methods,
		Lines:           p.Lines,
		Labels:          p.Labels,
		EntryAddrIdx:    p.EntryAddrIdx,
		HaltAddrIdx:     p.HaltAddrIdx,
	})
}

// UnmarshalImage rebuilds a compilation from CBOR bytes. Label references
// are not stored; the image is already linked.
func UnmarshalImage(data []byte) (*Compilation, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("compiler: unmarshal image: %w", err)
	}
	if err := img.Config.Validate(); err != nil {
		return nil, fmt.Errorf("compiler: image config: %w", err)
	}
	spw := img.Config.SlotsPerWord
	if img.OpcodeCount > len(img.Code)*spw {
		return nil, fmt.Errorf("compiler: image has %d opcodes in %d words", img.OpcodeCount, len(img.Code))
	}
	ops := make([]cpu.Opcode, img.OpcodeCount)
	for i := range ops {
		ops[i] = cpu.SlotOpcode(img.Config, img.Code[i/spw], i%spw)
	}
	return &Compilation{
		Config:          img.Config,
		Opcodes:         ops,
		ConstData:       img.ConstData,
		ConstStart:      img.ConstStart,
		ExecutableSize:  len(img.Code),
		StaticDataCount: img.StaticDataCount,
		Lines:           img.Lines,
		Methods:         img.Methods,
		Labels:          img.Labels,
		EntryAddrIdx:    img.EntryAddrIdx,
		HaltAddrIdx:     img.HaltAddrIdx,
		Writable:        cpu.WritableSet(img.Config),
	}, nil
}
