package machine

import (
	"fmt"
	"strings"

	"sbc/pkg/compiler"
)

// Frame is one activation on the call stack. AddrIdx is the absolute index
// of the next instruction in the top frame and of the calling JSR in the
// others. Base is the address of the frame's link slot.
type Frame struct {
	Method  *compiler.MethodData
	AddrIdx int
	Base    int
}

func (f Frame) String() string {
	return fmt.Sprintf("%s @%d [0x%X]", f.Method.Signature, f.AddrIdx, f.Base)
}

// CallStack reconstructs the active frames, innermost first. The walk ends
// at the first frameless method (the startup code or the static
// constructor trampoline) or at an address outside every method.
func (m *Machine) CallStack() ([]Frame, error) {
	var frames []Frame
	idx, ry := m.CPU.AddrIdx(), int(m.CPU.RY)
	top := true
	for {
		md := m.Comp.MethodAt(idx)
		if md == nil {
			break
		}
		rel := m.rel(idx)
		var (
			link     int32
			base     = ry
			callerRY = ry + md.FrameSize
		)
		switch {
		case top && rel < md.SetupEnd:
			// The link is still in RA. RY only belongs to this frame once
			// the AKY before the final STY has run.
			link = m.CPU.RA
			if rel < md.SetupEnd-1 {
				base, callerRY = ry-md.FrameSize, ry
			}
		case top && md.IsReturn(rel):
			link = m.CPU.RA
			base, callerRY = ry-md.FrameSize, ry
		case md.FrameSize > 0:
			v, err := m.CPU.Load(ry)
			if err != nil {
				return frames, fmt.Errorf("machine: reading link of %s: %w", md.Signature, err)
			}
			link = v
		}
		frames = append(frames, Frame{Method: md, AddrIdx: idx, Base: base})
		if md.FrameSize == 0 {
			break
		}
		idx = m.Comp.Config.AddrSlotToAddrIdx(int(link)) - 1
		ry = callerRY
		top = false
	}
	return frames, nil
}

// FrameNames maps frame-slot addresses to names of the form
// "Method::A:arg", "Method::L:local" and "Method::M:link" for every frame on
// the call stack.
func (m *Machine) FrameNames() (map[int]string, error) {
	frames, err := m.CallStack()
	if err != nil {
		return nil, err
	}
	names := make(map[int]string)
	for _, f := range frames {
		method := f.Method.Signature
		if i := strings.Index(method, " "); i >= 0 {
			method = method[i+1:]
		}
		if i := strings.Index(method, "("); i >= 0 {
			method = method[:i]
		}
		for k, item := range f.Method.FrameItems {
			names[f.Base+k] = method + "::" + item
		}
	}
	return names, nil
}
