package machine

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

const (
	outputEntry  = "output.txt"
	machineEntry = "machine.json"
)

type machineState struct {
	Halted      bool  `json:"halted"`
	Breakpoints []int `json:"breakpoints,omitempty"`
}

// Snapshot writes the CPU state, memory, program output and breakpoints as
// a zip archive.
func (m *Machine) Snapshot(w io.Writer) error {
	st := machineState{Halted: m.halted}
	for idx := range m.Breakpoints {
		st.Breakpoints = append(st.Breakpoints, idx)
	}
	sort.Ints(st.Breakpoints)
	js, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("machine: marshal state: %w", err)
	}
	data, err := m.CPU.HibernateToBytes(map[string][]byte{
		outputEntry:  m.output.Bytes(),
		machineEntry: js,
	})
	if err != nil {
		return fmt.Errorf("machine: snapshot: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Restore loads an archive written by Snapshot. The machine must run the
// same compilation under the same memory size.
func (m *Machine) Restore(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("machine: read snapshot: %w", err)
	}
	extra, err := m.CPU.RestoreFromBytes(data)
	if err != nil {
		return fmt.Errorf("machine: restore: %w", err)
	}
	var st machineState
	if js, ok := extra[machineEntry]; ok {
		if err := json.Unmarshal(js, &st); err != nil {
			return fmt.Errorf("machine: unmarshal state: %w", err)
		}
	}
	m.halted = st.Halted
	m.Breakpoints = make(map[int]bool, len(st.Breakpoints))
	for _, idx := range st.Breakpoints {
		m.Breakpoints[idx] = true
	}
	m.output.Reset()
	m.output.Write(extra[outputEntry])
	log.Debugf("restored snapshot at %d after %d steps", m.CPU.AddrIdx(), m.CPU.Steps)
	return nil
}
