package cpu

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// humanReadableState is the JSON-serializable snapshot of CPU control state.
type humanReadableState struct {
	PC    int     `json:"pc"`
	Slot  int     `json:"slot"`
	RA    int32   `json:"ra"`
	RB    int32   `json:"rb"`
	RC    int32   `json:"rc"`
	RX    int32   `json:"rx"`
	RY    int32   `json:"ry"`
	RK    int32   `json:"rk"`
	PF    bool    `json:"pf"`
	Steps int64   `json:"steps"`
	Input []int32 `json:"input,omitempty"`
	Words int     `json:"words"`
}

// HibernateToBytes serialises the registers (cpu_state.json) and memory
// (memory.bin, little-endian words) into an in-memory ZIP archive. Extra
// entries are written alongside.
func (c *CPU) HibernateToBytes(extra map[string][]byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := humanReadableState{
		PC: c.PC, Slot: c.Slot,
		RA: c.RA, RB: c.RB, RC: c.RC,
		RX: c.RX, RY: c.RY, RK: c.RK, PF: c.PF,
		Steps: c.Steps,
		Input: c.Input,
		Words: len(c.Memory),
	}
	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cpu_state: %w", err)
	}
	if err := writeZipEntry(zw, "cpu_state.json", jsonData); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "memory.bin", wordsToLE(c.Memory)); err != nil {
		return nil, err
	}
	for name, data := range extra {
		if err := writeZipEntry(zw, name, data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes applies an archive produced by HibernateToBytes and
// returns the entries it did not consume.
func (c *CPU) RestoreFromBytes(data []byte) (map[string][]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "cpu_state.json")
	if err != nil {
		return nil, err
	}
	var state humanReadableState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return nil, fmt.Errorf("unmarshal cpu_state: %w", err)
	}
	memData, err := readZipEntry(fileMap, "memory.bin")
	if err != nil {
		return nil, err
	}
	if len(memData) != 4*state.Words {
		return nil, fmt.Errorf("memory.bin holds %d bytes, expected %d words", len(memData), state.Words)
	}
	if state.Words != c.Config.MemorySize {
		return nil, fmt.Errorf("snapshot has %d words of memory, machine has %d", state.Words, c.Config.MemorySize)
	}

	c.PC, c.Slot = state.PC, state.Slot
	c.RA, c.RB, c.RC = state.RA, state.RB, state.RC
	c.RX, c.RY, c.RK, c.PF = state.RX, state.RY, state.RK, state.PF
	c.Steps = state.Steps
	c.Input = state.Input
	if len(c.Memory) != state.Words {
		c.Memory = make([]int32, state.Words)
	}
	leToWords(memData, c.Memory)

	rest := make(map[string][]byte)
	for name := range fileMap {
		if name == "cpu_state.json" || name == "memory.bin" {
			continue
		}
		d, err := readZipEntry(fileMap, name)
		if err != nil {
			return nil, err
		}
		rest[name] = d
	}
	return rest, nil
}

// HibernateToFile writes the hibernation archive to the given file path.
func (c *CPU) HibernateToFile(path string) error {
	data, err := c.HibernateToBytes(nil)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// RestoreFromFile reads a hibernation archive from the given file path and
// restores the CPU state.
func (c *CPU) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = c.RestoreFromBytes(data)
	return err
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func wordsToLE(src []int32) []byte {
	out := make([]byte, len(src)*4)
	for i, v := range src {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func leToWords(src []byte, dst []int32) {
	for i := range dst {
		if i*4+3 < len(src) {
			dst[i] = int32(binary.LittleEndian.Uint32(src[i*4:]))
		}
	}
}
