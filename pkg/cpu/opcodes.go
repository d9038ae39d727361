package cpu

import "strings"

// Opcode is a 6-bit instruction code occupying one slot of a word.
type Opcode uint8

const (
	PFX0 Opcode = 0x00
	PFXF Opcode = 0x0F

	PSH Opcode = 0x10
	POP Opcode = 0x11
	SWP Opcode = 0x12
	DUP Opcode = 0x13
	JMP Opcode = 0x14
	JPZ Opcode = 0x15
	JSR Opcode = 0x16
	NOP Opcode = 0x17
	ZEQ Opcode = 0x18

	LDX Opcode = 0x20
	STX Opcode = 0x21
	AKX Opcode = 0x22
	SWX Opcode = 0x23
	LDY Opcode = 0x24
	STY Opcode = 0x25
	AKY Opcode = 0x26
	SWY Opcode = 0x27
	LDA Opcode = 0x28
	STA Opcode = 0x29
	AKA Opcode = 0x2A
	MFD Opcode = 0x2B
	MBD Opcode = 0x2C

	ADD Opcode = 0x30
	SUB Opcode = 0x31
	AND Opcode = 0x32
	IOR Opcode = 0x33
	XOR Opcode = 0x34
	MLT Opcode = 0x35
	SHL Opcode = 0x36
	SHR Opcode = 0x37
	SRU Opcode = 0x38
	CGT Opcode = 0x39
	FPA Opcode = 0x3A
	FPS Opcode = 0x3B
	FPM Opcode = 0x3C
	FPD Opcode = 0x3D
	I2F Opcode = 0x3E
	F2I Opcode = 0x3F
)

var opcodeNames = map[Opcode]string{
	PSH: "PSH", POP: "POP", SWP: "SWP", DUP: "DUP",
	JMP: "JMP", JPZ: "JPZ", JSR: "JSR", NOP: "NOP", ZEQ: "ZEQ",
	LDX: "LDX", STX: "STX", AKX: "AKX", SWX: "SWX",
	LDY: "LDY", STY: "STY", AKY: "AKY", SWY: "SWY",
	LDA: "LDA", STA: "STA", AKA: "AKA", MFD: "MFD", MBD: "MBD",
	ADD: "ADD", SUB: "SUB", AND: "AND", IOR: "IOR", XOR: "XOR",
	MLT: "MLT", SHL: "SHL", SHR: "SHR", SRU: "SRU", CGT: "CGT",
	FPA: "FPA", FPS: "FPS", FPM: "FPM", FPD: "FPD", I2F: "I2F", F2I: "F2I",
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames)+16)
	for op, name := range opcodeNames {
		m[name] = op
	}
	for n := 0; n < 16; n++ {
		m["PFX"+hexDigit(n)] = PFX0 + Opcode(n)
	}
	return m
}()

func hexDigit(n int) string { return string("0123456789ABCDEF"[n]) }

// IsPrefix reports whether op is one of PFX0..PFXF.
func (op Opcode) IsPrefix() bool { return op <= PFXF }

// Valid reports whether op decodes to an instruction.
func (op Opcode) Valid() bool {
	if op.IsPrefix() {
		return true
	}
	_, ok := opcodeNames[op]
	return ok
}

func (op Opcode) String() string {
	if op.IsPrefix() {
		return "PFX" + hexDigit(int(op))
	}
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "???"
}

// ParseOpcode looks up a mnemonic such as "LDX" or "PFXA".
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[strings.ToUpper(name)]
	return op, ok
}
