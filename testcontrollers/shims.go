package testcontrollers

// BdosShim returns the 10-byte machine-code stub installed at 0x0005 in
// place of a real CP/M BDOS entry point. It forwards the CALL 5 calling
// convention (C=function, DE=argument pointer) onto CpmIoController's
// three-port protocol: MOV A,C / OUT 0 / MOV A,D / OUT 1 / MOV A,E /
// OUT 2 / RET. The classic 8080 instruction-set exercisers (8080PRE,
// TST8080, CPUTEST, 8080EXM) all assume BDOS lives at 0x0005 and call it
// this way.
func BdosShim() []byte {
	return []byte{
		0x79,       // MOV A,C
		0xD3, 0x00, // OUT 0
		0x7A,       // MOV A,D
		0xD3, 0x01, // OUT 1
		0x7B,       // MOV A,E
		0xD3, 0x02, // OUT 2
		0xC9, // RET
	}
}

// ExitShim returns the 3-byte machine-code stub installed at 0x0000 in
// place of a real CP/M warm-boot entry point: OUT 0xFF (latches Quit on
// whichever IoController is attached) followed by HLT, so a program that
// finishes by jumping to 0x0000 cleanly ends the Run.
func ExitShim() []byte {
	return []byte{
		0xD3, 0xFF, // OUT 0xFF
		0x76, // HLT
	}
}
