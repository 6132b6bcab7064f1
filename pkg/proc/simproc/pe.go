package simproc

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
)

const (
	peOffset      = 0x80
	sizeOfHeaders = 0x400
)

// BuildPE returns a 64-bit PE image containing a single .text section
// with the given code at codeRVA. The section's file offset equals its
// RVA, so the result is both a valid file and a valid mapped image.
func BuildPE(code []byte, codeRVA uint32, imageSize uint32) []byte {
	if codeRVA < sizeOfHeaders {
		panic("code overlaps headers")
	}
	if imageSize < codeRVA+uint32(len(code)) {
		imageSize = codeRVA + uint32(len(code))
	}

	var buf bytes.Buffer
	dos := make([]byte, peOffset)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], peOffset)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	var oh pe.OptionalHeader64
	binary.Write(&buf, binary.LittleEndian, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE,
	})
	oh = pe.OptionalHeader64{
		Magic:               0x20b,
		SizeOfCode:          uint32(len(code)),
		AddressOfEntryPoint: codeRVA,
		BaseOfCode:          codeRVA,
		ImageBase:           0x140000000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         imageSize,
		SizeOfHeaders:       sizeOfHeaders,
		Subsystem:           pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		NumberOfRvaAndSizes: 16,
	}
	binary.Write(&buf, binary.LittleEndian, &oh)

	var name [8]uint8
	copy(name[:], ".text")
	binary.Write(&buf, binary.LittleEndian, pe.SectionHeader32{
		Name:             name,
		VirtualSize:      uint32(len(code)),
		VirtualAddress:   codeRVA,
		SizeOfRawData:    uint32(len(code)),
		PointerToRawData: codeRVA,
		Characteristics:  pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	})

	out := make([]byte, imageSize)
	copy(out, buf.Bytes())
	copy(out[codeRVA:], code)
	return out
}
