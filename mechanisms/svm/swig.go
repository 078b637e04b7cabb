package svm

import (
	"encoding/binary"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// SwigCompactInstruction is one instruction embedded in a Swig signV2
// payload. Indices reference the outer transaction's account key list.
type SwigCompactInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// DecodeSwigCompactInstructions parses the compact instructions carried
// in a Swig signV2 instruction's data.
//
// Outer data layout:
//
//	[0..1]  discriminator         U16 LE
//	[2..3]  instructionPayloadLen U16 LE
//	[4..7]  roleId                U32 LE
//	[8..]   compact instructions  (instructionPayloadLen bytes)
//
// Each compact instruction:
//
//	[0]         programIDIndex U8
//	[1]         numAccounts    U8
//	[2..N+1]    accounts       []U8
//	[N+2..N+3]  dataLen        U16 LE
//	[N+4..]     data           raw bytes
func DecodeSwigCompactInstructions(data []byte) ([]SwigCompactInstruction, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("swig instruction data too short: %d bytes", len(data))
	}

	payloadLen := int(binary.LittleEndian.Uint16(data[2:4]))
	if len(data) < 8+payloadLen {
		return nil, fmt.Errorf("swig instruction payload truncated: want %d bytes, have %d", payloadLen, len(data)-8)
	}

	payload := data[8 : 8+payloadLen]
	var results []SwigCompactInstruction

	offset := 0
	for offset < len(payload) {
		if offset+2 > len(payload) {
			return nil, errors.New("swig compact instruction header truncated")
		}
		programIDIndex := payload[offset]
		numAccounts := int(payload[offset+1])
		offset += 2

		if offset+numAccounts+2 > len(payload) {
			return nil, errors.New("swig compact instruction accounts truncated")
		}
		accounts := make([]uint8, numAccounts)
		copy(accounts, payload[offset:offset+numAccounts])
		offset += numAccounts

		dataLen := int(binary.LittleEndian.Uint16(payload[offset : offset+2]))
		offset += 2

		if offset+dataLen > len(payload) {
			return nil, errors.New("swig compact instruction data truncated")
		}
		instrData := make([]byte, dataLen)
		copy(instrData, payload[offset:offset+dataLen])
		offset += dataLen

		results = append(results, SwigCompactInstruction{
			ProgramIDIndex: programIDIndex,
			Accounts:       accounts,
			Data:           instrData,
		})
	}

	return results, nil
}

// IsSwigTransaction reports whether the transaction has the Swig smart
// wallet layout: every instruction before the last is a compute budget
// or secp256r1 precompile, and the last is a Swig signV2.
func IsSwigTransaction(tx *solana.Transaction) bool {
	instructions := tx.Message.Instructions
	if len(instructions) == 0 {
		return false
	}

	secp256r1Pubkey := solana.MustPublicKeyFromBase58(Secp256r1PrecompileAddress)
	swigPubkey := solana.MustPublicKeyFromBase58(SwigProgramAddress)

	for i := 0; i < len(instructions)-1; i++ {
		progID, ok := instructionProgram(tx, instructions[i])
		if !ok {
			return false
		}
		if !progID.Equals(solana.ComputeBudget) && !progID.Equals(secp256r1Pubkey) {
			return false
		}
	}

	last := instructions[len(instructions)-1]
	progID, ok := instructionProgram(tx, last)
	if !ok || !progID.Equals(swigPubkey) {
		return false
	}
	if len(last.Data) < 2 {
		return false
	}
	return binary.LittleEndian.Uint16(last.Data[0:2]) == SwigSignV2Discriminator
}

// ParseSwigResult holds a Swig transaction flattened into the regular
// instruction layout plus the wallet PDA the payment is attributed to.
type ParseSwigResult struct {
	Instructions []solana.CompiledInstruction
	SwigPDA      string
}

// ParseSwigTransaction flattens a Swig transaction: outer compute
// budget instructions are kept, the secp256r1 precompile is dropped,
// and the compact instructions inside the signV2 payload are widened
// back into compiled instructions against the outer key list.
func ParseSwigTransaction(tx *solana.Transaction) (*ParseSwigResult, error) {
	instructions := tx.Message.Instructions
	if len(instructions) == 0 {
		return nil, errors.New(ErrNoTransferInstruction)
	}

	secp256r1Pubkey := solana.MustPublicKeyFromBase58(Secp256r1PrecompileAddress)

	var result []solana.CompiledInstruction
	for i := 0; i < len(instructions)-1; i++ {
		progID, ok := instructionProgram(tx, instructions[i])
		if !ok {
			return nil, errors.New(ErrNoTransferInstruction)
		}
		if !progID.Equals(secp256r1Pubkey) {
			result = append(result, instructions[i])
		}
	}

	signV2 := instructions[len(instructions)-1]

	// The Swig PDA is the signV2 instruction's first account.
	if len(signV2.Accounts) == 0 || int(signV2.Accounts[0]) >= len(tx.Message.AccountKeys) {
		return nil, errors.New(ErrNoTransferInstruction)
	}
	swigPDA := tx.Message.AccountKeys[signV2.Accounts[0]].String()

	compact, err := DecodeSwigCompactInstructions(signV2.Data)
	if err != nil {
		return nil, err
	}

	for _, ci := range compact {
		accounts := make([]uint16, len(ci.Accounts))
		for j, a := range ci.Accounts {
			accounts[j] = uint16(a)
		}
		result = append(result, solana.CompiledInstruction{
			ProgramIDIndex: uint16(ci.ProgramIDIndex),
			Accounts:       accounts,
			Data:           ci.Data,
		})
	}

	return &ParseSwigResult{
		Instructions: result,
		SwigPDA:      swigPDA,
	}, nil
}
