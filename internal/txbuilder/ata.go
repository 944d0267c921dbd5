// internal/txbuilder/ata.go
package txbuilder

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// FindAssociatedTokenAddress derives the holding-account address for an owner
// and mint under a specific token program variant. The stock helper is pinned
// to the classic token program; Token-2022 assets need the program id in the
// seed.
func FindAssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			owner.Bytes(),
			tokenProgram.Bytes(),
			mint.Bytes(),
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	return addr, err
}

// createAssociatedTokenAccountIdempotentInstruction builds the CreateIdempotent
// variant of the ATA program: a no-op when the account already exists, so
// over-creation is benign.
func createAssociatedTokenAccountIdempotentInstruction(payer, owner, mint, ata, tokenProgram solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: payer, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: owner, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: tokenProgram, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SysVarRentPubkey, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // instruction code 1 = CreateIdempotent
	)
}

// transferCheckedInstruction builds a TransferChecked for the given token
// program variant. Built raw for the same reason as the ATA instruction: the
// generated builders hardcode the classic program id.
func transferCheckedInstruction(source, mint, destination, owner solana.PublicKey, amount uint64, decimals uint8, tokenProgram solana.PublicKey) solana.Instruction {
	data := make([]byte, 10)
	data[0] = 12 // instruction code 12 = TransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals

	return solana.NewInstruction(
		tokenProgram,
		[]*solana.AccountMeta{
			{PublicKey: source, IsWritable: true, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: destination, IsWritable: true, IsSigner: false},
			{PublicKey: owner, IsWritable: false, IsSigner: true},
		},
		data,
	)
}
