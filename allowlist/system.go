package allowlist

import "github.com/gagliardetto/solana-go"

// SystemPrograms are the native programs of the runtime. Accounts they own
// (wallets, stake, vote, sysvars) dominate update volume.
var SystemPrograms = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("11111111111111111111111111111111"),
	solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111"),
	solana.MustPublicKeyFromBase58("BPFLoader2111111111111111111111111111111111"),
	solana.MustPublicKeyFromBase58("Config1111111111111111111111111111111111111"),
	solana.MustPublicKeyFromBase58("Feature111111111111111111111111111111111111"),
	solana.MustPublicKeyFromBase58("NativeLoader1111111111111111111111111111111"),
	solana.MustPublicKeyFromBase58("Stake11111111111111111111111111111111111111"),
	solana.MustPublicKeyFromBase58("Sysvar1111111111111111111111111111111111111"),
	solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111"),
}

// IsSystemProgram reports whether id is one of SystemPrograms
func IsSystemProgram(id solana.PublicKey) bool {
	for _, p := range SystemPrograms {
		if p == id {
			return true
		}
	}
	return false
}

// SystemProgramsIn returns the system programs present in the snapshot
func (a *Allowlist) SystemProgramsIn() []solana.PublicKey {
	set := a.snapshot()
	var found []solana.PublicKey
	for _, p := range SystemPrograms {
		if set.Contains(p) {
			found = append(found, p)
		}
	}
	return found
}
