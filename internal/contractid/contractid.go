// Package contractid holds the reserved kernel contract IDs shared between
// the artifact store (which auto-populates state fields at creation time
// based on which kernel contract an artifact declares) and the contract
// engine (which implements their check_permission logic). Splitting these
// constants into their own package avoids an import cycle between the two.
package contractid

const (
	Freeware             = "kernel_contract_freeware"
	TransferableFreeware = "kernel_contract_transferable_freeware"
	SelfOwned            = "kernel_contract_self_owned"
	Private              = "kernel_contract_private"
	Public               = "kernel_contract_public"
)

// IsKernel reports whether id names one of the five built-in contracts.
func IsKernel(id string) bool {
	switch id {
	case Freeware, TransferableFreeware, SelfOwned, Private, Public:
		return true
	}
	return false
}

// WriterFamily is the set of kernel contracts whose authority field is
// state["writer"] (freeware, transferable_freeware).
func WriterFamily(id string) bool {
	return id == Freeware || id == TransferableFreeware
}

// PrincipalFamily is the set of kernel contracts whose authority field is
// state["principal"] (self_owned, private).
func PrincipalFamily(id string) bool {
	return id == SelfOwned || id == Private
}
