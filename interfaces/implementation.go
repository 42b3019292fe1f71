package interfaces

// ImplementationSource selects how the account implementation is obtained.
// It is either DeployFresh or ExistingAddress.
type ImplementationSource interface {
	isImplementationSource()
}

// DeployFresh deploys a new implementation instance on every use.
type DeployFresh struct {
	Bytecode []byte
}

// ExistingAddress reuses an implementation that is already deployed.
type ExistingAddress struct {
	Ref ImplementationRef
}

func (DeployFresh) isImplementationSource()     {}
func (ExistingAddress) isImplementationSource() {}
