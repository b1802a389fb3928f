package ports

// Inter-wallet protocol constants shared by client and server.
const (
	ProtocolVersion = "1.0"

	TransferEndpoint = "/api/inter-wallet/transfer"
	ValidateEndpoint = "/api/inter-wallet/validate"
	StatusEndpoint   = "/api/inter-wallet/status"

	HeaderSignature    = "X-Signature"
	HeaderSourceSystem = "X-Source-System"
)

// MaxWalletsPerUser caps how many wallets a single user may own.
const MaxWalletsPerUser = 5
