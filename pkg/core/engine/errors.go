package engine

import "errors"

var (
	// ErrMalformedBundle is returned when a submitted BEEF cannot be parsed or does not validate structurally
	ErrMalformedBundle = errors.New("malformed bundle")
	// ErrUnknownTopic is returned when a topic is not hosted by the engine
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrUnknownLookupService is returned when a lookup service is not hosted by the engine
	ErrUnknownLookupService = errors.New("unknown lookup service")
	// ErrMalformedQuery is returned when a lookup question cannot be interpreted
	ErrMalformedQuery = errors.New("malformed query")
	// ErrProofMismatch is returned when a merkle proof does not prove the transaction it was delivered for
	ErrProofMismatch = errors.New("proof mismatch")
	// ErrStorageUnavailable wraps failures of the storage layer
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPeerUnresponsive is returned when a peer does not answer in time
	ErrPeerUnresponsive = errors.New("peer unresponsive")
	// ErrNoHeaderSource is returned when proofs cannot be checked because no header source is configured
	ErrNoHeaderSource = errors.New("no header source configured")
	// ErrMissingInput is returned when an input is missing
	ErrMissingInput = errors.New("missing input")
	// ErrMissingOutput is returned when an output is missing
	ErrMissingOutput = errors.New("missing output")
	// ErrMissingDependencyTx is returned when a dependency transaction is missing
	ErrMissingDependencyTx = errors.New("missing dependency transaction")
	// ErrMissingBeef is returned when BEEF data is missing
	ErrMissingBeef = errors.New("missing beef")
	// ErrMissingSourceTransaction is returned when a source transaction is missing
	ErrMissingSourceTransaction = errors.New("missing source transaction")
	// ErrNoDocumentationFound is returned when no documentation is found
	ErrNoDocumentationFound = errors.New("no documentation found")
	// ErrInvalidAdmittance is returned when a topic manager refers to outputs or inputs the transaction does not have
	ErrInvalidAdmittance = errors.New("invalid admittance instructions")
	// ErrGraphFull is returned when a synced graph exceeds the configured node limit
	ErrGraphFull = errors.New("graph is full")
	// ErrGraphRejected is returned when a synced graph does not admit its root
	ErrGraphRejected = errors.New("graph did not result in topical admittance of the root node")
	// ErrNotFound is returned by storages when a record does not exist
	ErrNotFound = errors.New("not found")
)
