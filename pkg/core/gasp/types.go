package gasp

import (
	"encoding/json"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Version is the protocol version spoken by this implementation.
const Version = 1

type InitialRequest struct {
	Version int     `json:"version"`
	Since   float64 `json:"since"`
	Limit   uint32  `json:"limit,omitempty"`
}

type Output struct {
	Txid        chainhash.Hash `json:"txid"`
	OutputIndex uint32         `json:"outputIndex"`
	Score       float64        `json:"score"`
}

type outputJSON struct {
	Txid        string  `json:"txid"`
	OutputIndex uint32  `json:"outputIndex"`
	Score       float64 `json:"score"`
}

func (g Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputJSON{Txid: g.Txid.String(), OutputIndex: g.OutputIndex, Score: g.Score})
}

func (g *Output) UnmarshalJSON(data []byte) error {
	var aux outputJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	txid, err := chainhash.NewHashFromHex(aux.Txid)
	if err != nil {
		return fmt.Errorf("invalid txid %q: %w", aux.Txid, err)
	}
	g.Txid = *txid
	g.OutputIndex = aux.OutputIndex
	g.Score = aux.Score
	return nil
}

func (g *Output) Outpoint() *transaction.Outpoint {
	return &transaction.Outpoint{
		Txid:  g.Txid,
		Index: g.OutputIndex,
	}
}

func (g *Output) OutpointString() string {
	return g.Outpoint().String()
}

type InitialResponse struct {
	UTXOList []*Output `json:"UTXOList"`
	Since    float64   `json:"since"`
}

type InitialReply struct {
	UTXOList []*Output `json:"UTXOList"`
}

type Input struct {
	Hash string `json:"hash"`
}

// Node is one transaction of a graph together with the output it is being exchanged for.
type Node struct {
	GraphID        *transaction.Outpoint `json:"graphID"`
	RawTx          string                `json:"rawTx"`
	OutputIndex    uint32                `json:"outputIndex"`
	Proof          *string               `json:"proof,omitempty"`
	TxMetadata     string                `json:"txMetadata,omitempty"`
	OutputMetadata string                `json:"outputMetadata,omitempty"`
	Inputs         map[string]*Input     `json:"inputs,omitempty"`
	AncillaryBeef  []byte                `json:"ancillaryBeef,omitempty"`
}

type nodeJSON struct {
	GraphID        string            `json:"graphID"`
	RawTx          string            `json:"rawTx"`
	OutputIndex    uint32            `json:"outputIndex"`
	Proof          *string           `json:"proof,omitempty"`
	TxMetadata     string            `json:"txMetadata,omitempty"`
	OutputMetadata string            `json:"outputMetadata,omitempty"`
	Inputs         map[string]*Input `json:"inputs,omitempty"`
	AncillaryBeef  []byte            `json:"ancillaryBeef,omitempty"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	aux := nodeJSON{
		RawTx:          n.RawTx,
		OutputIndex:    n.OutputIndex,
		Proof:          n.Proof,
		TxMetadata:     n.TxMetadata,
		OutputMetadata: n.OutputMetadata,
		Inputs:         n.Inputs,
		AncillaryBeef:  n.AncillaryBeef,
	}
	if n.GraphID != nil {
		aux.GraphID = n.GraphID.String()
	}
	return json.Marshal(aux)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var aux nodeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.GraphID != "" {
		graphID, err := transaction.OutpointFromString(aux.GraphID)
		if err != nil {
			return fmt.Errorf("invalid graphID %q: %w", aux.GraphID, err)
		}
		n.GraphID = graphID
	}
	n.RawTx = aux.RawTx
	n.OutputIndex = aux.OutputIndex
	n.Proof = aux.Proof
	n.TxMetadata = aux.TxMetadata
	n.OutputMetadata = aux.OutputMetadata
	n.Inputs = aux.Inputs
	n.AncillaryBeef = aux.AncillaryBeef
	return nil
}

// Txid decodes the node transaction and returns its id.
func (n *Node) Txid() (*chainhash.Hash, error) {
	tx, err := transaction.NewTransactionFromHex(n.RawTx)
	if err != nil {
		return nil, err
	}
	return tx.TxID(), nil
}

// NodeRequest asks a peer for one node of a graph.
type NodeRequest struct {
	GraphID     string `json:"graphID"`
	Txid        string `json:"txid"`
	OutputIndex uint32 `json:"outputIndex"`
	Metadata    bool   `json:"metadata"`
}

// NewNodeRequest builds the request for outpoint within the graph rooted at graphID.
func NewNodeRequest(graphID, outpoint *transaction.Outpoint, metadata bool) *NodeRequest {
	return &NodeRequest{
		GraphID:     graphID.String(),
		Txid:        outpoint.Txid.String(),
		OutputIndex: outpoint.Index,
		Metadata:    metadata,
	}
}

// Outpoints decodes the graph id and the requested outpoint.
func (r *NodeRequest) Outpoints() (graphID, outpoint *transaction.Outpoint, err error) {
	if graphID, err = transaction.OutpointFromString(r.GraphID); err != nil {
		return nil, nil, fmt.Errorf("invalid graphID %q: %w", r.GraphID, err)
	}
	txid, err := chainhash.NewHashFromHex(r.Txid)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid txid %q: %w", r.Txid, err)
	}
	return graphID, &transaction.Outpoint{Txid: *txid, Index: r.OutputIndex}, nil
}

type NodeResponseData struct {
	Metadata bool `json:"metadata"`
}

type NodeResponse struct {
	RequestedInputs map[string]*NodeResponseData `json:"requestedInputs"`
}

type VersionMismatchError struct {
	Message        string `json:"message"`
	Code           string `json:"code"`
	CurrentVersion int    `json:"currentVersion"`
	ForeignVersion int    `json:"foreignVersion"`
}

func (e *VersionMismatchError) Error() string {
	return e.Message
}

func NewVersionMismatchError(currentVersion int, foreignVersion int) *VersionMismatchError {
	return &VersionMismatchError{
		Message:        fmt.Sprintf("GASP version mismatch. Current version: %d, foreign version: %d", currentVersion, foreignVersion),
		Code:           "ERR_GASP_VERSION_MISMATCH",
		CurrentVersion: currentVersion,
		ForeignVersion: foreignVersion,
	}
}
