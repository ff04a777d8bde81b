package engine

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// GraphNode is a node of a graph under construction. Children are the inputs the node spends.
type GraphNode struct {
	gasp.Node
	Txid     *chainhash.Hash
	Children []*GraphNode
	Parent   *GraphNode
}

// OverlayGASPStorage backs a GASP instance with the engine storage of one topic. Graphs received
// from a peer are held in memory until they are finalized through Submit or discarded.
type OverlayGASPStorage struct {
	Topic           string
	Peer            string
	Engine          *Engine
	MaxNodesInGraph int

	mu     sync.Mutex
	graphs map[string]map[string]*GraphNode
}

func NewOverlayGASPStorage(topic, peer string, engine *Engine) *OverlayGASPStorage {
	return &OverlayGASPStorage{
		Topic:           topic,
		Peer:            peer,
		Engine:          engine,
		MaxNodesInGraph: engine.maxNodesInGraph,
		graphs:          make(map[string]map[string]*GraphNode),
	}
}

func (s *OverlayGASPStorage) FindKnownUTXOs(ctx context.Context, since float64, limit uint32) ([]*gasp.Output, error) {
	utxos, err := s.Engine.storage.FindUTXOsForTopic(ctx, s.Topic, since, limit, false)
	if err != nil {
		return nil, err
	}
	return toGASPOutputs(utxos), nil
}

// FindOutgoingUTXOs returns the UTXOs that were not offered to the peer in an earlier round.
func (s *OverlayGASPStorage) FindOutgoingUTXOs(ctx context.Context, limit uint32) ([]*gasp.Output, error) {
	if s.Peer == "" {
		return s.FindKnownUTXOs(ctx, 0, limit)
	}
	utxos, err := s.Engine.storage.FindUTXOsNeedingSync(ctx, s.Peer, s.Topic, limit)
	if err != nil {
		return nil, err
	}
	return toGASPOutputs(utxos), nil
}

func toGASPOutputs(utxos []*Output) []*gasp.Output {
	outputs := make([]*gasp.Output, 0, len(utxos))
	for _, utxo := range utxos {
		outputs = append(outputs, &gasp.Output{
			Txid:        utxo.Outpoint.Txid,
			OutputIndex: utxo.Outpoint.Index,
			Score:       utxo.Score,
		})
	}
	return outputs
}

// HydrateGASPNode builds the node for outpoint. Outpoints that are not outputs of the topic are
// looked up in the BEEF of the graph root.
func (s *OverlayGASPStorage) HydrateGASPNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	output, err := s.Engine.storage.FindOutput(ctx, outpoint, &s.Topic, nil, true)
	if err != nil {
		return nil, err
	}

	var tx *transaction.Transaction
	node := &gasp.Node{GraphID: graphID, OutputIndex: outpoint.Index}
	if output != nil && len(output.Beef) > 0 {
		if _, tx, _, err = transaction.ParseBeef(output.Beef); err != nil {
			return nil, err
		}
		node.AncillaryBeef = output.AncillaryBeef
	} else {
		root, err := s.Engine.storage.FindOutput(ctx, graphID, &s.Topic, nil, true)
		if err != nil {
			return nil, err
		} else if root == nil || len(root.Beef) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingOutput, outpoint)
		}
		beef, _, _, err := transaction.ParseBeef(root.Beef)
		if err != nil {
			return nil, err
		}
		tx = beef.FindTransaction(outpoint.Txid.String())
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutput, outpoint)
	}

	node.RawTx = tx.Hex()
	if tx.MerklePath != nil {
		proof := tx.MerklePath.Hex()
		node.Proof = &proof
	}
	return node, nil
}

// FindNeededInputs asks for every input of an unproven node. For a proven node the inputs are
// only needed when the topic manager does not admit the output on its own.
func (s *OverlayGASPStorage) FindNeededInputs(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	response := &gasp.NodeResponse{
		RequestedInputs: make(map[string]*gasp.NodeResponseData),
	}
	tx, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return nil, err
	}
	if node.Proof == nil {
		for _, input := range tx.Inputs {
			outpoint := &transaction.Outpoint{
				Txid:  *input.SourceTXID,
				Index: input.SourceTxOutIndex,
			}
			response.RequestedInputs[outpoint.String()] = &gasp.NodeResponseData{Metadata: false}
		}
		return s.stripAlreadyKnownInputs(ctx, response)
	}

	manager, ok := s.Engine.managers[s.Topic]
	if !ok {
		return nil, ErrUnknownTopic
	}
	ctx = WithSubmitMode(ctx, SubmitModeHistorical)
	if tx.MerklePath, err = transaction.NewMerklePathFromHex(*node.Proof); err != nil {
		return nil, err
	}
	beef, err := transaction.NewBeefFromTransaction(tx)
	if err != nil {
		return nil, err
	}
	if len(node.AncillaryBeef) > 0 {
		if err := beef.MergeBeefBytes(node.AncillaryBeef); err != nil {
			return nil, err
		}
	}
	beefBytes, err := beef.AtomicBytes(tx.TxID())
	if err != nil {
		return nil, err
	}
	previousCoins, err := s.previousCoins(ctx, tx, nil)
	if err != nil {
		return nil, err
	}
	admit, err := manager.IdentifyAdmissibleOutputs(ctx, beefBytes, previousCoins)
	if err != nil {
		return nil, err
	}
	if slices.Contains(admit.OutputsToAdmit, node.OutputIndex) {
		return nil, nil //nolint:nilnil // nothing more is needed
	}
	neededInputs, err := manager.IdentifyNeededInputs(ctx, beefBytes)
	if err != nil {
		return nil, err
	}
	for _, outpoint := range neededInputs {
		response.RequestedInputs[outpoint.String()] = &gasp.NodeResponseData{Metadata: true}
	}
	return s.stripAlreadyKnownInputs(ctx, response)
}

func (s *OverlayGASPStorage) stripAlreadyKnownInputs(ctx context.Context, response *gasp.NodeResponse) (*gasp.NodeResponse, error) {
	for outpointStr := range response.RequestedInputs {
		outpoint, err := transaction.OutpointFromString(outpointStr)
		if err != nil {
			return nil, err
		}
		found, err := s.Engine.storage.FindOutput(ctx, outpoint, &s.Topic, nil, false)
		if err != nil {
			return nil, err
		} else if found != nil {
			delete(response.RequestedInputs, outpointStr)
		}
	}
	if len(response.RequestedInputs) == 0 {
		return nil, nil //nolint:nilnil // nothing more is needed
	}
	return response, nil
}

func (s *OverlayGASPStorage) AppendToGraph(_ context.Context, node *gasp.Node, spentBy *transaction.Outpoint) error {
	if node.GraphID == nil {
		return fmt.Errorf("%w: node without graph id", ErrMissingInput)
	}
	tx, err := transaction.NewTransactionFromHex(node.RawTx)
	if err != nil {
		return err
	}
	if node.Proof != nil {
		if _, err := transaction.NewMerklePathFromHex(*node.Proof); err != nil {
			return err
		}
	}
	txid := tx.TxID()
	graphKey := node.GraphID.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.graphs[graphKey]
	if spentBy == nil {
		nodes = make(map[string]*GraphNode)
		s.graphs[graphKey] = nodes
	} else if nodes == nil {
		return fmt.Errorf("%w: graph %s is not being built", ErrMissingInput, graphKey)
	}
	if s.MaxNodesInGraph > 0 && len(nodes) >= s.MaxNodesInGraph {
		return ErrGraphFull
	}

	graphNode := &GraphNode{Node: *node, Txid: txid}
	if spentBy != nil {
		parent, ok := nodes[spentBy.String()]
		if !ok {
			return fmt.Errorf("%w: %s does not spend a node of graph %s", ErrMissingInput, spentBy, graphKey)
		}
		parent.Children = append(parent.Children, graphNode)
		graphNode.Parent = parent
	}
	nodes[(&transaction.Outpoint{Txid: *txid, Index: node.OutputIndex}).String()] = graphNode
	return nil
}

// ValidateGraphAnchor dry-runs the graph through the topic manager, ancestors first, and
// accepts it only when the root output ends up admitted.
func (s *OverlayGASPStorage) ValidateGraphAnchor(ctx context.Context, graphID *transaction.Outpoint) error {
	manager, ok := s.Engine.managers[s.Topic]
	if !ok {
		return ErrUnknownTopic
	}
	ctx = WithSubmitMode(ctx, SubmitModeHistorical)
	nodes, root, err := s.graph(graphID)
	if err != nil {
		return err
	}
	rootBeef, err := s.getBEEFForNode(ctx, nodes, root)
	if err != nil {
		return err
	}
	_, rootTx, _, err := transaction.ParseBeef(rootBeef)
	if err != nil {
		return err
	} else if rootTx == nil {
		return ErrMissingSourceTransaction
	}
	if err := s.Engine.verifyBundle(ctx, rootTx); err != nil {
		return err
	}

	beefs, err := s.computeOrderedBEEFsForGraph(ctx, nodes, root)
	if err != nil {
		return err
	}
	coins := make(map[string]*transaction.TransactionOutput)
	for _, beefBytes := range beefs {
		_, tx, txid, err := transaction.ParseBeef(beefBytes)
		if err != nil {
			return err
		} else if tx == nil {
			return ErrMissingSourceTransaction
		}
		previousCoins, err := s.previousCoins(ctx, tx, coins)
		if err != nil {
			return err
		}
		admit, err := manager.IdentifyAdmissibleOutputs(ctx, beefBytes, previousCoins)
		if err != nil {
			return err
		}
		for _, vout := range admit.OutputsToAdmit {
			if int(vout) < len(tx.Outputs) {
				coins[(&transaction.Outpoint{Txid: *txid, Index: vout}).String()] = tx.Outputs[vout]
			}
		}
	}
	if _, ok := coins[graphID.String()]; !ok {
		return ErrGraphRejected
	}
	return nil
}

func (s *OverlayGASPStorage) DiscardGraph(_ context.Context, graphID *transaction.Outpoint) error {
	s.mu.Lock()
	delete(s.graphs, graphID.String())
	s.mu.Unlock()
	return nil
}

// FinalizeGraph submits the graph, ancestors first, in historical mode.
func (s *OverlayGASPStorage) FinalizeGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	nodes, root, err := s.graph(graphID)
	if err != nil {
		return err
	}
	beefs, err := s.computeOrderedBEEFsForGraph(ctx, nodes, root)
	if err != nil {
		return err
	}
	for _, beef := range beefs {
		steak, err := s.Engine.Submit(ctx, overlay.TaggedBEEF{
			Topics: []string{s.Topic},
			Beef:   beef,
		}, SubmitModeHistorical)
		if err != nil {
			return err
		}
		if report := steak[s.Topic]; report != nil && report.Err != nil {
			return report.Err
		}
	}
	return s.DiscardGraph(ctx, graphID)
}

func (s *OverlayGASPStorage) graph(graphID *transaction.Outpoint) (map[string]*GraphNode, *GraphNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.graphs[graphID.String()]
	root, ok := nodes[graphID.String()]
	if !ok {
		return nil, nil, fmt.Errorf("%w: graph %s has no root", ErrMissingInput, graphID)
	}
	return nodes, root, nil
}

// previousCoins resolves the inputs of tx against the topic storage and the coins admitted
// earlier in the same graph.
func (s *OverlayGASPStorage) previousCoins(ctx context.Context, tx *transaction.Transaction, graphCoins map[string]*transaction.TransactionOutput) (map[uint32]*transaction.TransactionOutput, error) {
	previousCoins := make(map[uint32]*transaction.TransactionOutput, len(tx.Inputs))
	if len(tx.Inputs) == 0 {
		return previousCoins, nil
	}
	inpoints := make([]*transaction.Outpoint, len(tx.Inputs))
	for vin, input := range tx.Inputs {
		inpoints[vin] = &transaction.Outpoint{
			Txid:  *input.SourceTXID,
			Index: input.SourceTxOutIndex,
		}
	}
	outputs, err := s.Engine.storage.FindOutputs(ctx, inpoints, s.Topic, nil, false)
	if err != nil {
		return nil, err
	}
	for vin, output := range outputs {
		if output != nil {
			previousCoins[uint32(vin)] = &transaction.TransactionOutput{ //nolint:gosec // index bounded by slice length
				LockingScript: output.Script,
				Satoshis:      output.Satoshis,
			}
		} else if coin, ok := graphCoins[inpoints[vin].String()]; ok {
			previousCoins[uint32(vin)] = coin //nolint:gosec // index bounded by slice length
		}
	}
	return previousCoins, nil
}

func (s *OverlayGASPStorage) computeOrderedBEEFsForGraph(ctx context.Context, nodes map[string]*GraphNode, root *GraphNode) ([][]byte, error) {
	beefs := make([][]byte, 0, len(nodes))
	var hydrator func(node *GraphNode) error
	hydrator = func(node *GraphNode) error {
		currentBeef, err := s.getBEEFForNode(ctx, nodes, node)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(beefs, func(beef []byte) bool { return bytes.Equal(beef, currentBeef) }) {
			beefs = append([][]byte{currentBeef}, beefs...)
		}
		for _, child := range node.Children {
			if err := hydrator(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := hydrator(root); err != nil {
		return nil, err
	}
	return beefs, nil
}

// getBEEFForNode builds the atomic BEEF of a node. Unproven inputs come from the graph, or from
// storage when the input is already held locally.
func (s *OverlayGASPStorage) getBEEFForNode(ctx context.Context, nodes map[string]*GraphNode, node *GraphNode) ([]byte, error) {
	var hydrator func(node *GraphNode) (*transaction.Transaction, error)
	hydrator = func(node *GraphNode) (*transaction.Transaction, error) {
		tx, err := transaction.NewTransactionFromHex(node.RawTx)
		if err != nil {
			return nil, err
		}
		if node.Proof != nil {
			if tx.MerklePath, err = transaction.NewMerklePathFromHex(*node.Proof); err != nil {
				return nil, err
			}
			return tx, nil
		}
		for vin, input := range tx.Inputs {
			outpoint := &transaction.Outpoint{
				Txid:  *input.SourceTXID,
				Index: input.SourceTxOutIndex,
			}
			if inputNode, ok := nodes[outpoint.String()]; ok {
				if tx.Inputs[vin].SourceTransaction, err = hydrator(inputNode); err != nil {
					return nil, err
				}
				continue
			}
			stored, err := s.Engine.storage.FindOutput(ctx, outpoint, &s.Topic, nil, true)
			if err != nil {
				return nil, err
			} else if stored == nil || len(stored.Beef) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrMissingInput, outpoint)
			}
			if _, tx.Inputs[vin].SourceTransaction, _, err = transaction.ParseBeef(stored.Beef); err != nil {
				return nil, err
			}
		}
		return tx, nil
	}
	tx, err := hydrator(node)
	if err != nil {
		return nil, err
	}
	beef, err := transaction.NewBeefFromTransaction(tx)
	if err != nil {
		return nil, err
	}
	if len(node.AncillaryBeef) > 0 {
		if err := beef.MergeBeefBytes(node.AncillaryBeef); err != nil {
			return nil, err
		}
	}
	return beef.AtomicBytes(tx.TxID())
}
