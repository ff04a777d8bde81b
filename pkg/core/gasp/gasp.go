package gasp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/gookit/slog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const MaxConcurrency = 16

var (
	// ErrUnexpectedNode is returned when a peer submits a node that is neither a graph root nor an input that was asked for.
	ErrUnexpectedNode = errors.New("unexpected node submitted")
	// ErrGraphRejected is returned by CompleteGraph when the storage refuses the graph anchor.
	ErrGraphRejected = errors.New("graph rejected")
)

type Params struct {
	Storage         Storage
	Remote          Remote
	LastInteraction float64
	Version         *int
	LogPrefix       *string
	Unidirectional  bool
	Concurrency     int
}

// GASP drives one side of the graph aware sync protocol. A node runs Sync against a Remote,
// and answers the peer facing calls (GetInitialResponse, GetInitialReply, RequestNode, SubmitNode)
// when it is the remote of somebody else.
type GASP struct {
	Version         int
	Remote          Remote
	Storage         Storage
	LastInteraction float64
	LastPush        float64
	LogPrefix       string
	Unidirectional  bool
	limiter         chan struct{}

	mu      sync.Mutex
	pending map[string]map[string]*transaction.Outpoint
}

func NewGASP(params Params) *GASP {
	g := &GASP{
		Storage:         params.Storage,
		Remote:          params.Remote,
		LastInteraction: params.LastInteraction,
		Unidirectional:  params.Unidirectional,
		pending:         make(map[string]map[string]*transaction.Outpoint),
	}
	switch {
	case params.Concurrency > MaxConcurrency:
		g.limiter = make(chan struct{}, MaxConcurrency)
	case params.Concurrency > 1:
		g.limiter = make(chan struct{}, params.Concurrency)
	default:
		g.limiter = make(chan struct{}, 1)
	}
	if params.Version != nil {
		g.Version = *params.Version
	} else {
		g.Version = Version
	}
	if params.LogPrefix != nil {
		g.LogPrefix = *params.LogPrefix
	} else {
		g.LogPrefix = "[GASP] "
	}
	return g
}

// Sync pulls every graph the remote knows and this node does not, page by page, and then
// pushes what the remote lacks unless the instance is unidirectional. LastInteraction never
// moves past a graph that was rejected, so the next round offers it again.
func (g *GASP) Sync(ctx context.Context, host string, limit uint32) error {
	slog.Infof("%sStarting sync with %s. Last interaction score: %f", g.LogPrefix, host, g.LastInteraction)
	since := g.LastInteraction
	held := false
	for {
		response, err := g.Remote.GetInitialResponse(ctx, &InitialRequest{
			Version: g.Version,
			Since:   since,
			Limit:   limit,
		})
		if err != nil {
			return err
		}
		rejected, err := g.pull(ctx, response.UTXOList)
		if err != nil {
			return err
		}

		next := since
		for _, utxo := range response.UTXOList {
			if utxo.Score > next {
				next = utxo.Score
			}
			if !held && (rejected == nil || utxo.Score < rejected.Score) && utxo.Score > g.LastInteraction {
				g.LastInteraction = utxo.Score
			}
		}
		if rejected != nil && !held {
			held = true
			slog.Warnf("%sHolding last interaction at %f, graph %s was rejected", g.LogPrefix, g.LastInteraction, rejected.OutpointString())
		}
		if limit == 0 || uint32(len(response.UTXOList)) < limit || next <= since { //nolint:gosec // page length bounded by limit
			break
		}
		since = next
	}

	if !g.Unidirectional {
		if err := g.push(ctx, limit); err != nil {
			return err
		}
	}
	slog.Infof("%sSync completed!", g.LogPrefix)
	return nil
}

// pull completes the graphs of the UTXOs this node does not hold yet. It returns the lowest
// scored UTXO whose graph was rejected, nil when every graph was finalized.
func (g *GASP) pull(ctx context.Context, utxos []*Output) (*Output, error) {
	if len(utxos) == 0 {
		return nil, nil
	}
	known, err := g.Storage.FindKnownUTXOs(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, utxo := range known {
		knownSet[utxo.OutpointString()] = struct{}{}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error
	var rejected *Output
	for _, utxo := range utxos {
		if _, ok := knownSet[utxo.OutpointString()]; ok {
			continue
		}
		wg.Add(1)
		g.limiter <- struct{}{}
		go func(utxo *Output) {
			defer func() {
				<-g.limiter
				wg.Done()
			}()
			err := g.pullGraph(ctx, utxo.Outpoint())
			if err == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrGraphRejected) {
				if rejected == nil || utxo.Score < rejected.Score {
					rejected = utxo
				}
				return
			}
			slog.Warnf("%sError with incoming UTXO %s: %v", g.LogPrefix, utxo.OutpointString(), err)
			errs = multierror.Append(errs, err)
		}(utxo)
	}
	wg.Wait()
	return rejected, errs.ErrorOrNil()
}

func (g *GASP) pullGraph(ctx context.Context, outpoint *transaction.Outpoint) error {
	slog.Infof("%sRequesting node for UTXO: %s", g.LogPrefix, outpoint.String())
	node, err := g.Remote.RequestNode(ctx, outpoint, outpoint, true)
	if err != nil {
		return err
	}
	if node.GraphID == nil {
		node.GraphID = outpoint
	}
	if err := g.processIncomingNode(ctx, node, nil, &sync.Map{}); err != nil {
		if discardErr := g.Storage.DiscardGraph(ctx, node.GraphID); discardErr != nil {
			slog.Errorf("%sFailed to discard graph %s: %v", g.LogPrefix, node.GraphID.String(), discardErr)
		}
		return err
	}
	return g.CompleteGraph(ctx, node.GraphID)
}

func (g *GASP) push(ctx context.Context, limit uint32) error {
	var local []*Output
	var err error
	if outgoing, ok := g.Storage.(OutgoingStorage); ok {
		local, err = outgoing.FindOutgoingUTXOs(ctx, limit)
	} else {
		local, err = g.Storage.FindKnownUTXOs(ctx, 0, limit)
	}
	if err != nil {
		return err
	}
	if len(local) == 0 {
		return nil
	}

	reply, err := g.Remote.GetInitialReply(ctx, &InitialResponse{UTXOList: local, Since: g.LastInteraction})
	if err != nil {
		return err
	}
	slog.Infof("%sRemote lacks %d of %d offered UTXOs", g.LogPrefix, len(reply.UTXOList), len(local))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error
	for _, utxo := range reply.UTXOList {
		wg.Add(1)
		g.limiter <- struct{}{}
		go func(outpoint *transaction.Outpoint) {
			defer func() {
				<-g.limiter
				wg.Done()
			}()
			slog.Infof("%sHydrating GASP node for UTXO: %s", g.LogPrefix, outpoint.String())
			node, err := g.Storage.HydrateGASPNode(ctx, outpoint, outpoint, true)
			if err == nil {
				err = g.processOutgoingNode(ctx, node, &sync.Map{})
			}
			if err != nil {
				slog.Warnf("%sError with outgoing UTXO %s: %v", g.LogPrefix, outpoint.String(), err)
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(utxo.Outpoint())
	}
	wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	for _, utxo := range local {
		if utxo.Score > g.LastPush {
			g.LastPush = utxo.Score
		}
	}
	return nil
}

func (g *GASP) GetInitialResponse(ctx context.Context, request *InitialRequest) (*InitialResponse, error) {
	slog.Debugf("%sReceived initial request: %+v", g.LogPrefix, request)
	if request.Version != g.Version {
		slog.Errorf("%sGASP version mismatch", g.LogPrefix)
		return nil, NewVersionMismatchError(g.Version, request.Version)
	}
	utxos, err := g.Storage.FindKnownUTXOs(ctx, request.Since, request.Limit)
	if err != nil {
		return nil, err
	}
	return &InitialResponse{UTXOList: utxos, Since: request.Since}, nil
}

// GetInitialReply answers with the offered UTXOs this node does not hold yet.
func (g *GASP) GetInitialReply(ctx context.Context, response *InitialResponse) (*InitialReply, error) {
	known, err := g.Storage.FindKnownUTXOs(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, utxo := range known {
		knownSet[utxo.OutpointString()] = struct{}{}
	}
	reply := &InitialReply{UTXOList: make([]*Output, 0, len(response.UTXOList))}
	for _, utxo := range response.UTXOList {
		if _, ok := knownSet[utxo.OutpointString()]; !ok {
			reply.UTXOList = append(reply.UTXOList, utxo)
		}
	}
	slog.Debugf("%sBuilt initial reply with %d UTXOs", g.LogPrefix, len(reply.UTXOList))
	return reply, nil
}

func (g *GASP) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*Node, error) {
	slog.Debugf("%sRemote is requesting node %s of graph %s", g.LogPrefix, outpoint.String(), graphID.String())
	return g.Storage.HydrateGASPNode(ctx, graphID, outpoint, metadata)
}

// SubmitNode receives a node pushed by the remote. The graph is completed once no input
// requested for it is outstanding.
func (g *GASP) SubmitNode(ctx context.Context, node *Node) (*NodeResponse, error) {
	txid, err := node.Txid()
	if err != nil {
		return nil, err
	}
	nodeOutpoint := &transaction.Outpoint{Txid: *txid, Index: node.OutputIndex}
	if node.GraphID == nil {
		node.GraphID = nodeOutpoint
	}
	graphKey := node.GraphID.String()

	g.mu.Lock()
	var spentBy *transaction.Outpoint
	if nodeOutpoint.String() == graphKey {
		g.pending[graphKey] = make(map[string]*transaction.Outpoint)
	} else if awaited, ok := g.pending[graphKey]; ok {
		spentBy = awaited[nodeOutpoint.String()]
	}
	g.mu.Unlock()
	if spentBy == nil && nodeOutpoint.String() != graphKey {
		return nil, ErrUnexpectedNode
	}

	if err := g.Storage.AppendToGraph(ctx, node, spentBy); err != nil {
		g.abandon(ctx, node.GraphID)
		return nil, err
	}
	requested, err := g.Storage.FindNeededInputs(ctx, node)
	if err != nil {
		g.abandon(ctx, node.GraphID)
		return nil, err
	}

	g.mu.Lock()
	awaited, ok := g.pending[graphKey]
	if !ok {
		g.mu.Unlock()
		return nil, ErrUnexpectedNode
	}
	delete(awaited, nodeOutpoint.String())
	if requested != nil {
		for outpointStr := range requested.RequestedInputs {
			awaited[outpointStr] = nodeOutpoint
		}
	}
	remaining := len(awaited)
	if remaining == 0 {
		delete(g.pending, graphKey)
	}
	g.mu.Unlock()

	if remaining > 0 {
		return requested, nil
	}
	if err := g.CompleteGraph(ctx, node.GraphID); err != nil && !errors.Is(err, ErrGraphRejected) {
		return nil, err
	}
	return nil, nil //nolint:nilnil // nothing more is needed from the remote
}

func (g *GASP) abandon(ctx context.Context, graphID *transaction.Outpoint) {
	g.mu.Lock()
	delete(g.pending, graphID.String())
	g.mu.Unlock()
	if err := g.Storage.DiscardGraph(ctx, graphID); err != nil {
		slog.Errorf("%sFailed to discard graph %s: %v", g.LogPrefix, graphID.String(), err)
	}
}

// CompleteGraph validates and finalizes a graph. A graph whose anchor is rejected is
// discarded and reported with ErrGraphRejected.
func (g *GASP) CompleteGraph(ctx context.Context, graphID *transaction.Outpoint) error {
	slog.Infof("%sCompleting newly-synced graph: %s", g.LogPrefix, graphID.String())
	if err := g.Storage.ValidateGraphAnchor(ctx, graphID); err != nil {
		slog.Warnf("%sGraph %s rejected: %v", g.LogPrefix, graphID.String(), err)
		if discardErr := g.Storage.DiscardGraph(ctx, graphID); discardErr != nil {
			return discardErr
		}
		return fmt.Errorf("%w: %s: %w", ErrGraphRejected, graphID, err)
	}
	if err := g.Storage.FinalizeGraph(ctx, graphID); err != nil {
		slog.Errorf("%sError finalizing graph %s: %v", g.LogPrefix, graphID.String(), err)
		if discardErr := g.Storage.DiscardGraph(ctx, graphID); discardErr != nil {
			return multierror.Append(err, discardErr)
		}
		return err
	}
	slog.Infof("%sGraph finalized: %s", g.LogPrefix, graphID.String())
	return nil
}

func (g *GASP) processIncomingNode(ctx context.Context, node *Node, spentBy *transaction.Outpoint, seenNodes *sync.Map) error {
	txid, err := node.Txid()
	if err != nil {
		return err
	}
	nodeOutpoint := &transaction.Outpoint{Txid: *txid, Index: node.OutputIndex}
	if _, seen := seenNodes.LoadOrStore(nodeOutpoint.String(), struct{}{}); seen {
		slog.Debugf("%sNode %s already processed, skipping.", g.LogPrefix, nodeOutpoint.String())
		return nil
	}
	if err := g.Storage.AppendToGraph(ctx, node, spentBy); err != nil {
		return err
	}
	neededInputs, err := g.Storage.FindNeededInputs(ctx, node)
	if err != nil {
		return err
	} else if neededInputs == nil {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for outpointStr, data := range neededInputs.RequestedInputs {
		eg.Go(func() error {
			outpoint, err := transaction.OutpointFromString(outpointStr)
			if err != nil {
				return err
			}
			slog.Debugf("%sRequesting new node for outpoint: %s, metadata: %v", g.LogPrefix, outpointStr, data.Metadata)
			newNode, err := g.Remote.RequestNode(egCtx, node.GraphID, outpoint, data.Metadata)
			if err != nil {
				return err
			}
			if newNode.GraphID == nil {
				newNode.GraphID = node.GraphID
			}
			return g.processIncomingNode(egCtx, newNode, nodeOutpoint, seenNodes)
		})
	}
	return eg.Wait()
}

func (g *GASP) processOutgoingNode(ctx context.Context, node *Node, seenNodes *sync.Map) error {
	txid, err := node.Txid()
	if err != nil {
		return err
	}
	nodeID := (&transaction.Outpoint{Txid: *txid, Index: node.OutputIndex}).String()
	if _, seen := seenNodes.LoadOrStore(nodeID, struct{}{}); seen {
		return nil
	}
	response, err := g.Remote.SubmitNode(ctx, node)
	if err != nil {
		return err
	} else if response == nil {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for outpointStr, data := range response.RequestedInputs {
		eg.Go(func() error {
			outpoint, err := transaction.OutpointFromString(outpointStr)
			if err != nil {
				return err
			}
			hydrated, err := g.Storage.HydrateGASPNode(egCtx, node.GraphID, outpoint, data.Metadata)
			if err != nil {
				return err
			}
			return g.processOutgoingNode(egCtx, hydrated, seenNodes)
		})
	}
	return eg.Wait()
}
