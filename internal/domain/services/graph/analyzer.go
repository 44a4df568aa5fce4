package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/pkg/errors"
)

// Analyzer inspects the transaction graph around a user. Edges are derived
// from completed payments inside a configured window; nothing here writes.
type Analyzer struct {
	history repositories.PaymentHistoryRepository
	cfg     config.RiskConfig
	logger  *zap.Logger
}

// NewAnalyzer creates a transaction graph analyzer.
func NewAnalyzer(history repositories.PaymentHistoryRepository, cfg config.RiskConfig, logger *zap.Logger) *Analyzer {
	return &Analyzer{history: history, cfg: cfg, logger: logger}
}

// ConnectedUsers returns the users reachable from userID within the
// configured depth, treating payments as undirected edges. The result
// excludes userID itself and is capped at graph.max_users to bound the
// fan-out of hub accounts.
func (a *Analyzer) ConnectedUsers(ctx context.Context, userID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	since := now.Add(-a.cfg.GraphWindow())

	visited := map[uuid.UUID]bool{userID: true}
	var connected []uuid.UUID
	frontier := []uuid.UUID{userID}

	for depth := 0; depth < a.cfg.Graph.Depth && len(frontier) > 0; depth++ {
		var next []uuid.UUID
		for _, id := range frontier {
			edges, err := a.history.EdgesByUser(ctx, id, since)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load transaction edges")
			}
			for _, e := range edges {
				for _, neighbor := range []uuid.UUID{e.PayerID, e.PayeeID} {
					if visited[neighbor] {
						continue
					}
					visited[neighbor] = true
					connected = append(connected, neighbor)
					next = append(next, neighbor)
					if len(connected) >= a.cfg.Graph.MaxUsers {
						return connected, nil
					}
				}
			}
		}
		frontier = next
	}

	return connected, nil
}

// CircularNetwork reports whether a directed payment cycle of at least
// three users exists in the neighborhood of userID, and returns the cycle
// when one does. Candidates are the connected neighborhood plus the user;
// fewer than three candidates cannot form a cycle, so the edge query is
// skipped. Every candidate is tried as a start node, so a ring running
// entirely among the user's counterparties is still reported.
func (a *Analyzer) CircularNetwork(ctx context.Context, userID uuid.UUID, now time.Time) (bool, []uuid.UUID, error) {
	connected, err := a.ConnectedUsers(ctx, userID, now)
	if err != nil {
		return false, nil, err
	}

	candidates := append([]uuid.UUID{userID}, connected...)
	if len(candidates) < 3 {
		return false, nil, nil
	}

	since := now.Add(-a.cfg.GraphWindow())
	edges, err := a.history.EdgesAmong(ctx, candidates, since)
	if err != nil {
		return false, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load candidate edges")
	}

	cycle := findCycle(candidates, edges, userID)
	if cycle == nil {
		return false, nil, nil
	}

	a.logger.Warn("circular payment network detected",
		zap.String("user_id", userID.String()),
		zap.Int("cycle_length", len(cycle)),
	)
	return true, cycle, nil
}

// findCycle looks for a directed cycle of length three or more among the
// candidates, trying root first so a cycle through the inspected user is
// preferred when one exists. Nodes are re-indexed to integers so the DFS
// runs over slices instead of UUID maps.
func findCycle(candidates []uuid.UUID, edges []entities.TransactionEdge, root uuid.UUID) []uuid.UUID {
	index := make(map[uuid.UUID]int, len(candidates))
	for i, id := range candidates {
		index[id] = i
	}

	adjacency := make([][]int, len(candidates))
	for _, e := range edges {
		from, okFrom := index[e.PayerID]
		to, okTo := index[e.PayeeID]
		if !okFrom || !okTo || from == to {
			continue
		}
		adjacency[from] = append(adjacency[from], to)
	}

	rootIdx := index[root]
	if cycle := cycleFrom(adjacency, candidates, rootIdx); cycle != nil {
		return cycle
	}
	for startIdx := range candidates {
		if startIdx == rootIdx {
			continue
		}
		if cycle := cycleFrom(adjacency, candidates, startIdx); cycle != nil {
			return cycle
		}
	}
	return nil
}

// cycleFrom searches for a cycle through startIdx. The traversal is
// iterative; a long money-mule chain must not overflow the goroutine
// stack. visited marks on-stack nodes only: a node abandoned on a dead
// branch is unmarked when its frame pops, so other paths can still run
// through it.
func cycleFrom(adjacency [][]int, candidates []uuid.UUID, startIdx int) []uuid.UUID {
	visited := make([]bool, len(candidates))
	visited[startIdx] = true

	// Each frame tracks how far through its adjacency list the node is,
	// so the path can be unwound without recursion.
	type frame struct {
		node int
		next int
	}
	stack := []frame{{node: startIdx}}
	path := []int{startIdx}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		neighbors := adjacency[top.node]

		advanced := false
		for top.next < len(neighbors) {
			neighbor := neighbors[top.next]
			top.next++

			if neighbor == startIdx && len(path) >= 3 {
				cycle := make([]uuid.UUID, len(path))
				for i, idx := range path {
					cycle[i] = candidates[idx]
				}
				return cycle
			}
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true
			stack = append(stack, frame{node: neighbor})
			path = append(path, neighbor)
			advanced = true
			break
		}

		if !advanced {
			visited[top.node] = false
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	return nil
}
