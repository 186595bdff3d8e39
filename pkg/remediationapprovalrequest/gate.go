/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package remediationapprovalrequest

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// ErrAlreadyDecided is returned when Approve/Reject targets a token that
// has already left the pending state.
var ErrAlreadyDecided = fmt.Errorf("approval token already decided")

// ErrNotFound is returned when a token id has no issued token.
var ErrNotFound = fmt.Errorf("approval token not found")

// ErrExpired is returned when Approve/Reject targets a token whose TTL has
// elapsed; the token is transitioned to ApprovalExpired as a side effect.
var ErrExpired = fmt.Errorf("approval token expired")

// Gate issues and redeems ApprovalTokens for L4 (approval_required) SOP
// candidates. Redemption is compare-and-swap: only the first Approve or
// Reject call against a pending token succeeds.
type Gate struct {
	mu     sync.Mutex
	tokens map[string]*types.ApprovalToken
}

// NewGate returns an empty Gate.
func NewGate() *Gate {
	return &Gate{tokens: make(map[string]*types.ApprovalToken)}
}

// Issue creates and stores a pending ApprovalToken for candidate, expiring
// ttl after now (types.DefaultApprovalTTL when ttl is zero).
func (g *Gate) Issue(candidate types.SOPCandidate, now time.Time, ttl time.Duration) *types.ApprovalToken {
	g.mu.Lock()
	defer g.mu.Unlock()

	token := types.NewApprovalToken(uuid.NewString(), candidate, now, ttl)
	g.tokens[token.TokenID] = token
	return token
}

// Get returns the token for tokenID, or nil when unknown. The returned
// value is a copy; callers must go through Approve/Reject to mutate state.
func (g *Gate) Get(tokenID string) *types.ApprovalToken {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tokens[tokenID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Approve transitions tokenID to ApprovalApproved, recording approver and
// justification, if and only if it is still pending and unexpired.
func (g *Gate) Approve(tokenID, approver, justification string, now time.Time) (*types.ApprovalToken, error) {
	return g.decide(tokenID, types.ApprovalApproved, approver, justification, now)
}

// Reject transitions tokenID to ApprovalRejected.
func (g *Gate) Reject(tokenID, approver, justification string, now time.Time) (*types.ApprovalToken, error) {
	return g.decide(tokenID, types.ApprovalRejected, approver, justification, now)
}

func (g *Gate) decide(tokenID string, status types.ApprovalStatus, approver, justification string, now time.Time) (*types.ApprovalToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tokens[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.IsExpired(now) && t.Status == types.ApprovalPending {
		t.Status = types.ApprovalExpired
	}
	if t.Status != types.ApprovalPending {
		if t.Status == types.ApprovalExpired {
			return nil, ErrExpired
		}
		return nil, ErrAlreadyDecided
	}

	t.Status = status
	t.Approver = approver
	t.Justification = justification
	cp := *t
	return &cp, nil
}

// ExpireStale walks every still-pending token and transitions any whose
// TTL has elapsed as of now to ApprovalExpired, returning their ids.
func (g *Gate) ExpireStale(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var expired []string
	for id, t := range g.tokens {
		if t.Status == types.ApprovalPending && t.IsExpired(now) {
			t.Status = types.ApprovalExpired
			expired = append(expired, id)
		}
	}
	return expired
}
