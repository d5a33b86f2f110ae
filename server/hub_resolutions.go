// Copyright (C) 2008-2019 by Nicolas Piganeau and the TS2 TEAM
// (See AUTHORS file)
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the
// Free Software Foundation, Inc.,
// 59 Temple Place - Suite 330, Boston, MA  02111-1307, USA.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tracktitans/railcore/detection"
	"github.com/tracktitans/railcore/resolution"
)

// pendingResolution tracks one unresolved conflict's candidate set, keyed
// by conflict ID.
type pendingResolution struct {
	Conflict detection.Conflict   `json:"conflict"`
	Rankings []resolution.Ranking `json:"rankings,omitempty"`
}

var (
	resMu      sync.RWMutex
	pending    = map[string]*pendingResolution{}
	normalizer = resolution.NewNormalizer()
)

// recordConflictForResolution registers a freshly detected conflict as a
// pending item awaiting a ranked resolution, called from the simulation
// loop's onTick callback.
func recordConflictForResolution(c detection.Conflict) {
	resMu.Lock()
	defer resMu.Unlock()
	pending[c.ConflictID] = &pendingResolution{Conflict: c}
}

// resetResolutionState clears every pending item, used by "restart".
func resetResolutionState() {
	resMu.Lock()
	defer resMu.Unlock()
	pending = map[string]*pendingResolution{}
}

type resolutionsObject struct{}

// dispatch processes requests on the resolutions object: "list" returns
// every pending conflict (ranked, where ranking has been requested),
// "rank" generates candidates and asks the Judge to rank them, "accept"
// applies the chosen ranking via the Context Patcher, "reject" drops the
// pending item without applying anything.
func (s *resolutionsObject) dispatch(h *Hub, req Request, conn *connection) {
	logger.Debug("request for resolutions received", "submodule", "hub", "object", req.Object, "action", req.Action)
	switch req.Action {
	case "list":
		resMu.RLock()
		out := make([]*pendingResolution, 0, len(pending))
		for _, p := range pending {
			out = append(out, p)
		}
		resMu.RUnlock()
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: out})

	case "rank":
		var params struct {
			ConflictID string `json:"conflict_id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: "malformed params"})
			return
		}
		resMu.Lock()
		p, ok := pending[params.ConflictID]
		resMu.Unlock()
		if !ok {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: "unknown conflict_id"})
			return
		}
		candidates := candidatesForConflict(normalizer, p.Conflict)
		if len(candidates) == 0 {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: "no candidate resolutions for this conflict type"})
			return
		}
		cc := resolution.ConflictContext{Summary: p.Conflict.Type, Location: p.Conflict.Location, Trains: p.Conflict.InvolvedTrains}
		rankings, err := core.RankResolutions(context.Background(), candidates, cc, 3)
		if err != nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: err.Error()})
			return
		}
		resMu.Lock()
		p.Rankings = rankings
		resMu.Unlock()
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: rankings})

	case "accept":
		var params struct {
			ConflictID       string `json:"conflict_id"`
			ResolutionNumber int    `json:"resolution_number"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: "malformed params"})
			return
		}
		resMu.Lock()
		p, ok := pending[params.ConflictID]
		resMu.Unlock()
		if !ok {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: "unknown conflict_id"})
			return
		}
		var chosen *resolution.NormalizedResolution
		for _, r := range p.Rankings {
			if r.ResolutionNumber == params.ResolutionNumber {
				chosen = &r.FullResolution
				break
			}
		}
		if chosen == nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: "resolution_number not in ranked set"})
			return
		}
		err := core.ApplyResolution(context.Background(), *chosen)
		recordAuditFromResolution(*chosen, err)
		if err != nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: err.Error()})
			return
		}
		updateMetricsFromResolutionOutcome(params.ConflictID, "accepted")
		resMu.Lock()
		delete(pending, params.ConflictID)
		resMu.Unlock()
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: "resolution applied"})

	case "reject":
		var params struct {
			ConflictID string `json:"conflict_id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: "malformed params"})
			return
		}
		updateMetricsFromResolutionOutcome(params.ConflictID, "rejected")
		resMu.Lock()
		delete(pending, params.ConflictID)
		resMu.Unlock()
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: "resolution rejected"})

	default:
		conn.sendResponse(Response{ID: req.ID, Status: "error", Error: fmt.Sprintf("unknown action %s/%s", req.Object, req.Action)})
	}
}

var _ hubObject = new(resolutionsObject)
