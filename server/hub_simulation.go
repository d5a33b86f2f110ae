// Copyright (C) 2008-2018 by Nicolas Piganeau and the TS2 TEAM
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

	railcore "github.com/tracktitans/railcore"
	"github.com/tracktitans/railcore/detection"
	"github.com/tracktitans/railcore/network"
	"github.com/tracktitans/railcore/tick"
)

type simulationObject struct{}

// dispatch processes requests made on the simulation object: start/pause
// the tick loop, restart from the initial network snapshot, report whether
// it is running, or dump the current network state.
func (s *simulationObject) dispatch(h *Hub, req Request, conn *connection) {
	logger.Debug("request for simulation received", "submodule", "hub", "object", req.Object, "action", req.Action)
	switch req.Action {
	case "start":
		startSimulationLoop()
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: "simulation started"})
	case "pause":
		pauseSimulationLoop()
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: "simulation paused"})
	case "restart":
		autoStart := false
		if req.Params != nil {
			var params map[string]interface{}
			if err := json.Unmarshal(req.Params, &params); err == nil {
				if v, ok := params["autoStart"].(bool); ok {
					autoStart = v
				}
			}
		}
		if err := restartSimulation(); err != nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: err.Error()})
			return
		}
		if autoStart {
			startSimulationLoop()
			conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: "simulation restarted and started"})
		} else {
			conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: "simulation restarted"})
		}
	case "isStarted":
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: simRunning})
	case "dump":
		data, err := core.GetState().Snapshot()
		if err != nil {
			conn.sendResponse(Response{ID: req.ID, Status: "error", Error: err.Error()})
			return
		}
		conn.sendResponse(Response{ID: req.ID, Status: "ok", Data: json.RawMessage(data)})
	default:
		conn.sendResponse(Response{ID: req.ID, Status: "error", Error: fmt.Sprintf("unknown action %s/%s", req.Object, req.Action)})
	}
}

var _ hubObject = new(simulationObject)

// startSimulationLoop starts Core.StartSimulation on its own goroutine,
// pushing every tick's change record and conflicts out over the hub and
// into the audit log.
func startSimulationLoop() {
	if simRunning {
		return
	}
	simCtx, simCancel = context.WithCancel(context.Background())
	simRunning = true
	go func() {
		defer func() { simRunning = false }()
		err := core.StartSimulation(simCtx, func(rec tick.ChangeRecord, conflicts []detection.Conflict) {
			recordAuditFromTick(rec)
			updateMetricsFromTick(rec, core.GetState())
			for _, c := range conflicts {
				recordAuditFromConflict(c)
				recordConflictForResolution(c)
				updateMetricsFromConflict(c)
			}
			hub.broadcastJSON("tick", rec)
		})
		if err != nil && err != context.Canceled {
			logger.Error("simulation loop stopped", "error", err)
		}
	}()
}

func pauseSimulationLoop() {
	if !simRunning || simCancel == nil {
		return
	}
	simCancel()
}

// restartSimulation pauses any running loop and rebuilds a fresh Core from
// the network snapshot captured at Run() time, building the replacement
// fully before swapping the package-level pointer.
func restartSimulation() error {
	if initialNetworkSnapshot == nil {
		return fmt.Errorf("initial network snapshot unavailable")
	}
	pauseSimulationLoop()
	net, err := network.Load(initialNetworkSnapshot)
	if err != nil {
		return fmt.Errorf("rebuild network: %w", err)
	}
	core = railcore.New(coreCfg, net, coreAPIKey)
	resetResolutionState()
	return nil
}
