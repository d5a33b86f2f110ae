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
	"html/template"
	"net/http"
	"os"
	"time"

	railcore "github.com/tracktitans/railcore"
	log "gopkg.in/inconshreveable/log15.v2"
)

const (
	DefaultAddr       string = "0.0.0.0"
	DefaultPort       string = "22222"
	MaxHubStartupTime        = 3 * time.Second
)

var (
	core   *railcore.Core
	hub    *Hub
	logger log.Logger

	simCtx    context.Context
	simCancel context.CancelFunc
	simRunning bool

	// coreCfg/coreAPIKey/initialNetworkSnapshot are kept so "restart" can
	// rebuild a fresh Core from the network snapshot captured at startup.
	coreCfg               railcore.Config
	coreAPIKey            string
	initialNetworkSnapshot []byte
)

// InitializeLogger creates the logger for the server module
func InitializeLogger(parentLogger log.Logger) {
	logger = parentLogger.New("module", "server")
}

// Run starts a http web server and websocket hub wired to the given Core,
// on the given address and port. cfg/apiKey are retained so the simulation
// object can rebuild a fresh Core on "restart".
func Run(c *railcore.Core, cfg railcore.Config, apiKey, addr, port string) {
	logger.Info("Starting server")
	core = c
	coreCfg = cfg
	coreAPIKey = apiKey
	if b, err := core.GetState().Snapshot(); err == nil {
		initialNetworkSnapshot = b
	} else {
		logger.Error("unable to snapshot initial network", "error", err)
	}
	hub = newHub()
	hub.objects["simulation"] = new(simulationObject)
	hub.objects["resolutions"] = new(resolutionsObject)
	startMetricsTicker()

	hubUp := make(chan bool)
	timer := time.After(MaxHubStartupTime)
	go func() {
		go hub.run()
		close(hubUp)
	}()
	select {
	case <-hubUp:
		HttpdStart(addr, port)
		os.Exit(1)
	case <-timer:
		log.Crit("Hub did not start")
		os.Exit(1)
	}
}

// HttpdStart starts the server which serves on the following routes:
//
//    / - Serves a small HTTP status page and the WebSocket client endpoint.
//
//    /ws - WebSocket endpoint for simulation control and resolution flows.
func HttpdStart(addr, port string) {
	homeTempl = template.Must(template.New("home").Parse(homePageHTML))

	http.HandleFunc("/", serveHome)
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) { serveWs(hub, w, r) })
	installHTTPAPI()

	serverAddress := fmt.Sprintf("%s:%s", addr, port)
	logger.Info("Starting HTTP", "submodule", "http", "address", serverAddress)
	err := http.ListenAndServe(serverAddress, nil)
	logger.Crit("HTTP crashed", "submodule", "http", "error", err)
}

// serveHome serves a minimal status page with a WebSocket client endpoint.
func serveHome(w http.ResponseWriter, r *http.Request) {
	logger.Debug("New HTTP connection", "submodule", "http", "remote", r.RemoteAddr)
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Host string
		Tick int
	}{
		Host: "ws://" + r.Host + "/ws",
	}
	homeTempl.Execute(w, data)
}

var homeTempl *template.Template

const homePageHTML = `<!DOCTYPE html>
<html>
<head><title>railcore</title></head>
<body>
<h1>railcore</h1>
<p>Real-time railway conflict management core. WebSocket endpoint: <code>{{.Host}}</code></p>
</body>
</html>
`

// writeJSON marshals v as the response body, or writes a 500 on failure.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", "error", err)
	}
}
