package rigio

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes exposes a raw call endpoint for each connection under
// /debug/. Requests are POSTs with "endpoint" naming the connection and
// "command" holding the request line.
func AttachAdminRoutes(mux *http.ServeMux, conns ...*Conn) {
	byName := make(map[string]*Conn, len(conns))
	for _, c := range conns {
		byName[c.Name()] = c
	}

	debug := tsweb.Debugger(mux)
	debug.HandleFunc("rig-endpoints", "rig service endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, c := range conns {
			fmt.Fprintln(w, c.Name())
		}
	})
	debug.HandleSilentFunc("rig-call", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		conn, ok := byName[r.FormValue("endpoint")]
		if !ok {
			http.Error(w, "Unknown endpoint", http.StatusNotFound)
			return
		}
		fields := strings.Fields(r.FormValue("command"))
		if len(fields) == 0 {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		payload, err := conn.Call(r.Context(), fields[0], fields[1:]...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		io.WriteString(w, payload)
	})
}
