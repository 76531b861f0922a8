package orchestrator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/rocm-bench/pkg/logging"
)

// StatusServer exposes run progress and Prometheus metrics while a
// nightly run is in flight. Read-only; it never feeds back into
// orchestration decisions.
type StatusServer struct {
	orch    *Orchestrator
	metrics *Metrics
	log     *logging.Logger
	server  *http.Server
}

// NewStatusServer creates the status server
func NewStatusServer(addr string, orch *Orchestrator, metrics *Metrics, log *logging.Logger) *StatusServer {
	s := &StatusServer{orch: orch, metrics: metrics, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start serves in the background until Stop
func (s *StatusServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("Status server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	s.log.Info("Status server listening", map[string]interface{}{"addr": s.server.Addr})
}

// Stop shuts the server down
func (s *StatusServer) Stop() {
	_ = s.server.Close()
}

// statusResponse is the /status payload
type statusResponse struct {
	RunID      string            `json:"run_id"`
	Hardware   string            `json:"hardware"`
	Tasks      map[string]string `json:"tasks"`
	HostCPUPct float64           `json:"host_cpu_pct"`
	HostMemPct float64           `json:"host_mem_pct"`
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	states := s.orch.TaskStates()
	resp := statusResponse{
		RunID:    s.orch.RunID(),
		Hardware: s.orch.cfg.Hardware,
		Tasks:    make(map[string]string, len(states)),
	}
	for name, state := range states {
		resp.Tasks[name] = string(state)
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		resp.HostCPUPct = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.HostMemPct = vm.UsedPercent
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
