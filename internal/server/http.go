package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const (
	httpLogPrefix  = "server:http"
	maxRequestBody = 1 << 20
)

// HealthChecks reports each dependency.
type HealthChecks struct {
	Database bool `json:"database"`
	Bridge   bool `json:"bridge"`
}

// HealthOutput is the /health body.
type HealthOutput struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// Handler returns the HTTP routes: the home page, /health, /ready and, when
// enabled, POST /rpc.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if s.cfg.HTTPRPCEnabled {
		mux.HandleFunc("/rpc", s.handleRPC)
	}
	return mux
}

// Health checks the store and the bridge connection.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	checks := HealthChecks{
		Database: s.store != nil && s.store.Ping(ctx) == nil,
		Bridge:   s.nc != nil && s.nc.IsConnected(),
	}
	status := "healthy"
	if !checks.Database || !checks.Bridge {
		status = "unhealthy"
	}
	return &HealthOutput{
		Status:    status,
		Version:   s.cfg.AppVersion,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// handleRPC resolves one wire request sent as the POST body. The status code
// is derived from the failures the request produced.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeReply(w, s.failure(rpcerror.Newf(rpcerror.CodeMethodNotSupported, "Unsupported HTTP method %s", r.Method)))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.writeReply(w, s.failure(rpcerror.Wrap(rpcerror.CodeBadRequest, err, "Unable to read request body")))
		return
	}

	var req codec.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeReply(w, s.failure(rpcerror.Wrap(rpcerror.CodeParseError, err, "Unable to parse request: "+err.Error())))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	reply := s.http.Resolve(ctx, &req)
	reply.StampID(req.ID)
	s.writeReply(w, reply)
}

// failure builds the reply of a request rejected before it was decoded.
func (s *Server) failure(e *rpcerror.Error) codec.Reply {
	return codec.Reply{
		Envelopes: []codec.Envelope{codec.ErrorEnvelope(s.http.Options().Codec.ShapeError(e, codec.CallMeta{}))},
		Errors:    []*rpcerror.Error{e},
	}
}

func (s *Server) writeReply(w http.ResponseWriter, reply codec.Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.HTTPStatus())
	if _, err := w.Write(s.http.Encode(reply)); err != nil {
		slog.Warn(fmt.Sprintf("%s - write reply: %v", httpLogPrefix, err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn(fmt.Sprintf("%s - encode response: %v", httpLogPrefix, err))
	}
}

// homePageTemplate is the HTML for the host status page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>App Host</title>
  <style>
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 700px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
  </style>
</head>
<body>
  <h1>App Host {{.Health.Version}}</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Database: {{if .Health.Checks.Database}}OK{{else}}Failed{{end}}, bridge: {{if .Health.Checks.Bridge}}OK{{else}}Failed{{end}}</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Procedures</h2>
    <table>
      <thead><tr><th>Path</th></tr></thead>
      <tbody>
        {{range .Procedures}}<tr><td>{{.}}</td></tr>
        {{end}}
      </tbody>
    </table>
    <p>Request subject: {{.Subject}}{{if .HTTPRPC}}, HTTP binding at POST /rpc{{end}}</p>
  </section>
</body>
</html>
`

type homeData struct {
	Health     *HealthOutput
	Procedures []string
	Subject    string
	HTTPRPC    bool
}

func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Health:     s.Health(ctx),
			Procedures: s.reg.Paths(),
			Subject:    s.cfg.RPCSubjectOrDefault(),
			HTTPRPC:    s.cfg.HTTPRPCEnabled,
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
