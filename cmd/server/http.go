package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"pixelcanvas.io/internal/sim/multiworld"
	"pixelcanvas.io/internal/sim/world"
	"pixelcanvas.io/internal/transport/observer"
	"pixelcanvas.io/internal/transport/ws"
)

type routerDeps struct {
	worlds  *multiworld.Registry
	builder *worldBuilder
	mirror  *s3MirrorRuntime
	logger  *log.Logger
	admin   bool
	pprof   bool
}

func buildRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	r.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, d)
	})

	wsSrv := ws.NewServer(d.worlds, d.logger)
	r.HandleFunc("/ws", wsSrv.Handler())
	r.HandleFunc("/ws/{world}", wsSrv.Handler())

	if d.admin {
		// Local-only admin endpoints.
		r.HandleFunc("/admin/v1/worlds", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			out := map[string]world.Stats{}
			for _, rt := range d.worlds.Runtimes() {
				out[rt.Spec.ID] = rt.World.Stats()
			}
			writeJSON(rw, http.StatusOK, out)
		})).Methods(http.MethodGet)
		r.HandleFunc("/admin/v1/worlds/{world}/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			worldID := mux.Vars(r)["world"]
			ex := d.builder.extras(worldID)
			if d.worlds.Lookup(worldID) == nil || ex == nil {
				http.Error(rw, "world not found", http.StatusNotFound)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			defer cancel()
			path, err := ex.snaps.Take(ctx)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "world": worldID, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "world": worldID, "path": path})
		})).Methods(http.MethodPost)

		obsSrv := observer.NewServer(d.worlds, d.logger)
		r.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		r.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	}
	if d.pprof {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
	return r
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(rw http.ResponseWriter, d routerDeps) {
	runtimes := d.worlds.Runtimes()

	fmt.Fprintf(rw, "# HELP pixelcanvas_worlds Running worlds.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_worlds gauge\n")
	fmt.Fprintf(rw, "pixelcanvas_worlds %d\n", len(runtimes))

	gauges := []struct {
		name, help string
		get        func(world.Stats) float64
	}{
		{"pixelcanvas_world_sessions", "Connected sessions.", func(s world.Stats) float64 { return float64(s.Sessions) }},
		{"pixelcanvas_world_loaded_chunks", "Resident chunks.", func(s world.Stats) float64 { return float64(s.LoadedChunks) }},
		{"pixelcanvas_world_dirty_chunks", "Chunks waiting for the saver.", func(s world.Stats) float64 { return float64(s.DirtyChunks) }},
		{"pixelcanvas_world_lines", "Lines in the overlay log.", func(s world.Stats) float64 { return float64(s.Lines) }},
		{"pixelcanvas_world_quota_actors", "Actors with quota buckets.", func(s world.Stats) float64 { return float64(s.QuotaActors) }},
	}
	counters := []struct {
		name, help string
		get        func(world.Stats) uint64
	}{
		{"pixelcanvas_world_batches_total", "Broadcast batches flushed.", func(s world.Stats) uint64 { return s.Batches }},
		{"pixelcanvas_world_updates_total", "Updates broadcast.", func(s world.Stats) uint64 { return s.Updates }},
		{"pixelcanvas_world_chunks_served_total", "Chunks sent in load replies.", func(s world.Stats) uint64 { return s.ChunksServed }},
		{"pixelcanvas_world_chunk_loads_total", "Chunk loads from the backend.", func(s world.Stats) uint64 { return s.ChunkLoads }},
		{"pixelcanvas_world_chunk_load_errors_total", "Failed chunk loads.", func(s world.Stats) uint64 { return s.LoadErrors }},
		{"pixelcanvas_world_parked_total", "Actions parked waiting for chunk loads.", func(s world.Stats) uint64 { return s.Parked }},
		{"pixelcanvas_world_slow_drops_total", "Sessions dropped for a full queue.", func(s world.Stats) uint64 { return s.SlowDrops }},
	}

	stats := make([]world.Stats, 0, len(runtimes))
	for _, rt := range runtimes {
		stats = append(stats, rt.World.Stats())
	}
	for _, g := range gauges {
		fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name)
		for _, s := range stats {
			fmt.Fprintf(rw, "%s{world=%q} %g\n", g.name, s.ID, g.get(s))
		}
	}
	for _, c := range counters {
		fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
		for _, s := range stats {
			fmt.Fprintf(rw, "%s{world=%q} %d\n", c.name, s.ID, c.get(s))
		}
	}

	fmt.Fprintf(rw, "# HELP pixelcanvas_world_rejects_total Rejected actions by code.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_world_rejects_total counter\n")
	for _, s := range stats {
		codes := make([]string, 0, len(s.Rejects))
		for code := range s.Rejects {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Fprintf(rw, "pixelcanvas_world_rejects_total{world=%q,code=%q} %d\n", s.ID, code, s.Rejects[code])
		}
	}

	fmt.Fprintf(rw, "# HELP pixelcanvas_persist_saves_total Successful saver flushes.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_persist_saves_total counter\n")
	for _, s := range stats {
		if ex := d.builder.extras(s.ID); ex != nil && ex.saver != nil {
			fmt.Fprintf(rw, "pixelcanvas_persist_saves_total{world=%q} %d\n", s.ID, ex.saver.Stats().Saves)
		}
	}
	fmt.Fprintf(rw, "# HELP pixelcanvas_persist_errors_total Failed saver flushes.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_persist_errors_total counter\n")
	for _, s := range stats {
		if ex := d.builder.extras(s.ID); ex != nil && ex.saver != nil {
			fmt.Fprintf(rw, "pixelcanvas_persist_errors_total{world=%q} %d\n", s.ID, ex.saver.Stats().Errors)
		}
	}
	fmt.Fprintf(rw, "# HELP pixelcanvas_audit_dropped_total Audit entries dropped on a full queue.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_audit_dropped_total counter\n")
	for _, s := range stats {
		if ex := d.builder.extras(s.ID); ex != nil && ex.audit != nil {
			fmt.Fprintf(rw, "pixelcanvas_audit_dropped_total{world=%q} %d\n", s.ID, ex.audit.Dropped())
		}
	}

	writeMirrorMetrics(rw, d.mirror)
}

func writeMirrorMetrics(rw http.ResponseWriter, mirror *s3MirrorRuntime) {
	s, ok := mirror.Stats()
	if !ok {
		return
	}
	fmt.Fprintf(rw, "# HELP pixelcanvas_s3_mirror_queue_depth Current mirror queue depth.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_s3_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "pixelcanvas_s3_mirror_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP pixelcanvas_s3_mirror_dropped_total Files dropped on a full queue.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_s3_mirror_dropped_total counter\n")
	fmt.Fprintf(rw, "pixelcanvas_s3_mirror_dropped_total %d\n", s.DroppedTotal)

	fmt.Fprintf(rw, "# HELP pixelcanvas_s3_mirror_skipped_total Files skipped because they left the data dir or were pruned.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_s3_mirror_skipped_total counter\n")
	fmt.Fprintf(rw, "pixelcanvas_s3_mirror_skipped_total %d\n", s.SkippedTotal)

	fmt.Fprintf(rw, "# HELP pixelcanvas_s3_mirror_upload_success_total Successful uploads.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_s3_mirror_upload_success_total counter\n")
	fmt.Fprintf(rw, "pixelcanvas_s3_mirror_upload_success_total %d\n", s.UploadSuccessTotal)

	fmt.Fprintf(rw, "# HELP pixelcanvas_s3_mirror_upload_fail_total Failed uploads after retry.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_s3_mirror_upload_fail_total counter\n")
	fmt.Fprintf(rw, "pixelcanvas_s3_mirror_upload_fail_total %d\n", s.UploadFailTotal)

	fmt.Fprintf(rw, "# HELP pixelcanvas_s3_mirror_last_success_unix Unix time of the last successful upload.\n")
	fmt.Fprintf(rw, "# TYPE pixelcanvas_s3_mirror_last_success_unix gauge\n")
	fmt.Fprintf(rw, "pixelcanvas_s3_mirror_last_success_unix %d\n", s.LastSuccessUnix)
}
