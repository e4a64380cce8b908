package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/gateway"
	"github.com/bizarik/brkTrd-zr0/internal/models"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
	"github.com/bizarik/brkTrd-zr0/internal/opportunity"
	"github.com/bizarik/brkTrd-zr0/internal/pipeline"
	"github.com/bizarik/brkTrd-zr0/internal/scheduler"
	"github.com/bizarik/brkTrd-zr0/internal/sentiment"
	"github.com/bizarik/brkTrd-zr0/internal/store"
)

func main() {
	var cfgPath string
	var listenAddr string
	var autoStart bool
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	flag.BoolVar(&autoStart, "autostart", true, "start the scheduler on boot")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			observ.LogError("config_load_failed", err, map[string]any{"path": cfgPath})
			os.Exit(1)
		}
		cfg = config.Default()
		observ.Log("config_defaults", map[string]any{"path": cfgPath})
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if len(cfg.Portfolios) == 0 {
		cfg.Portfolios = []int{1, 2}
	}
	if len(cfg.Sentiment.Models) == 0 {
		cfg.Sentiment.Models = []config.ModelConfig{
			{ID: "llama-3.3-70b-versatile", Provider: "groq", Weight: 1, Enabled: true},
			{ID: "llama-3.1-8b-instant", Provider: "groq", Weight: 0.8, Enabled: true},
			{ID: "deepseek/deepseek-chat", Provider: "openrouter", Weight: 1, Enabled: true},
		}
	}
	mgr := config.NewManager(cfg, cfgPath)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		observ.LogError("store_open_failed", err, map[string]any{"path": cfg.Store.Path})
		os.Exit(1)
	}
	defer st.Close()

	sim := gateway.NewSimSource(time.Now().UnixNano())
	catalog := sentiment.NewCatalog(sim)
	orch := sentiment.NewOrchestrator(sim, catalog, func() config.Sentiment { return mgr.Current().Sentiment })
	gen := opportunity.NewGenerator(st)
	pipe := pipeline.New(mgr.Current, st, sim, sim, orch, gen)

	sched := scheduler.New(mgr.Current().Scheduler, scheduler.Jobs{
		Ingest:  pipe.Ingest,
		Hygiene: pipe.Hygiene,
	})
	if autoStart {
		if err := sched.Start(); err != nil {
			observ.LogError("scheduler_start_failed", err, nil)
			os.Exit(1)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/headlines", func(w http.ResponseWriter, r *http.Request) {
		handleHeadlines(w, r, st)
	})
	mux.HandleFunc("/api/aggregates", func(w http.ResponseWriter, r *http.Request) {
		handleAggregates(w, r, st)
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		handleStats(w, r, st)
	})
	mux.HandleFunc("/api/opportunities", func(w http.ResponseWriter, r *http.Request) {
		handleOpportunities(w, r, st)
	})
	mux.HandleFunc("/api/scheduler/", func(w http.ResponseWriter, r *http.Request) {
		handleScheduler(w, r, sched)
	})
	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		handleConfig(w, r, mgr)
	})
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/health", observ.HealthHandler())

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		observ.Log("listen", map[string]any{"addr": cfg.ListenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogError("http_serve_failed", err, nil)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	observ.Log("shutdown_begin", nil)
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	observ.Log("shutdown_complete", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func handleHeadlines(w http.ResponseWriter, r *http.Request, st *store.Store) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	since := time.Now().UTC().Add(-time.Duration(queryInt(r, "since_hours", 24)) * time.Hour)
	includeDup := r.URL.Query().Get("include_duplicates") == "true"

	var hs []models.Headline
	var err error
	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		hs, err = st.HeadlinesForTickerSince(strings.ToUpper(ticker), since)
	} else {
		hs, err = st.HeadlinesSince(since)
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !includeDup {
		kept := hs[:0]
		for _, h := range hs {
			if !h.IsDuplicate {
				kept = append(kept, h)
			}
		}
		hs = kept
	}
	if hs == nil {
		hs = []models.Headline{}
	}
	writeJSON(w, http.StatusOK, hs)
}

func handleAggregates(w http.ResponseWriter, r *http.Request, st *store.Store) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	if id := r.URL.Query().Get("headline_id"); id != "" {
		agg, err := st.AggregateForHeadline(id)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if agg == nil {
			writeErr(w, http.StatusNotFound, "no aggregate for headline")
			return
		}
		writeJSON(w, http.StatusOK, agg)
		return
	}
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		writeErr(w, http.StatusBadRequest, "ticker or headline_id required")
		return
	}
	since := time.Now().UTC().Add(-time.Duration(queryInt(r, "since_hours", 24)) * time.Hour)
	aggs, err := st.AggregatesForTickerSince(strings.ToUpper(ticker), since)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if aggs == nil {
		aggs = []models.SentimentAggregate{}
	}
	writeJSON(w, http.StatusOK, aggs)
}

func handleStats(w http.ResponseWriter, r *http.Request, st *store.Store) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	ticker := strings.ToUpper(r.URL.Query().Get("ticker"))
	if ticker == "" {
		writeErr(w, http.StatusBadRequest, "ticker required")
		return
	}
	if window := r.URL.Query().Get("window"); window != "" {
		stat, err := st.Stat(ticker, models.StatWindow(window))
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if stat == nil {
			writeErr(w, http.StatusNotFound, "no stat for window")
			return
		}
		writeJSON(w, http.StatusOK, stat)
		return
	}
	stats, err := st.StatsForTicker(ticker)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		stats = []models.TickerBucketStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func handleOpportunities(w http.ResponseWriter, r *http.Request, st *store.Store) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	var ops []models.Opportunity
	var err error
	if status := r.URL.Query().Get("status"); status != "" {
		ops, err = st.OpportunitiesByStatus(models.OpportunityStatus(status))
	} else {
		ops, err = st.AllOpportunities()
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	dir := r.URL.Query().Get("direction")
	minScore := 0.0
	if v := r.URL.Query().Get("min_score"); v != "" {
		if f, perr := strconv.ParseFloat(v, 64); perr == nil {
			minScore = f
		}
	}
	kept := ops[:0]
	for _, o := range ops {
		if dir != "" && string(o.Direction) != dir {
			continue
		}
		if o.Score < minScore {
			continue
		}
		kept = append(kept, o)
	}
	ops = kept

	// Highest priority first, score as tiebreak.
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0; j-- {
			a, b := ops[j-1], ops[j]
			if b.Priority > a.Priority || (b.Priority == a.Priority && b.Score > a.Score) {
				ops[j-1], ops[j] = b, a
			} else {
				break
			}
		}
	}
	if limit := queryInt(r, "limit", 0); limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	if ops == nil {
		ops = []models.Opportunity{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func handleScheduler(w http.ResponseWriter, r *http.Request, sched *scheduler.Scheduler) {
	action := strings.TrimPrefix(r.URL.Path, "/api/scheduler/")
	switch action {
	case "status":
		writeJSON(w, http.StatusOK, sched.Status())
		return
	case "start", "stop", "pause", "resume":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
	default:
		writeErr(w, http.StatusNotFound, "unknown scheduler action")
		return
	}

	var err error
	switch action {
	case "start":
		err = sched.Start()
	case "stop":
		sched.Stop()
	case "pause":
		sched.Pause()
	case "resume":
		sched.Resume()
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sched.Status())
}

// configUpdate is the runtime-tunable subset of the config surface.
type configUpdate struct {
	Portfolios     []int                `json:"portfolios,omitempty"`
	Models         []config.ModelConfig `json:"models,omitempty"`
	LongThreshold  *float64             `json:"long_threshold,omitempty"`
	ShortThreshold *float64             `json:"short_threshold,omitempty"`
	MinConfidence  *float64             `json:"min_confidence,omitempty"`
	DedupThreshold *float64             `json:"dedup_threshold,omitempty"`
}

func handleConfig(w http.ResponseWriter, r *http.Request, mgr *config.Manager) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, mgr.Current())
	case http.MethodPut, http.MethodPost:
		var upd configUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		err := mgr.Update(func(c *config.Root) {
			if upd.Portfolios != nil {
				c.Portfolios = upd.Portfolios
			}
			if upd.Models != nil {
				c.Sentiment.Models = upd.Models
			}
			if upd.LongThreshold != nil {
				c.Opportunity.LongThreshold = *upd.LongThreshold
			}
			if upd.ShortThreshold != nil {
				c.Opportunity.ShortThreshold = *upd.ShortThreshold
			}
			if upd.MinConfidence != nil {
				c.Opportunity.MinConfidence = *upd.MinConfidence
			}
			if upd.DedupThreshold != nil {
				c.Dedup.Threshold = *upd.DedupThreshold
			}
		})
		if err != nil {
			writeErr(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, mgr.Current())
	default:
		writeErr(w, http.StatusMethodNotAllowed, "GET or PUT")
	}
}
