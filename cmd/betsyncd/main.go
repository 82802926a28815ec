// betsyncd is the prediction-dashboard sync daemon. It keeps the dashboard
// stores in sync with the prediction backend, falling back to public
// scoreboards and static fixtures when the backend is down, and streams
// updates to dashboard clients over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhorman10/betsync/pkg/cache"
	"github.com/jhorman10/betsync/pkg/connectivity"
	"github.com/jhorman10/betsync/pkg/dashboard"
	"github.com/jhorman10/betsync/pkg/fetch"
	"github.com/jhorman10/betsync/pkg/metrics"
	"github.com/jhorman10/betsync/pkg/poller"
	"github.com/jhorman10/betsync/pkg/reconcile"
	"github.com/jhorman10/betsync/pkg/sportsdata"
	"github.com/jhorman10/betsync/pkg/sportsdata/backend"
	"github.com/jhorman10/betsync/pkg/sportsdata/scoreboard"
	"github.com/jhorman10/betsync/pkg/streaming"
)

var (
	// Flags
	httpAddr      = flag.String("http", ":8090", "HTTP server address")
	backendURL    = flag.String("backend", "http://localhost:8000", "Prediction backend base URL")
	cacheDir      = flag.String("cache-dir", defaultCacheDir(), "Directory for the persistent cache")
	cacheQuota    = flag.Int64("cache-quota", 8<<20, "Cache size quota in bytes (0 = unlimited)")
	leagues       = flag.String("leagues", "premier-league,la-liga,serie-a,bundesliga,ligue-1", "League slugs for the scoreboard fan-out")
	liveInterval  = flag.Duration("live-interval", 30*time.Second, "Live match poll interval")
	predsInterval = flag.Duration("predictions-interval", 2*time.Minute, "Predictions poll interval")
	botInterval   = flag.Duration("bot-interval", 5*time.Minute, "Bot stats poll interval")
	idlePoll      = flag.Bool("idle-poll", false, "Keep polling while no dashboard client is connected")
)

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/betsync"
	}
	return ".betsync-cache"
}

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("Starting betsync daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d, err := newDaemon(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize daemon: %v", err)
	}

	d.start(ctx)
	go d.startHTTP()

	log.Printf("Daemon running (backend=%s, http=%s)", *backendURL, *httpAddr)
	log.Printf("WebSocket streaming available at ws://%s/ws", *httpAddr)

	<-sigCh
	log.Println("Shutting down...")

	d.stop()
	cancel()
	log.Println("Goodbye!")
}

type daemon struct {
	kv      *cache.Cache
	client  *backend.Client
	monitor *connectivity.Monitor
	metrics *metrics.SyncMetrics
	hub     *streaming.Hub
	orch    *reconcile.Orchestrator

	live  *dashboard.LiveMatchStore
	preds *dashboard.PredictionStore
	lgs   *dashboard.LeagueStore
	bot   *dashboard.BotStatsStore
	picks *dashboard.PickService

	pollers []*poller.Poller
	server  *http.Server
	unbind  func()
}

func newDaemon(ctx context.Context) (*daemon, error) {
	d := &daemon{
		monitor: connectivity.NewMonitor(),
		metrics: metrics.NewSyncMetrics(),
		hub:     streaming.NewHub(),
	}

	store, err := cache.NewFileStore(*cacheDir, *cacheQuota)
	if err != nil {
		return nil, err
	}
	d.kv = cache.New(store, cache.WithEventObserver(d.metrics.RecordCacheEvent))

	client := backend.NewClient(*backendURL)
	d.client = client
	boards := scoreboard.NewClient()
	slugs := strings.Split(*leagues, ",")

	d.live = dashboard.NewLiveMatchStore(client, boards, d.monitor, d.kv, slugs)
	d.preds = dashboard.NewPredictionStore(client, d.monitor, d.kv, slugs[0])
	d.lgs = dashboard.NewLeagueStore(client, d.monitor, d.kv)
	d.bot = dashboard.NewBotStatsStore(client, d.monitor, d.kv)
	d.picks = dashboard.NewPickService(client, d.monitor, d.kv)

	d.live.OnAttempt(func(a fetch.Attempt) {
		d.metrics.RecordFetchAttempt("live-matches", a.Source, a.Count, a.Err)
	})
	d.lgs.OnAttempt(func(a fetch.Attempt) {
		d.metrics.RecordFetchAttempt("leagues", a.Source, a.Count, a.Err)
	})
	d.lgs.OnUpdate(func(leagues []sportsdata.League, tier string) {
		d.metrics.RecordFetchServed("leagues", tier)
	})
	d.live.OnUpdate(func(matches []sportsdata.Match, tier string) {
		d.metrics.RecordFetchServed("live-matches", tier)
		d.hub.BroadcastMatches(matches)
	})

	d.orch = reconcile.NewOrchestrator(d.monitor)
	d.orch.Register(d.live)
	d.orch.Register(d.preds)
	d.orch.Register(d.lgs)
	d.orch.Register(d.bot)
	d.orch.OnComplete(func(report reconcile.Report) {
		d.metrics.RecordReconcile(report.Failed, report.Duration.Seconds())
		d.hub.BroadcastReconcile(report)
	})

	d.monitor.Subscribe(func(prev, cur connectivity.State) {
		d.metrics.UpdateConnectivity(cur.Online, cur.BackendReachable)
		d.hub.BroadcastConnectivity(cur)
	})
	d.metrics.UpdateConnectivity(true, true)

	d.pollers = []*poller.Poller{
		d.newPoller("live-matches", *liveInterval, func(ctx context.Context) error {
			err := d.live.Refresh(ctx, true)
			if err != nil {
				d.hub.BroadcastError(err, "live-matches")
			}
			return err
		}),
		d.newPoller("predictions", *predsInterval, func(ctx context.Context) error {
			err := d.preds.Refresh(ctx, true)
			if err == nil {
				d.hub.BroadcastPredictions(d.preds.Snapshot())
			}
			return err
		}),
		d.newPoller("bot-stats", *botInterval, func(ctx context.Context) error {
			return d.bot.Refresh(ctx, true)
		}),
	}

	// The hub is the daemon's visibility signal: polling pauses while no
	// dashboard client is watching, and regaining an observer triggers a
	// catch-up reconciliation.
	d.hub.OnClientCount(func(n int) {
		d.metrics.DashboardClients.Set(float64(n))
	})
	d.hub.OnObserved(func(observed bool) {
		d.setObserved(ctx, observed)
	})

	return d, nil
}

// setObserved applies a dashboard-visibility transition. With -idle-poll the
// pollers stay visible regardless of client count; the catch-up
// reconciliation on a regained observer runs either way.
func (d *daemon) setObserved(ctx context.Context, observed bool) {
	if !*idlePoll {
		for _, p := range d.pollers {
			p.SetVisible(observed)
		}
	}
	if observed {
		d.orch.NotifyVisible(ctx)
	}
}

func (d *daemon) newPoller(name string, interval time.Duration, refresh func(ctx context.Context) error) *poller.Poller {
	return poller.New(name, interval,
		func(ctx context.Context) error {
			err := refresh(ctx)
			d.metrics.RecordPoll(name, err)
			return err
		},
		poller.WithBackoffObserver(func(m int) { d.metrics.SetBackoff(name, m) }),
	)
}

func (d *daemon) start(ctx context.Context) {
	go d.hub.Run(ctx)
	go d.kv.Watch(ctx, 2*time.Second)

	d.unbind = d.orch.Bind(ctx)

	// Initial blocking load so /status is meaningful immediately.
	d.lgs.Refresh(ctx, false)
	d.live.Refresh(ctx, false)

	for _, p := range d.pollers {
		if !*idlePoll {
			p.SetVisible(d.hub.ClientCount() > 0)
		}
		p.Start(ctx)
	}
}

func (d *daemon) stop() {
	for _, p := range d.pollers {
		p.Stop()
	}
	if d.unbind != nil {
		d.unbind()
	}
	d.kv.FlushAll()

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.server.Shutdown(shutdownCtx)
	}
}

func (d *daemon) startHTTP() {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"connectivity":          d.monitor.State(),
			"reconcile_in_progress": d.orch.InProgress(),
			"dashboard_clients":     d.hub.ClientCount(),
		})
	})

	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.live.Snapshot())
	})

	mux.HandleFunc("/predictions", func(w http.ResponseWriter, r *http.Request) {
		if league := r.URL.Query().Get("league"); league != "" && league != d.preds.League() {
			d.preds.SetLeague(league)
			d.preds.Refresh(r.Context(), false)
		}
		writeJSON(w, d.preds.Snapshot())
	})

	mux.HandleFunc("/leagues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.lgs.Snapshot())
	})

	mux.HandleFunc("/bot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.bot.Snapshot())
	})

	mux.HandleFunc("/matches/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/matches/")
		if id, ok := strings.CutSuffix(rest, "/picks"); ok {
			picks, err := d.picks.Picks(r.Context(), id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeJSON(w, picks)
			return
		}
		match, err := d.picks.MatchDetails(r.Context(), rest)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, match)
	})

	mux.HandleFunc("/feedback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var fb sportsdata.Feedback
		if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.picks.SubmitFeedback(r.Context(), fb); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"status": "accepted"})
	})

	mux.HandleFunc("/training/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := d.client.StartTraining(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"status": "started"})
	})

	mux.HandleFunc("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ran := d.orch.ReconcileAll(r.Context(), "manual")
		writeJSON(w, map[string]bool{"ran": ran})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", d.hub.ServeWS)

	d.server = &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("HTTP server listening on %s", *httpAddr)
	if err := d.server.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("HTTP server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
