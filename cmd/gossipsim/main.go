// Command gossipsim runs a whole topology in one process and reports how
// messages spread over it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gossipsim/internal/cluster"
	"gossipsim/internal/eventlog"
	"gossipsim/internal/gossip"
	"gossipsim/internal/graph"
	"gossipsim/internal/logging"
	"gossipsim/internal/overlay"
	"gossipsim/internal/sim"
	"gossipsim/internal/topology"
)

type report struct {
	Message      string             `json:"message"`
	Origin       string             `json:"origin"`
	Nodes        int                `json:"nodes"`
	Reached      int                `json:"reached"`
	Coverage     float64            `json:"coverage"`
	Duplicates   int                `json:"duplicates"`
	MaxArrivalMs float64            `json:"max_arrival_ms"`
	Slowest      []string           `json:"slowest"`
	ArrivalMs    map[string]float64 `json:"arrival_ms"`
}

func main() {
	var (
		file     = flag.String("topology", "", "topology file; generated when empty")
		model    = flag.String("model", "BA", "model for a generated topology")
		nodes    = flag.Int("nodes", 20, "node count for a generated topology")
		p        = flag.Float64("p", 0.3, "ER edge probability")
		m        = flag.Int("m", 2, "BA attachment count")
		seed     = flag.Int64("seed", 1, "random seed")
		k        = flag.Int("clusters", 0, "build a clustered overlay with this many clusters first")
		origins  = flag.String("origins", "0", "comma-separated origin node ids, one message each")
		mode     = flag.String("mode", "parallel", "fan-out mode: parallel or sequential")
		timeout  = flag.Duration("timeout", time.Minute, "time allowed for full coverage")
		events   = flag.Bool("events", false, "write every event to stdout")
		logLevel = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gossipsim: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	fanout, err := gossip.ParseFanoutMode(*mode)
	if err != nil {
		logger.Fatal("invalid mode", zap.Error(err))
	}

	g, err := loadGraph(*file, *model, *nodes, *p, *m, *seed)
	if err != nil {
		logger.Fatal("load topology", zap.Error(err))
	}
	if *k > 0 {
		if g, err = clusterOverlay(g, *k, *seed); err != nil {
			logger.Fatal("build overlay", zap.Error(err))
		}
	}

	opts := sim.Options{Mode: fanout, Logger: logger}
	if *events {
		opts.Sink = eventlog.NewWriter(os.Stdout)
	}
	network, err := sim.NewNetwork(g, opts)
	if err != nil {
		logger.Fatal("create network", zap.Error(err))
	}
	defer network.Close()

	ids := splitIDs(*origins)
	messages := make([]gossip.Message, len(ids))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	for i, origin := range ids {
		origin := origin
		messages[i] = gossip.NewMessage(origin, time.Now())
		msg := messages[i]
		eg.Go(func() error {
			if err := network.Trigger(ctx, origin, msg); err != nil {
				return err
			}
			return network.Wait(ctx, msg.ID, network.Len())
		})
	}
	waitErr := eg.Wait()
	if waitErr != nil {
		logger.Warn("not every message reached every node", zap.Error(waitErr))
	}

	recorded := network.Recorder.Events()
	reports := make([]report, len(ids))
	for i, msg := range messages {
		s := sim.Summarize(recorded, msg.ID, network.Len())
		arrivals := make(map[string]float64, len(s.FirstArrival))
		for id, d := range s.FirstArrival {
			arrivals[id] = ms(d)
		}
		reports[i] = report{
			Message:      msg.ID,
			Origin:       ids[i],
			Nodes:        s.Nodes,
			Reached:      s.Reached,
			Coverage:     s.Coverage(),
			Duplicates:   s.Duplicates,
			MaxArrivalMs: ms(s.MaxArrival),
			Slowest:      s.Slowest(),
			ArrivalMs:    arrivals,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		logger.Fatal("write report", zap.Error(err))
	}
	if waitErr != nil {
		os.Exit(1)
	}
}

func loadGraph(file, model string, nodes int, p float64, m int, seed int64) (*graph.Graph, error) {
	if file != "" {
		t, err := topology.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return t.Graph, nil
	}
	mdl, err := topology.ParseModel(model)
	if err != nil {
		return nil, err
	}
	res, err := topology.Generate(topology.Params{
		Nodes:   nodes,
		Model:   mdl,
		P:       p,
		M:       m,
		Latency: topology.Latency{Min: 1, Max: 100},
		Seed:    seed,
	})
	if err != nil {
		return nil, err
	}
	return res.Graph, nil
}

func clusterOverlay(g *graph.Graph, k int, seed int64) (*graph.Graph, error) {
	d, err := g.ShortestPathLengths()
	if err != nil {
		return nil, err
	}
	part, err := cluster.Build(g, d, cluster.Options{K: k, Seed: seed})
	if err != nil {
		return nil, err
	}
	ov, err := overlay.Build(g, part)
	if err != nil {
		return nil, err
	}
	return ov.Graph, nil
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
