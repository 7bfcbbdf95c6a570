// Command topogen generates a topology and the clustered overlays of it.
//
// It writes <model>_nodes<N>.json for the generated graph and one
// <model>_nodes<N>_k<K>.json per requested cluster count.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gossipsim/internal/cluster"
	"gossipsim/internal/logging"
	"gossipsim/internal/overlay"
	"gossipsim/internal/topology"
)

func main() {
	var (
		model        = flag.String("model", "BA", "topology model: ER or BA")
		nodes        = flag.Int("nodes", 10, "number of nodes")
		p            = flag.Float64("p", 0.3, "ER edge probability")
		m            = flag.Int("m", 2, "BA attachment count")
		minLatency   = flag.Float64("min-latency", 1, "minimum link latency in ms")
		maxLatency   = flag.Float64("max-latency", 100, "maximum link latency in ms")
		fixedLatency = flag.Float64("fixed-latency", 0, "use one latency for every link when > 0")
		seed         = flag.Int64("seed", 1, "random seed")
		targetDegree = flag.Float64("target-degree", 0, "regenerate until the average degree is close to this")
		attempts     = flag.Int("attempts", 10, "max generation attempts with -target-degree")
		clusters     = flag.String("clusters", "", "comma-separated cluster counts, e.g. 2,3,5")
		outDir       = flag.String("out", "topologies", "output directory")
		logLevel     = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "topogen: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	mdl, err := topology.ParseModel(*model)
	if err != nil {
		logger.Fatal("invalid model", zap.Error(err))
	}
	ks, err := parseCounts(*clusters)
	if err != nil {
		logger.Fatal("invalid cluster counts", zap.Error(err))
	}

	latency := topology.Latency{Min: *minLatency, Max: *maxLatency}
	if *fixedLatency > 0 {
		latency = topology.FixedLatency(*fixedLatency)
	}

	res, err := topology.Generate(topology.Params{
		Nodes:        *nodes,
		Model:        mdl,
		P:            *p,
		M:            *m,
		Latency:      latency,
		Seed:         *seed,
		TargetDegree: *targetDegree,
		MaxAttempts:  *attempts,
	})
	if err != nil {
		logger.Fatal("generate topology", zap.Error(err))
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Fatal("create output directory", zap.Error(err))
	}
	rawPath := filepath.Join(*outDir, topology.FileName(mdl, *nodes, 0))
	if err := topology.WriteFile(rawPath, &topology.Topology{Graph: res.Graph}); err != nil {
		logger.Fatal("write topology", zap.Error(err))
	}
	logger.Info("generated topology",
		zap.String("path", rawPath),
		zap.String("model", string(mdl)),
		zap.Int("nodes", res.Graph.NumNodes()),
		zap.Int("edges", res.Graph.NumEdges()),
		zap.Float64("avg_degree", res.AverageDegree),
		zap.Int("repair_edges", res.RepairEdges),
		zap.Int64("seed", res.Seed),
		zap.Int("attempts", res.Attempts))

	if len(ks) == 0 {
		return
	}
	d, err := res.Graph.ShortestPathLengths()
	if err != nil {
		logger.Fatal("all-pairs shortest paths", zap.Error(err))
	}

	failed := false
	for _, k := range ks {
		start := time.Now()
		part, err := cluster.Build(res.Graph, d, cluster.Options{K: k, Seed: *seed})
		if err != nil {
			logger.Error("cluster topology", zap.Int("k", k), zap.Error(err))
			failed = true
			continue
		}
		ov, err := overlay.Build(res.Graph, part)
		if err != nil {
			logger.Error("build overlay", zap.Int("k", k), zap.Error(err))
			failed = true
			continue
		}
		elapsed := time.Since(start)
		if err := overlay.VerifyProvenance(res.Graph, ov.Graph); err != nil {
			logger.Error("overlay provenance", zap.Int("k", k), zap.Error(err))
			failed = true
			continue
		}

		path := filepath.Join(*outDir, topology.FileName(mdl, *nodes, k))
		err = topology.WriteFile(path, &topology.Topology{
			Graph:                 ov.Graph,
			TotalClusters:         k,
			TotalClusteringTimeMs: float64(elapsed) / float64(time.Millisecond),
		})
		if err != nil {
			logger.Fatal("write overlay", zap.Error(err))
		}
		logger.Info("built overlay",
			zap.String("path", path),
			zap.Int("k", k),
			zap.Int("edges", ov.Graph.NumEdges()),
			zap.Int("intra_edges", ov.IntraEdges),
			zap.Int("bridges", len(ov.Bridges)),
			zap.Int("repair_moves", part.Moves),
			zap.Strings("medoids", part.Medoids()),
			zap.Duration("elapsed", elapsed))
	}
	if failed {
		os.Exit(1)
	}
}

func parseCounts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("cluster count %q: %w", part, err)
		}
		if k < 1 {
			return nil, fmt.Errorf("cluster count must be >= 1, got %d", k)
		}
		out = append(out, k)
	}
	return out, nil
}
