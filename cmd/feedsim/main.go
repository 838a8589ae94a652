// Command feedsim drives the score engine with synthetic two-feed traffic
// for manual verification: paired events with configurable arrival skew,
// plus a fraction of lone events that must settle by timeout.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	app "github.com/beatkit/tempo/internal/app"
	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/pkg/logger"
)

// Default simulation constants.
const (
	defaultPlays       = 200
	defaultPlayers     = 20
	defaultCharts      = 30
	defaultSkew        = 50 * time.Millisecond
	defaultWindow      = 2 * time.Second
	defaultLoneFrac    = 0.2
	defaultSettleGrace = 3 * time.Second
)

func main() {
	var (
		plays    = flag.Int("plays", defaultPlays, "Number of plays to simulate")
		players  = flag.Int("players", defaultPlayers, "Number of distinct players")
		charts   = flag.Int("charts", defaultCharts, "Number of distinct charts")
		skew     = flag.Duration("skew", defaultSkew, "Delay between the two feed deliveries of a play")
		window   = flag.Duration("window", defaultWindow, "Correlation deadline window")
		loneFrac = flag.Float64("lone", defaultLoneFrac, "Fraction of plays delivered by one feed only")
		seed     = flag.Int64("seed", 42, "Random seed")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	_ = logger.SetLevelString("warn")

	ctx := context.Background()
	svc := app.New(app.WithCorrelationWindow(*window))
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	rng := rand.New(rand.NewSource(*seed))
	hashes := make([]string, *charts)
	for i := range hashes {
		hashes[i] = uuid.NewString()[:8]
	}

	lone := 0
	for i := 0; i < *plays; i++ {
		playerID := fmt.Sprintf("player-%d", rng.Intn(*players))
		chart := model.ChartIdentity{
			SongHash:       hashes[rng.Intn(len(hashes))],
			Difficulty:     "ExpertPlus",
			Characteristic: "Standard",
		}
		value := int64(500000 + rng.Intn(500000))
		acc := 0.80 + rng.Float64()*0.19

		live := model.ScoreEvent{
			Source:   model.SourceLive,
			ScoreID:  uuid.NewString(),
			PlayerID: playerID,
			Chart:    chart,
			Value:    value,
			Accuracy: acc,
			Rank:     1 + rng.Intn(1000),
			SetAt:    time.Now(),
		}
		if err := svc.OnEvent(ctx, live); err != nil {
			os.Stderr.WriteString("live event rejected: " + err.Error() + "\n")
			continue
		}

		if rng.Float64() < *loneFrac {
			lone++
			continue
		}

		time.Sleep(*skew)
		deep := live
		deep.Source = model.SourceDeep
		deep.Enrichment = &model.Enrichment{
			LeftHandAccuracy:  acc - 0.01,
			RightHandAccuracy: acc + 0.01,
			Headset:           []string{"quest3", "index", "pico4"}[rng.Intn(3)],
		}
		if err := svc.OnEvent(ctx, deep); err != nil {
			os.Stderr.WriteString("deep event rejected: " + err.Error() + "\n")
		}
	}

	// Let lone events expire and workers drain.
	time.Sleep(*window + defaultSettleGrace)

	stats := svc.Stats(ctx)
	fmt.Printf("plays submitted:   %d (%d lone)\n", *plays, lone)
	fmt.Printf("current scores:    %v\n", stats["currentScores"])
	fmt.Printf("archived scores:   %v\n", stats["archivedScores"])
	fmt.Printf("pending matches:   %v\n", stats["pendingMatches"])
	fmt.Printf("queue length:      %v\n", stats["queueLength"])
}
