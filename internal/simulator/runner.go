// Package simulator drives the scoring API with concurrent scorekeepers and
// verifies the resulting matches against the scoring rules.
package simulator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/internal/viewer"
	"github.com/okian/rally/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	reportPermission    = 0o600
)

const randomFloatDivisor = 1_000_000

// ErrVerification is returned when a played match breaks a scoring rule.
var ErrVerification = errors.New("verification failed")

// Run plays cfg.Matches matches to completion against the service at
// cfg.BaseURL and verifies each one.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	cfg.withDefaults()
	log := logger.Get().Named("simulator")
	client := NewClient(cfg.BaseURL, cfg.Timeout)
	start := time.Now()

	log.Info(ctx, "starting rally simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("sport", string(cfg.Sport)),
		logger.Int("matches", cfg.Matches),
		logger.Int("scorekeepers", cfg.Scorekeepers),
	)

	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	snaps := make([]types.Snapshot, 0, cfg.Matches)
	for i := 0; i < cfg.Matches; i++ {
		snap, err := client.CreateMatch(ctx, MatchRequest{
			Sport:    cfg.Sport,
			Category: "simulation",
			Home:     model.Team{Name: fmt.Sprintf("Home %d", i+1)},
			Away:     model.Team{Name: fmt.Sprintf("Away %d", i+1)},
		})
		if err != nil {
			return nil, fmt.Errorf("create match %d: %w", i+1, err)
		}
		snaps = append(snaps, snap)
	}

	stats := &Stats{}
	reports := make([]MatchReport, len(snaps))
	var wg sync.WaitGroup
	for i, snap := range snaps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = playMatch(ctx, cfg, client, snap.Match.ID, stats, log)
		}()
	}
	wg.Wait()

	report := &Report{
		Matches:   reports,
		Submitted: stats.Submitted.Load(),
		Accepted:  stats.Accepted.Load(),
		Rejected:  stats.Rejected.Load(),
		Conflicts: stats.Conflicts.Load(),
		Failed:    stats.Failed.Load(),
		Duration:  time.Since(start),
	}
	log.Info(ctx, "simulation finished",
		logger.Int64("submitted", report.Submitted),
		logger.Int64("accepted", report.Accepted),
		logger.Int64("rejected", report.Rejected),
		logger.Int64("conflicts", report.Conflicts),
		logger.Int64("failed", report.Failed),
		logger.Duration("duration", report.Duration),
	)

	if cfg.OutputFile != "" {
		if err := SaveReport(report, cfg.OutputFile); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}
	if !report.OK() {
		return report, ErrVerification
	}
	return report, nil
}

// playMatch runs the scorekeepers of one match while a viewer follows it,
// then verifies the final snapshot.
func playMatch(ctx context.Context, cfg Config, client *Client, matchID string, stats *Stats, log logger.Logger) MatchReport {
	var updates atomic.Int64
	w := viewer.New(client, matchID,
		viewer.WithMinInterval(cfg.ViewerRate),
		viewer.WithOnUpdate(func(types.Snapshot) { updates.Add(1) }),
	)
	w.Start(ctx)

	var finished atomic.Bool
	var wg sync.WaitGroup
	for k := 0; k < cfg.Scorekeepers; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keepScore(ctx, cfg, client, matchID, &finished, stats)
		}()
	}
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		log.Warn(ctx, "viewer did not stop", logger.String("match_id", matchID), logger.Error(err))
	}

	snap, err := client.Snapshot(ctx, matchID)
	if err != nil {
		return MatchReport{MatchID: matchID, Problems: []string{"final snapshot: " + err.Error()}}
	}
	problems := Verify(snap)
	if seen, ok := w.Latest(); ok && seen.Version > snap.Version {
		problems = append(problems, fmt.Sprintf("viewer saw version %d beyond final version %d", seen.Version, snap.Version))
	}
	if snap.Match.Status != model.StatusFinished {
		problems = append(problems, "match did not finish within the action budget")
	}
	rep := describe(snap, problems)
	rep.ViewerUpdates = updates.Load()

	if cfg.Verbose {
		log.Info(ctx, "match verified",
			logger.String("match_id", matchID),
			logger.String("winner", string(snap.Match.Winner)),
			logger.String("sets_won", snap.Match.SetsWon.String()),
			logger.Int64("version", snap.Version),
			logger.Int("problems", len(problems)),
		)
	}
	return rep
}

// keepScore submits random actions until the match is finished or the
// action budget is spent.
func keepScore(ctx context.Context, cfg Config, client *Client, matchID string, finished *atomic.Bool, stats *Stats) {
	for n := 0; n < cfg.MaxActions && !finished.Load(); n++ {
		if ctx.Err() != nil {
			return
		}
		side := model.SideHome
		if randomFloat() < 0.5 {
			side = model.SideAway
		}

		var snap types.Snapshot
		var err error
		switch r := randomFloat(); {
		case r < cfg.TimeoutRate:
			snap, err = client.Timeout(ctx, matchID, side)
		case r < cfg.TimeoutRate+cfg.SubRate:
			snap, err = client.Substitution(ctx, matchID, side, fmt.Sprintf("p%d", n%12+1))
		case r < cfg.TimeoutRate+cfg.SubRate+cfg.UndoRate:
			snap, err = client.Point(ctx, matchID, side, -1)
		default:
			snap, err = client.Point(ctx, matchID, side, 1)
		}
		stats.Submitted.Add(1)

		switch {
		case err == nil:
			stats.Accepted.Add(1)
			if snap.Match.Status == model.StatusFinished {
				finished.Store(true)
			}
		case IsStatus(err, http.StatusConflict):
			stats.Rejected.Add(1)
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Code == "conflict" {
				stats.Conflicts.Add(1)
			}
			if cur, err := client.Snapshot(ctx, matchID); err == nil && cur.Match.Status == model.StatusFinished {
				finished.Store(true)
			}
		case IsStatus(err, http.StatusBadRequest):
			stats.Rejected.Add(1)
		default:
			stats.Failed.Add(1)
		}
	}
}

// SaveReport writes report as indented JSON to filename.
func SaveReport(report *Report, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), reportPermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// DefaultReportName returns a timestamped report filename.
func DefaultReportName() string {
	return "rally_report_" + time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8] + ".json"
}

// randomFloat returns a random float64 in [0, 1) using crypto/rand.
func randomFloat() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	if err != nil {
		return 0
	}
	return float64(n.Int64()) / randomFloatDivisor
}
