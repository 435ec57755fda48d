package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/storeline/scan-station/internal/clock"
	"github.com/storeline/scan-station/internal/config"
	"github.com/storeline/scan-station/internal/hid"
	"github.com/storeline/scan-station/internal/model"
	"github.com/storeline/scan-station/internal/redis"
	"github.com/storeline/scan-station/internal/scanner"
)

var errScanTimeout = errors.New("no code scanned before timeout")

func newScanCmd() *cobra.Command {
	var (
		flagTimeout      time.Duration
		flagCodeType     string
		flagOfflineCache bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read one code from a keyboard-wedge scanner on stdin",
		Long: `scan opens a hardware-only session, feeds stdin to it as keystrokes
and prints the detected code as JSON. Point the scanner at the terminal
running the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if flagTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flagTimeout)
				defer cancel()
			}

			clk := clock.Real()
			opts := controllerOptions(cfg, clk)
			if flagOfflineCache {
				var redisClient *redis.Client
				if cfg.CacheBackend == config.CacheBackendRedis {
					if redisClient, err = redis.NewClient(cfg.RedisURL); err != nil {
						return err
					}
					defer redisClient.Close()
				}

				offline, closer, err := openCache(ctx, cfg, clk, redisClient)
				if err != nil {
					return err
				}
				defer closer.Close()
				defer func() {
					if err := offline.Flush(context.Background()); err != nil {
						log.Warn().Err(err).Msg("failed to flush offline cache")
					}
				}()
				opts.Cache = offline
			}

			result := &scanResult{done: make(chan struct{})}
			opts.Listener = result
			ctrl := scanner.New(opts)
			defer ctrl.Close()

			if _, err := ctrl.Open(scanner.Config{
				CodeTypeFilter:      model.CodeTypeFilter(flagCodeType),
				EnableHardwareInput: true,
				EnableOfflineCache:  flagOfflineCache,
			}); err != nil {
				return err
			}

			feedErr := make(chan error, 1)
			go func() { feedErr <- hid.Feed(ctx, os.Stdin, keyFeed{ctrl}) }()

			select {
			case <-result.done:
			case err := <-feedErr:
				if err != nil {
					return err
				}
				// Input ended; the last line may still be waiting on its timeout.
				select {
				case <-result.done:
				case <-time.After(cfg.HardwareTimeout() + cfg.SuccessDelay()):
				}
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return errScanTimeout
				}
				return ctx.Err()
			}

			code, ok := result.code()
			if !ok {
				return fmt.Errorf("input ended without a code")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(code)
		},
	}

	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Give up after this long (0 waits until input ends)")
	cmd.Flags().StringVar(&flagCodeType, "code-type", string(model.CodeTypeFilterBoth), "Requested code type: barcode, qr or both")
	cmd.Flags().BoolVar(&flagOfflineCache, "offline-cache", false, "Annotate the result from the offline cache")
	return cmd
}

// keyFeed adapts the controller to hid.Feed; keystrokes outside a session
// are dropped.
type keyFeed struct {
	ctrl *scanner.Controller
}

func (k keyFeed) HandleKey(ev hid.KeyEvent) {
	if err := k.ctrl.HandleKey(ev); err != nil {
		log.Debug().Err(err).Msg("keystroke outside session")
	}
}

// scanResult captures the first detection and signals once the session
// has closed after it.
type scanResult struct {
	mu       sync.Mutex
	detected *model.DecodedCode
	once     sync.Once
	done     chan struct{}
}

func (r *scanResult) OnDetect(code model.DecodedCode, session model.ScanSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detected == nil {
		r.detected = &code
	}
}

func (r *scanResult) OnStatus(snap scanner.Snapshot) {
	if snap.Error != nil {
		log.Warn().Str("code", string(snap.Error.Code)).Msg(snap.Error.Message)
	}
}

func (r *scanResult) OnClose(session model.ScanSession) {
	r.once.Do(func() { close(r.done) })
}

func (r *scanResult) code() (model.DecodedCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detected == nil {
		return model.DecodedCode{}, false
	}
	return *r.detected, true
}
