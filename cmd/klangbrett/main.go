package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/klangwerk/klangbrett/internal/app"
	"github.com/klangwerk/klangbrett/internal/audio"
	"github.com/klangwerk/klangbrett/internal/config"
	"github.com/klangwerk/klangbrett/internal/display"
	"github.com/klangwerk/klangbrett/internal/events"
	"github.com/klangwerk/klangbrett/internal/input"
	"github.com/klangwerk/klangbrett/internal/logging"
	"github.com/klangwerk/klangbrett/internal/mapper"
	"github.com/klangwerk/klangbrett/internal/player"
	"github.com/klangwerk/klangbrett/internal/server"
	"github.com/klangwerk/klangbrett/internal/sink"
	"github.com/klangwerk/klangbrett/internal/volume"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "klangbrett",
	Short: "Klangbrett - soundboard appliance daemon",
	Long:  "Klangbrett drives a 12-button soundboard with a rotary encoder: it scans the panel, maps buttons to audio clips per the mapping files and streams WAV audio to the sound card.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the soundboard engine",
	Long:  "Start the input scanner, playback engine, preloader and HTTP status surface",
	RunE:  runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate <mapping.csv>",
	Short: "Check a mapping file",
	Long:  "Parse a mapping file and report every malformed line",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var (
	validateRoot       string
	validateCheckFiles bool
)

func init() {
	validateCmd.Flags().StringVar(&validateRoot, "root", "", "media root for resolving clip paths (default: mapping file directory)")
	validateCmd.Flags().BoolVar(&validateCheckFiles, "check-files", false, "also verify that every referenced clip exists")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("Klangbrett starting")

	bus := events.NewBus()

	provider, err := audio.New(audio.Config{
		Slots:             cfg.CacheSlots,
		Budget:            cfg.CacheBudget,
		PreloadQueueDepth: cfg.PreloadQueueDepth,
	}, bus, logger)
	if err != nil {
		return fmt.Errorf("initialize audio provider: %w", err)
	}

	out, err := buildSink()
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Error().Err(err).Msg("close sink")
		}
	}()

	store := volume.NewFileStore(cfg.VolumeFile, cfg.VolumeSaveDelay, logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("flush volume store")
		}
	}()

	eng, err := player.New(player.Config{QueueDepth: cfg.PlayerQueueDepth}, provider, out, store, bus, logger)
	if err != nil {
		return fmt.Errorf("initialize player: %w", err)
	}

	m, err := mapper.Load(mappingSources(), eng, provider, bus, logger)
	if err != nil {
		return fmt.Errorf("load mappings: %w", err)
	}

	router := app.NewRouter(m, logger)

	sampler, cleanup, err := buildSampler()
	if err != nil {
		return err
	}
	defer cleanup()

	scanner, err := input.NewScanner(input.Config{
		ScanPeriod:      cfg.ScanPeriod,
		PressDebounce:   cfg.PressDebounce,
		ReleaseDebounce: cfg.ReleaseDebounce,
		LongPress:       cfg.LongPress,
		EncoderDebounce: cfg.EncoderDebounce,
	}, sampler, router.HandleInput, logger)
	if err != nil {
		return fmt.Errorf("initialize scanner: %w", err)
	}

	srv := server.New(cfg, eng, m, provider, logger)
	httpServer := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return scanner.Run(ctx) })
	group.Go(func() error { return provider.Run(ctx) })
	group.Go(func() error { return eng.Run(ctx) })
	group.Go(func() error { return display.New(bus, logger).Run(ctx) })
	group.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down gracefully...")
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(timeoutCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("Klangbrett stopped")
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	root := validateRoot
	if root == "" {
		root = filepath.Dir(path)
	}
	if err := mapper.ValidateFile(path, root, validateCheckFiles); err != nil {
		return err
	}
	fmt.Println("mapping ok")
	return nil
}

// mappingSources lists the mapping files in override order: the removable
// media overlay wins over the built-in set.
func mappingSources() []mapper.Source {
	sources := []mapper.Source{{
		Name: "firmware",
		Root: cfg.FirmwareRoot,
		File: cfg.MappingFile,
	}}
	if cfg.SDRoot != "" {
		sources = append(sources, mapper.Source{
			Name: "sdcard",
			Root: cfg.SDRoot,
			File: cfg.MappingFile,
		})
	}
	return sources
}

func buildSink() (sink.Sink, error) {
	switch cfg.SinkBackend {
	case config.SinkALSA:
		return sink.NewALSA(cfg.AplayBin, logger), nil
	case config.SinkNull:
		return sink.NewNull(true), nil
	default:
		return nil, fmt.Errorf("unsupported sink backend %q", cfg.SinkBackend)
	}
}

func buildSampler() (input.Sampler, func(), error) {
	switch cfg.InputBackend {
	case config.InputGPIO:
		sampler, err := input.NewGPIOSampler(input.GPIOConfig{
			RowPins:   cfg.MatrixRowPins,
			ColPins:   cfg.MatrixColPins,
			PinA:      cfg.EncoderPinA,
			PinB:      cfg.EncoderPinB,
			PinSwitch: cfg.EncoderPinSwitch,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize gpio: %w", err)
		}
		return sampler, func() { _ = sampler.Close() }, nil
	case config.InputNone:
		logger.Warn().Msg("input backend disabled; board controls inactive")
		return input.NullSampler{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported input backend %q", cfg.InputBackend)
	}
}
