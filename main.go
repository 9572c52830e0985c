package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/Dannycyd/ECE4180-Camera/internal/assembler"
	"github.com/Dannycyd/ECE4180-Camera/internal/config"
	"github.com/Dannycyd/ECE4180-Camera/internal/control"
	"github.com/Dannycyd/ECE4180-Camera/internal/coordinator"
	"github.com/Dannycyd/ECE4180-Camera/internal/display"
	"github.com/Dannycyd/ECE4180-Camera/internal/frame"
	"github.com/Dannycyd/ECE4180-Camera/internal/indicator"
	"github.com/Dannycyd/ECE4180-Camera/internal/input"
	"github.com/Dannycyd/ECE4180-Camera/internal/mailbox"
	"github.com/Dannycyd/ECE4180-Camera/internal/pipeline"
	"github.com/Dannycyd/ECE4180-Camera/internal/sensor"
	"github.com/Dannycyd/ECE4180-Camera/internal/spibus"
	"github.com/Dannycyd/ECE4180-Camera/internal/storage"
)

// Version information - set by linker flags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

// jpegMagic is the payload header every valid frame must start with.
var jpegMagic = [2]byte{0xFF, 0xD8}

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	configPath := flag.String("config", "", "Path to config.yaml (default: ./config.yaml or $ECE4180_CAMERA_CONFIG)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ECE4180 Camera %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", GoVersion)
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("[Main] WARNING: Config load error: %v (using defaults)", err)
		cfg = config.DefaultConfig()
	}

	// Configure logging (rotating file + optional stdout)
	logCleanup, err := config.ConfigureLogging(cfg)
	if err != nil {
		log.Printf("[Main] WARNING: Logging setup error: %v", err)
	}
	if logCleanup != nil {
		defer logCleanup()
	}

	log.Printf("[Main] ECE4180 Camera %s starting...", Version)
	log.Printf("[Main] Config: %dx%d source, rotation=%s, chunk=%d, control=%s",
		cfg.Display.SourceWidth, cfg.Display.SourceHeight,
		cfg.Display.Rotation, cfg.Display.ChunkSize, cfg.Control.Addr)

	ok, warnings := cfg.Validate()
	for _, w := range warnings {
		log.Printf("[Main] WARNING: %s", w)
	}
	if !ok {
		log.Fatalf("[Main] Config validation failed")
	}

	if err := run(cfg); err != nil {
		log.Fatalf("[Main] Fatal: %v", err)
	}
	log.Printf("[Main] Shutdown complete")
}

func run(cfg *config.Config) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[Main] Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Shared bus.
	sensorPort, err := spireg.Open(cfg.Bus.SensorPort)
	if err != nil {
		return fmt.Errorf("open sensor SPI port: %w", err)
	}
	defer sensorPort.Close()
	displayPort, err := spireg.Open(cfg.Bus.DisplayPort)
	if err != nil {
		return fmt.Errorf("open display SPI port: %w", err)
	}
	defer displayPort.Close()

	bus := spibus.New()
	if err := bus.Register(spibus.Sensor, sensorPort, mustPin(cfg.Bus.SensorCS), spi.Mode0); err != nil {
		return err
	}
	if err := bus.Register(spibus.Display, displayPort, mustPin(cfg.Bus.DisplayCS), spi.Mode0); err != nil {
		return err
	}

	// Shared frames. The compressed frame is written only by the capture
	// engine; the pixel frame only by the assembler.
	compressed := frame.NewCompressed(cfg.Sensor.MaxFrameBytes, jpegMagic)
	pixels := frame.NewPixel(cfg.Display.SourceWidth, cfg.Display.SourceHeight)

	// Capture engine.
	cam := sensor.New(bus, compressed, sensor.Config{
		ConfigClock:  physic.Frequency(cfg.Sensor.ConfigClockHz) * physic.Hertz,
		BurstClock:   physic.Frequency(cfg.Sensor.BurstClockHz) * physic.Hertz,
		Timeout:      cfg.CaptureTimeout(),
		PollInterval: cfg.PollInterval(),
	})
	cameraOK := true
	if err := cam.Probe(); err != nil {
		log.Printf("[Main] WARNING: Camera probe failed: %v (preview disabled)", err)
		cameraOK = false
	}

	// Display.
	var backlight display.BacklightPin
	if p := gpioreg.ByName(cfg.Display.BacklightPin); p != nil {
		backlight = p
	}
	panel, err := display.New(bus,
		mustPin(cfg.Display.DCPin),
		gpioPinOrNil(cfg.Display.ResetPin),
		backlight,
		display.Config{
			SourceWidth:  cfg.Display.SourceWidth,
			SourceHeight: cfg.Display.SourceHeight,
			Rotation:     display.Rotation(cfg.Display.Rotation),
			ChunkSize:    cfg.Display.ChunkSize,
			Clock:        physic.Frequency(cfg.Display.ClockHz) * physic.Hertz,
		})
	if err != nil {
		return err
	}
	if err := panel.Init(); err != nil {
		return fmt.Errorf("panel init: %w", err)
	}
	panel.Clear(0x0000)
	panel.SetBacklight(100)

	dec := assembler.New(assembler.NewJPEG(), pixels)

	// Storage and indicator.
	store := storage.New(cfg.Storage.Dir, cfg.Storage.Prefix)
	led := indicator.New(
		gpioPinOrNil(cfg.Input.LEDRed),
		gpioPinOrNil(cfg.Input.LEDGreen),
		gpioPinOrNil(cfg.Input.LEDBlue))

	// Cross-context cells.
	mb := mailbox.New()
	latch := mailbox.NewInputLatch()

	// Buttons on their own goroutines.
	if p := gpioreg.ByName(cfg.Input.CaptureButton); p != nil {
		if btn, err := input.NewButton("capture", p, latch.SignalCaptureEdge); err == nil {
			go btn.Watch(ctx)
		} else {
			log.Printf("[Main] WARNING: %v", err)
		}
	}
	if p := gpioreg.ByName(cfg.Input.ModeButton); p != nil {
		if btn, err := input.NewButton("mode", p, latch.SignalModeEdge); err == nil {
			go btn.Watch(ctx)
		} else {
			log.Printf("[Main] WARNING: %v", err)
		}
	}

	coord := coordinator.New(mb, latch, cam, store, led, coordinator.Config{
		DebounceWindow: cfg.DebounceWindow(),
		CountdownSteps: cfg.Capture.CountdownSteps,
		StepInterval:   cfg.StepInterval(),
	})

	pipe := pipeline.New(pipeline.Deps{
		Camera:          cam,
		Decoder:         dec,
		Presenter:       panel,
		Coordinator:     coord,
		Store:           store,
		Compressed:      compressed,
		Pixel:           pixels,
		CameraAvailable: cameraOK,
	})

	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		pipe.Run(ctx)
	}()

	led.Set(indicator.Green)

	// Control surface blocks until shutdown.
	srv := control.NewServer(mb, pipe)
	srv.StreamInterval = cfg.StreamInterval()
	err = srv.ListenAndServe(ctx, cfg.Control.Addr)

	cancel()
	<-pipeDone
	led.Set(indicator.Off)
	return err
}

// mustPin resolves a required pin by name. Chip selects and the DC line
// cannot be absent; a missing name is a wiring error, not a degraded mode.
func mustPin(name string) gpio.PinIO {
	p := gpioreg.ByName(name)
	if p == nil {
		log.Fatalf("[Main] Required GPIO pin %s not found", name)
	}
	return p
}

// gpioPinOrNil resolves an optional pin; a missing name is fine.
func gpioPinOrNil(name string) gpio.PinIO {
	if name == "" {
		return nil
	}
	return gpioreg.ByName(name)
}
