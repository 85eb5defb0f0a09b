package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/hardware"
	"github.com/nicolatrozzi/spiro/internal/preview"
)

// ErrUnsupportedFormat is returned for an unknown image format.
var ErrUnsupportedFormat = errors.New("imaging: unsupported image format")

// Logger is the logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PipelineConfig configures the capture pipeline.
type PipelineConfig struct {
	Classifier ClassifierConfig
	Exposure   Exposure
	// Format is "png" or "jpeg".
	Format string
}

// Result describes one capture attempt.
type Result struct {
	Plate          int
	Path           string
	Daytime        bool
	Brightness     float64
	WBRecalibrated bool
	Gains          camera.Gains
	StartedAt      time.Time
	Duration       time.Duration
}

// Pipeline takes one picture of one plate.
type Pipeline struct {
	cam        camera.Camera
	led        hardware.Illumination
	clk        clock.Clock
	previews   *preview.Cache
	classifier *Classifier
	exposure   *ExposureController
	format     string
	logger     Logger

	daytime   Daytime
	awbLocked bool

	// decode turns the raw buffer into the saved image; swapped in tests.
	decode func(raw *camera.Frame, logical camera.Resolution) image.Image
}

// NewPipeline wires a pipeline around the camera, the LED and the
// preview cache.
func NewPipeline(cam camera.Camera, led hardware.Illumination, clk clock.Clock, previews *preview.Cache, cfg PipelineConfig, logger Logger) (*Pipeline, error) {
	switch cfg.Format {
	case "":
		cfg.Format = "png"
	case "png", "jpeg":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, cfg.Format)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	cfg.Classifier.DayShutter = cfg.Exposure.DayShutter
	cfg.Classifier.DayISO = cfg.Exposure.DayISO

	return &Pipeline{
		cam:        cam,
		led:        led,
		clk:        clk,
		previews:   previews,
		classifier: NewClassifier(cam, clk, cfg.Classifier),
		exposure:   NewExposureController(cam, led, clk, cfg.Exposure),
		format:     cfg.Format,
		logger:     logger,
		decode:     decodeRaw,
	}, nil
}

// Reset forgets the previous classification before a new run. awbLocked
// disables white-balance recalibration for the run.
func (p *Pipeline) Reset(awbLocked bool) {
	p.daytime = DaytimeUnknown
	p.awbLocked = awbLocked
}

// SetExposure replaces the day and night parameters, including the
// classifier's reference exposure.
func (p *Pipeline) SetExposure(exp Exposure) {
	p.exposure.exp = exp
	p.classifier.cfg.DayShutter = exp.DayShutter
	p.classifier.cfg.DayISO = exp.DayISO
}

// Daytime returns the last classification.
func (p *Pipeline) Daytime() Daytime {
	return p.daytime
}

// Ext returns the file extension of saved images.
func (p *Pipeline) Ext() string {
	if p.format == "jpeg" {
		return "jpg"
	}
	return "png"
}

// TakePicture captures plate into <dir>/<name>.<ext> and refreshes the
// plate's preview. Steps run strictly in order; at night the LED is
// switched off as soon as the raw buffer is in memory.
func (p *Pipeline) TakePicture(ctx context.Context, dir, name string, plate int) (res Result, err error) {
	res = Result{Plate: plate, StartedAt: p.clk.Now()}
	defer func() { res.Duration = p.clk.Now().Sub(res.StartedAt) }()

	reading, err := p.classifier.Classify(ctx)
	if err != nil {
		return res, err
	}
	prev := p.daytime
	p.daytime = DaytimeOf(reading.Daytime)
	res.Daytime = reading.Daytime
	res.Brightness = reading.Brightness

	ledOn := !reading.Daytime
	defer func() {
		// error paths must not leave the specimen lit
		if ledOn {
			if lerr := p.led.LEDControl(false); lerr != nil {
				err = errors.Join(err, lerr)
			}
		}
	}()

	if err := p.exposure.Apply(reading.Daytime); err != nil {
		return res, fmt.Errorf("applying exposure: %w", err)
	}
	if ShouldRecalibrate(prev, reading.Daytime, p.awbLocked) {
		g, err := p.exposure.Recalibrate(ctx)
		if err != nil {
			return res, fmt.Errorf("white balance: %w", err)
		}
		res.WBRecalibrated = true
		res.Gains = g
		p.logger.Info("white balance pinned", "red", g.Red, "blue", g.Blue)
	}

	if err := p.cam.SetExposureMode(camera.ExposureOff); err != nil {
		return res, err
	}
	frame, err := p.cam.Capture(ctx)
	if err != nil {
		return res, fmt.Errorf("capturing plate %d: %w", plate+1, err)
	}
	if ledOn {
		ledOn = false
		if err := p.led.LEDControl(false); err != nil {
			return res, fmt.Errorf("switching led off: %w", err)
		}
	}

	img := p.decode(frame, p.cam.Resolution())

	path := filepath.Join(dir, name+"."+p.Ext())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("creating output directory: %w", err)
	}
	if err := p.save(path, img); err != nil {
		return res, err
	}
	res.Path = path

	if p.previews != nil {
		if err := p.previews.Put(plate, img, p.clk.Now()); err != nil {
			return res, fmt.Errorf("updating preview: %w", err)
		}
	}
	return res, nil
}

func decodeRaw(raw *camera.Frame, logical camera.Resolution) image.Image {
	return raw.Crop(logical).RGBA()
}

func (p *Pipeline) save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	var encErr error
	if p.format == "jpeg" {
		encErr = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	} else {
		encErr = png.Encode(f, img)
	}
	closeErr := f.Close()
	if encErr != nil {
		_ = os.Remove(path)
		return fmt.Errorf("encoding %s: %w", path, encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("writing %s: %w", path, closeErr)
	}
	return nil
}
