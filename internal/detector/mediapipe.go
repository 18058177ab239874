package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/cameramouse/internal/geom"
)

const (
	// IdleShutdown is how long the Python service may sit unused before it
	// is stopped. It restarts lazily on the next frame.
	IdleShutdown = 30 * time.Second

	// StartupTimeout bounds the wait for the service's ready line.
	StartupTimeout = 30 * time.Second

	// RestartBackoff is the minimum time between a failed start or a crash
	// and the next start.
	RestartBackoff = 5 * time.Second
)

// errNotReady is returned while the service is starting or backing off.
var errNotReady = errors.New("face mesh service not ready")

// MediaPipeDetector implements Detector using a Python MediaPipe face mesh
// subprocess and reads the nose tip landmark.
//
// The service prints {"ready": true} once its model is built. Until then
// InitializeFeature returns geom.Empty without waiting, and AllFilesLoaded
// reports false.
type MediaPipeDetector struct {
	config     Config
	python     string
	scriptPath string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	starting  bool
	failedAt  time.Time
	idleTimer *time.Timer

	loaded   atomic.Bool
	errCount atomic.Int64
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started in the background on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	scriptPath := config.FaceMeshScript
	if scriptPath == "" {
		scriptPath = findFaceMeshScript()
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("%w: facemesh_service.py not found", ErrCascadeNotLoaded)
	}

	python := config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	return &MediaPipeDetector{
		config:     config,
		python:     python,
		scriptPath: scriptPath,
	}, nil
}

// InitializeFeature sends the frame to the face mesh service and returns the
// nose tip of the best face in pixel coordinates.
func (d *MediaPipeDetector) InitializeFeature(frame *gocv.Mat) geom.Point {
	if frame == nil || frame.Empty() {
		return geom.Empty
	}

	faces, err := d.detect(frame)
	if err != nil {
		if !errors.Is(err, errNotReady) {
			d.logError("face mesh detection failed", err)
		}
		return geom.Empty
	}

	best, ok := bestMeshFace(faces)
	if !ok {
		return geom.Empty
	}
	return best.nose(frame.Cols(), frame.Rows())
}

func (d *MediaPipeDetector) detect(frame *gocv.Mat) ([]jsonFace, error) {
	// A start in progress holds the lock; the caller must not wait on it.
	if !d.mu.TryLock() {
		return nil, errNotReady
	}
	defer d.mu.Unlock()

	if !d.started {
		d.startAsync()
		return nil, errNotReady
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		d.fail()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.fail()
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		d.fail()
		return nil, fmt.Errorf("read response: %w", err)
	}

	faces, err := parseFaceMeshResponse([]byte(line))
	if err != nil {
		return nil, err
	}

	d.resetIdleTimer()
	return faces, nil
}

// AllFilesLoaded reports whether the face mesh service has started and
// built its model. It turns false again when the service fails.
func (d *MediaPipeDetector) AllFilesLoaded() bool {
	return d.loaded.Load()
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

// startAsync launches the service on its own goroutine unless a start is
// already running or the last failure is within RestartBackoff. d.mu must
// be held.
func (d *MediaPipeDetector) startAsync() {
	if d.starting || (!d.failedAt.IsZero() && time.Since(d.failedAt) < RestartBackoff) {
		return
	}
	d.starting = true

	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.starting = false
		if err := d.start(); err != nil {
			d.fail()
			d.logError("face mesh service failed to start", err)
		}
	}()
}

// start runs the service and waits for its ready line. d.mu must be held.
func (d *MediaPipeDetector) start() error {
	if d.started {
		return nil
	}

	cmd := exec.Command(d.python, d.scriptPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start face mesh service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	if err := d.awaitReady(); err != nil {
		d.shutdown()
		return err
	}

	d.loaded.Store(true)
	d.errCount.Store(0)
	d.resetIdleTimer()

	d.config.logger().Info("face mesh service started", "script", d.scriptPath, "python", d.python)
	return nil
}

func (d *MediaPipeDetector) awaitReady() error {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	r := d.stdout
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("face mesh service exited before ready: %w", res.err)
		}
		var msg struct {
			Ready bool   `json:"ready"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(res.line), &msg); err != nil {
			return fmt.Errorf("parse ready line: %w", err)
		}
		if !msg.Ready {
			return fmt.Errorf("face mesh service not ready: %s", strings.TrimSpace(msg.Error))
		}
		return nil
	case <-time.After(StartupTimeout):
		d.cmd.Process.Kill()
		return fmt.Errorf("face mesh service not ready after %s", StartupTimeout)
	}
}

// fail stops a broken service and starts the restart backoff. d.mu must be
// held.
func (d *MediaPipeDetector) fail() {
	d.shutdown()
	d.loaded.Store(false)
	d.failedAt = time.Now()
}

// logError logs the first failure and then every 100th.
func (d *MediaPipeDetector) logError(msg string, err error) {
	n := d.errCount.Add(1)
	if n == 1 || n%100 == 0 {
		d.config.logger().Warn(msg, "error", err, "count", n)
	}
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(IdleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findFaceMeshScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/facemesh_service.py",
		"../scripts/facemesh_service.py",
		filepath.Join(execDir, "scripts/facemesh_service.py"),
		filepath.Join(os.Getenv("HOME"), ".cameramouse/scripts/facemesh_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".cameramouse/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonFace is one face from the Python service. Points are normalized to
// [0,1] relative to the frame.
type jsonFace struct {
	Points []jsonPoint `json:"points"`
	Score  float64     `json:"score"`
}

type jsonPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func parseFaceMeshResponse(line []byte) ([]jsonFace, error) {
	var response struct {
		Faces []jsonFace `json:"faces"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return response.Faces, nil
}

// nose returns the nose tip in pixels, or geom.Empty when the mesh is short.
func (f jsonFace) nose(width, height int) geom.Point {
	if len(f.Points) <= NoseTip {
		return geom.Empty
	}
	p := f.Points[NoseTip]
	return geom.Pt(p.X*float64(width), p.Y*float64(height))
}

func bestMeshFace(faces []jsonFace) (jsonFace, bool) {
	var best jsonFace
	found := false
	for _, f := range faces {
		if len(f.Points) <= NoseTip {
			continue
		}
		if !found || f.Score > best.Score {
			best = f
			found = true
		}
	}
	return best, found
}
