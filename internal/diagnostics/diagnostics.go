// SPDX-License-Identifier: MIT

// Package diagnostics implements clipperd's "doctor" preflight checks:
// ffmpeg/ffprobe presence and -version output, camera device readability,
// ALSA device enumerability, clips-directory writability/free space, and
// configuration file presence.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/clipper-app/clipper/internal/audio"
)

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Status      CheckStatus   `json:"status"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Duration    time.Duration `json:"duration"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// CheckStatus indicates the result of a check.
type CheckStatus string

const (
	StatusOK       CheckStatus = "OK"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusError    CheckStatus = "ERROR"
)

// DiagnosticReport contains results from all diagnostic checks.
type DiagnosticReport struct {
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
	SystemInfo *SystemInfo   `json:"system_info"`
	Checks     []CheckResult `json:"checks"`
	Summary    *Summary      `json:"summary"`
	Healthy    bool          `json:"healthy"`
}

// SystemInfo contains basic system information.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
	CPUs         int    `json:"cpus"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
}

// Summary contains a summary of check results.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Error    int `json:"error"`
}

// DiskUsageCriticalPercent is the clips-directory usage percentage that
// triggers critical status.
const DiskUsageCriticalPercent = 95

// DiskUsageWarningPercent is the clips-directory usage percentage that
// triggers warning status.
const DiskUsageWarningPercent = 85

// Options configures the diagnostic run.
type Options struct {
	ConfigPath   string
	CameraDevice string // e.g. /dev/video0
	AsoundPath   string // e.g. /proc/asound
	ClipsDir     string
	Output       io.Writer
}

// DefaultOptions returns default diagnostic options.
func DefaultOptions() Options {
	return Options{
		ConfigPath:   "/etc/clipper/config.yaml",
		CameraDevice: "/dev/video0",
		AsoundPath:   "/proc/asound",
		ClipsDir:     "/var/lib/clipper/clips",
		Output:       os.Stdout,
	}
}

// Runner executes diagnostic checks.
type Runner struct {
	opts Options
}

// NewRunner creates a new diagnostic runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run executes all diagnostic checks and returns a report.
func (r *Runner) Run(ctx context.Context) (*DiagnosticReport, error) {
	start := time.Now()

	report := &DiagnosticReport{
		Timestamp:  start,
		SystemInfo: r.collectSystemInfo(),
		Summary:    &Summary{},
	}

	checks := []func(context.Context) CheckResult{
		r.checkFFmpeg,
		r.checkCameraDevice,
		r.checkALSA,
		r.checkClipsDir,
		r.checkConfig,
	}

	for _, check := range checks {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
			result := check(ctx)
			report.Checks = append(report.Checks, result)

			report.Summary.Total++
			switch result.Status {
			case StatusOK:
				report.Summary.OK++
			case StatusWarning:
				report.Summary.Warning++
			case StatusCritical:
				report.Summary.Critical++
			case StatusError:
				report.Summary.Error++
			}
		}
	}

	report.Duration = time.Since(start)
	report.Healthy = report.Summary.Critical == 0 && report.Summary.Error == 0

	return report, nil
}

func (r *Runner) collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}

	if data, err := os.ReadFile("/proc/version"); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 3 {
			info.Kernel = parts[2]
		}
	}

	if data, err := os.ReadFile("/proc/uptime"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 1 {
			if secs, err := strconv.ParseFloat(fields[0], 64); err == nil {
				info.Uptime = formatDuration(time.Duration(secs) * time.Second)
			}
		}
	}

	return info
}

func (r *Runner) checkFFmpeg(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "FFmpeg", Category: "Encoding"}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		result.Status = StatusCritical
		result.Message = "ffmpeg not found on PATH"
		result.Suggestions = append(result.Suggestions, "Install ffmpeg: apt-get install ffmpeg")
		result.Duration = time.Since(start)
		return result
	}

	// #nosec G204 -- path is from exec.LookPath, not user input
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		result.Status = StatusWarning
		result.Message = "ffmpeg found but -version failed"
		result.Duration = time.Since(start)
		return result
	}

	lines := strings.Split(string(out), "\n")
	if len(lines) > 0 {
		result.Details = lines[0]
	}

	if _, err := exec.LookPath("ffprobe"); err != nil {
		result.Status = StatusWarning
		result.Message = "ffmpeg found but ffprobe not found on PATH"
		result.Suggestions = append(result.Suggestions, "ffprobe ships alongside ffmpeg in most distributions")
	} else {
		result.Status = StatusOK
		result.Message = "ffmpeg and ffprobe available"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkCameraDevice(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Camera Device", Category: "Capture"}

	device := r.opts.CameraDevice
	if device == "" {
		device = "/dev/video0"
	}

	f, err := os.OpenFile(device, os.O_RDONLY, 0) // #nosec G304 -- device path is from config/flag, not request input
	if err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("cannot open %s: %v", device, err)
		result.Suggestions = append(result.Suggestions, "Check camera is connected and /dev permissions allow read access")
		result.Duration = time.Since(start)
		return result
	}
	_ = f.Close()

	result.Status = StatusOK
	result.Message = fmt.Sprintf("%s readable", device)
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkALSA(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "ALSA", Category: "Capture"}

	asoundPath := r.opts.AsoundPath
	if asoundPath == "" {
		asoundPath = "/proc/asound"
	}

	if _, err := os.Stat(asoundPath); os.IsNotExist(err) {
		result.Status = StatusCritical
		result.Message = "ALSA not available (/proc/asound missing)"
		result.Suggestions = append(result.Suggestions, "Load ALSA kernel modules")
		result.Duration = time.Since(start)
		return result
	}

	cards, _ := filepath.Glob(filepath.Join(asoundPath, "card*"))
	if len(cards) == 0 {
		result.Status = StatusWarning
		result.Message = "no ALSA capture devices found"
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("%d ALSA card(s) enumerable", len(cards))
		result.Details = r.summarizeALSACapabilities(asoundPath, cards)
	}

	result.Duration = time.Since(start)
	return result
}

// summarizeALSACapabilities runs CapabilitiesSummary for every enumerable
// card, for the doctor report's Details field. A card whose capabilities
// can't be read (mid-enumeration unplug, permission error) is skipped
// rather than failing the whole check.
func (r *Runner) summarizeALSACapabilities(asoundPath string, cards []string) string {
	var sb strings.Builder
	for _, cardDir := range cards {
		n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(cardDir), "card"))
		if err != nil {
			continue
		}
		caps, err := audio.DetectCapabilities(asoundPath, n)
		if err != nil {
			continue
		}
		sb.WriteString(caps.CapabilitiesSummary())
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (r *Runner) checkClipsDir(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Clips Directory", Category: "Storage"}

	dir := r.opts.ClipsDir
	if dir == "" {
		dir = "/var/lib/clipper/clips"
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		result.Duration = time.Since(start)
		return result
	}

	probe := filepath.Join(dir, ".clipper-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0640); err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("%s is not writable: %v", dir, err)
		result.Duration = time.Since(start)
		return result
	}
	_ = os.Remove(probe)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%s writable but free space unknown: %v", dir, err)
		result.Duration = time.Since(start)
		return result
	}

	// #nosec G115 -- Bsize is always positive on Linux filesystems
	available := stat.Bavail * uint64(stat.Bsize)
	// #nosec G115 -- Bsize is always positive on Linux filesystems
	total := stat.Blocks * uint64(stat.Bsize)
	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	switch {
	case usedPercent > DiskUsageCriticalPercent:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("%s disk usage critical: %.1f%%", dir, usedPercent)
		result.Suggestions = append(result.Suggestions, "Free up space or move clips elsewhere")
	case usedPercent > DiskUsageWarningPercent:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%s disk usage high: %.1f%%", dir, usedPercent)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("%s writable, %s free", dir, formatBytes(int64(available)))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkConfig(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Configuration", Category: "Config"}

	if _, err := os.Stat(r.opts.ConfigPath); os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "configuration file not found, built-in defaults will be used"
		result.Details = r.opts.ConfigPath
	} else {
		result.Status = StatusOK
		result.Message = "configuration file exists"
		result.Details = r.opts.ConfigPath
	}

	result.Duration = time.Since(start)
	return result
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// PrintReport prints a formatted diagnostic report.
func PrintReport(w io.Writer, report *DiagnosticReport) {
	_, _ = fmt.Fprintf(w, "clipperd doctor\n===============\n\n")

	_, _ = fmt.Fprintf(w, "System: %s (%s/%s)\n", report.SystemInfo.Hostname, report.SystemInfo.OS, report.SystemInfo.Architecture)
	_, _ = fmt.Fprintf(w, "Kernel: %s\n", report.SystemInfo.Kernel)
	_, _ = fmt.Fprintf(w, "Uptime: %s\n", report.SystemInfo.Uptime)
	_, _ = fmt.Fprintf(w, "Time: %s\n\n", report.Timestamp.Format(time.RFC3339))

	categories := make(map[string][]CheckResult)
	var order []string
	for _, check := range report.Checks {
		if _, seen := categories[check.Category]; !seen {
			order = append(order, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, category := range order {
		_, _ = fmt.Fprintf(w, "\n%s\n%s\n", category, strings.Repeat("-", len(category)))
		for _, check := range categories[category] {
			status := "✓"
			switch check.Status {
			case StatusWarning:
				status = "⚠"
			case StatusCritical:
				status = "✗"
			case StatusError:
				status = "!"
			}
			_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", status, check.Name, check.Message)
			if check.Details != "" {
				_, _ = fmt.Fprintf(w, "    %s\n", check.Details)
			}
			for _, suggestion := range check.Suggestions {
				_, _ = fmt.Fprintf(w, "    -> %s\n", suggestion)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\n\nSummary\n-------\n")
	_, _ = fmt.Fprintf(w, "Total: %d | OK: %d | Warning: %d | Critical: %d | Error: %d\n",
		report.Summary.Total, report.Summary.OK, report.Summary.Warning,
		report.Summary.Critical, report.Summary.Error)
	_, _ = fmt.Fprintf(w, "Duration: %v\n", report.Duration)

	if report.Healthy {
		_, _ = fmt.Fprintf(w, "\nStatus: HEALTHY\n")
	} else {
		_, _ = fmt.Fprintf(w, "\nStatus: ISSUES DETECTED\n")
	}
}

// ToJSON converts the report to JSON format.
func (r *DiagnosticReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
