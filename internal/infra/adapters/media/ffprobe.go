// File: internal/infra/adapters/media/ffprobe.go
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"video-subtitler/internal/domain/ports/adapter"
	"video-subtitler/internal/infra/adapters/cmdexec"
)

var _ adapter.MediaInspector = (*FFprobeInspector)(nil)

// FFprobeInspector reads container metadata with ffprobe's JSON writer.
type FFprobeInspector struct {
	path   string
	runner cmdexec.Runner
}

func NewFFprobeInspector(ffprobePath string) *FFprobeInspector {
	return &FFprobeInspector{path: ffprobePath, runner: cmdexec.ExecRunner{}}
}

func NewFFprobeInspectorWithRunner(ffprobePath string, r cmdexec.Runner) *FFprobeInspector {
	return &FFprobeInspector{path: ffprobePath, runner: r}
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

func (p *FFprobeInspector) Inspect(ctx context.Context, path string) (adapter.MediaInfo, error) {
	res, err := p.runner.Run(ctx, p.path, buildProbeArgs(path)...)
	if err != nil {
		return adapter.MediaInfo{}, &adapter.InspectionError{
			Path:    path,
			Message: fmt.Sprintf("ffprobe exited with %d: %s", res.ExitCode, cmdexec.Tail(res.Stderr, 3)),
			Err:     err,
		}
	}
	return parseProbe(path, []byte(res.Stdout))
}

func parseProbe(path string, out []byte) (adapter.MediaInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return adapter.MediaInfo{}, &adapter.InspectionError{Path: path, Message: "unparseable ffprobe output", Err: err}
	}

	info := adapter.MediaInfo{FormatName: po.Format.FormatName}
	if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
		info.DurationSec = d
	}
	hasVideo := false
	for _, s := range po.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			hasVideo = true
			if info.Width == 0 {
				info.Width, info.Height = s.Width, s.Height
			}
		}
		if info.DurationSec == 0 {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				info.DurationSec = d
			}
		}
	}
	if !hasVideo && !info.HasAudio {
		return adapter.MediaInfo{}, &adapter.InspectionError{Path: path, Message: "no audio or video streams"}
	}
	if info.DurationSec <= 0 {
		return adapter.MediaInfo{}, &adapter.InspectionError{Path: path, Message: "unknown duration"}
	}
	return info, nil
}
