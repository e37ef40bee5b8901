package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/Zelak312/rsgs/tensor"
)

type FFProbeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		FrameRate  string `json:"r_frame_rate"`
		FrameCount string `json:"nb_frames"`
	} `json:"streams"`
}

type VideoInfo struct {
	InputPath string
	Width     int
	Height    int
	FrameRate float64
	// FrameCount is zero when the container doesn't store it
	FrameCount int64
}

func parseFrameRate(rate string) (float64, error) {
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid framerate format %q", rate)
	}

	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing framerate numerator: %w", err)
	}

	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing framerate denominator: %w", err)
	}

	if den == 0 {
		return 0, nil
	}

	return num / den, nil
}

func parseVideoInfo(inputPath string, output []byte) (*VideoInfo, error) {
	var probeOutput FFProbeOutput
	if err := json.Unmarshal(output, &probeOutput); err != nil {
		return nil, fmt.Errorf("parsing probe output: %w", err)
	}

	for _, stream := range probeOutput.Streams {
		if stream.CodecType != "video" {
			continue
		}

		rate, err := parseFrameRate(stream.FrameRate)
		if err != nil {
			return nil, err
		}

		info := &VideoInfo{
			InputPath: inputPath,
			Width:     stream.Width,
			Height:    stream.Height,
			FrameRate: rate,
		}

		if stream.FrameCount != "" && stream.FrameCount != "N/A" {
			info.FrameCount, err = strconv.ParseInt(stream.FrameCount, 10, 64)
			if err != nil {
				return nil, err
			}
		}

		return info, nil
	}

	return nil, errors.New("no video streams found")
}

func GetVideoInfo(inputPath string) (*VideoInfo, error) {
	output, err := ffmpeg.Probe(inputPath)
	if err != nil {
		return nil, err
	}

	return parseVideoInfo(inputPath, []byte(output))
}

// FrameReader decodes a video into rgb24 frames through an ffmpeg pipe
type FrameReader struct {
	info      VideoInfo
	frameSize int
	stdout    *io.PipeReader
	stderr    bytes.Buffer
	done      chan error
	eof       bool
	// truncated is the size of a partial last frame
	truncated int
}

func NewFrameReader(info *VideoInfo) *FrameReader {
	pr, pw := io.Pipe()
	r := &FrameReader{
		info:      *info,
		frameSize: info.Width * info.Height * 3,
		stdout:    pr,
		done:      make(chan error, 1),
	}

	go func() {
		err := ffmpeg.Input(info.InputPath).
			Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24"}).
			WithOutput(pw, &r.stderr).
			Run()
		pw.CloseWithError(err)
		r.done <- err
		close(r.done)
	}()

	return r
}

func (r *FrameReader) FrameSize() int { return r.frameSize }

// ReadFrame returns the next frame as a (3,H,W) tensor in [0,1]. It
// returns io.EOF after the last frame.
func (r *FrameReader) ReadFrame() (*tensor.Tensor, error) {
	buf := make([]byte, r.frameSize)
	if n, err := io.ReadFull(r.stdout, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.eof = true
			r.truncated = n
			return nil, io.EOF
		}
		return nil, err
	}

	return RGBToTensor(buf, r.info.Width, r.info.Height)
}

// Output is what ffmpeg wrote to stderr. Only read it after Close.
func (r *FrameReader) Output() string {
	return r.stderr.String()
}

// Close stops the decoder. The decoder's own error and a partial last frame
// are only reported when every frame was read, since closing early makes
// ffmpeg fail on the pipe.
func (r *FrameReader) Close() error {
	var result *multierror.Error
	if err := r.stdout.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing stdout: %w", err))
	}

	if r.truncated > 0 {
		result = multierror.Append(result, fmt.Errorf("truncated last frame: got %s of %s",
			humanize.Bytes(uint64(r.truncated)), humanize.Bytes(uint64(r.frameSize))))
	}

	if err := <-r.done; err != nil && r.eof {
		result = multierror.Append(result, fmt.Errorf("ffmpeg: %w", err))
	}

	return result.ErrorOrNil()
}
