package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

var errClipNotFound = errors.New("source video not found")

type Worker struct {
	id         int
	logger     *logrus.Entry
	poolWorker *PoolWorker
	hub        *Hub
	sync.RWMutex

	workerInfo WorkerInfo
}

type WorkerInfo struct {
	ID       int     `json:"id"`
	Active   bool    `json:"active"`
	Step     string  `json:"step"`
	Progress float64 `json:"progress"`
	Clip     *Clip   `json:"clip"`
}

func NewWorker(id int, logger *logrus.Entry, poolWorker *PoolWorker, hub *Hub) *Worker {
	return &Worker{
		id:         id,
		logger:     logger,
		poolWorker: poolWorker,
		hub:        hub,
		workerInfo: WorkerInfo{ID: id},
	}
}

func (w *Worker) start() {
	for clip := range w.poolWorker.workChannel {
		clip := clip
		w.poolWorker.waitGroup.Add(1)
		w.Lock()
		w.workerInfo.Active = true
		w.workerInfo.Clip = &clip
		w.Unlock()

		err := w.doWork(&clip)

		w.Lock()
		w.workerInfo.Active = false
		w.workerInfo.Clip = nil
		w.workerInfo.Step = ""
		w.workerInfo.Progress = 0
		w.Unlock()
		w.poolWorker.waitGroup.Done()

		if errors.Is(w.poolWorker.ctx.Err(), context.Canceled) {
			w.logger.Debug("Ctx was canceled")
			return
		}

		if err != nil {
			w.logger.Warn(err)
		}

		w.sendUpdate()
	}
}

func (w *Worker) doWork(clip *Clip) error {
	output, err := w.processClip(clip)
	if w.poolWorker.ctx.Err() != nil {
		// The context is cancelled, put the clip back for the next run
		w.poolWorker.queue.Enqueue(*clip)
		return nil
	}

	if errors.Is(err, errClipNotFound) {
		w.logger.WithFields(StructFields(clip)).Error("Clip to process wasn't found")
		return w.failClip(clip, output, err)
	}

	if err != nil {
		return w.handleProcessClipError(clip, output, err)
	}

	if err := w.poolWorker.sqlite.MarkClipAsDone(clip); err != nil {
		w.logger.Error("Failed to mark clip as done: ", err)
		return err
	}

	w.poolWorker.processed.Inc()
	w.logger.Info("Finished processing clip")
	return nil
}

func (w *Worker) handleProcessClipError(clip *Clip, output string, processErr error) error {
	w.logger.WithFields(StructFields(clip)).Error("Error processing clip: ", processErr)
	if output != "" {
		w.logger.Debug("Process output: ", output)
	}

	retries, err := w.poolWorker.sqlite.GetClipRetries(clip)
	if err != nil {
		w.logger.WithFields(StructFields(clip)).Error("Failed to get retries: ", err)
		return err
	}

	if retries >= retryLimit {
		return w.failClip(clip, output, processErr)
	}

	retries++
	if err := w.poolWorker.sqlite.UpdateClipRetries(clip, retries); err != nil {
		w.logger.WithFields(StructFields(clip)).Error("Failed to update clip retries: ", err)
		return err
	}

	w.poolWorker.retried.Inc()
	w.poolWorker.queue.Enqueue(*clip)
	w.logger.WithFields(StructFields(clip)).Info("Requeue clip (back of the queue and retrying)")
	return nil
}

func (w *Worker) failClip(clip *Clip, output string, failError error) error {
	w.logger.WithFields(StructFields(clip)).Info("Clip failed, removing it from queue")
	w.poolWorker.failed.Inc()
	if err := w.poolWorker.sqlite.FailClip(clip, output, failError.Error()); err != nil {
		w.logger.WithFields(StructFields(clip)).Error("Failed to fail the clip: ", err)
		return err
	}

	return nil
}

// openClip probes both videos of clip and starts decoding them. The frame
// count is the smaller of the two and zero when unknown.
func openClip(clip *Clip) (*FrameReader, *FrameReader, int64, error) {
	for _, p := range []string{clip.Path, clip.ReversePath} {
		exist, err := PathExist(p)
		if err != nil {
			return nil, nil, 0, err
		}

		if !exist {
			return nil, nil, 0, fmt.Errorf("%w: %s", errClipNotFound, p)
		}
	}

	forwardInfo, err := GetVideoInfo(clip.Path)
	if err != nil {
		return nil, nil, 0, err
	}

	reverseInfo, err := GetVideoInfo(clip.ReversePath)
	if err != nil {
		return nil, nil, 0, err
	}

	if forwardInfo.Width != reverseInfo.Width || forwardInfo.Height != reverseInfo.Height {
		return nil, nil, 0, fmt.Errorf("clip videos differ in size: %dx%d and %dx%d",
			forwardInfo.Width, forwardInfo.Height, reverseInfo.Width, reverseInfo.Height)
	}

	frameCount := forwardInfo.FrameCount
	if reverseInfo.FrameCount < frameCount {
		frameCount = reverseInfo.FrameCount
	}

	return NewFrameReader(forwardInfo), NewFrameReader(reverseInfo), frameCount, nil
}

func closeReaders(readers ...*FrameReader) (string, error) {
	var result *multierror.Error
	output := ""
	for _, r := range readers {
		if err := r.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		output += r.Output()
	}

	return output, result.ErrorOrNil()
}

func (w *Worker) processClip(clip *Clip) (output string, err error) {
	w.logger.WithFields(StructFields(clip)).Info("Processing clip")

	w.updateStep("Probing videos")
	forward, reverse, frameCount, err := openClip(clip)
	if err != nil {
		return "", err
	}

	defer func() {
		readerOutput, closeErr := closeReaders(forward, reverse)
		if err != nil {
			output = readerOutput
		} else if closeErr != nil {
			output, err = readerOutput, closeErr
		}
	}()

	w.logger.WithField("frames", humanize.Comma(frameCount)).
		WithField("frameSize", humanize.Bytes(uint64(forward.FrameSize()))).
		Info("Decoding clip")

	processFolderWorker := path.Join(w.poolWorker.config.ProcessFolder, fmt.Sprintf("worker_%d", w.id))
	if err := ResetFolder(processFolderWorker); err != nil {
		return "", err
	}

	w.updateStep("Extracting global shutter frames")
	pairs := 0
	for ; ; pairs++ {
		if w.poolWorker.ctx.Err() != nil {
			return "", w.poolWorker.ctx.Err()
		}

		fwd, err := forward.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		rev, err := reverse.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		batch, err := w.poolWorker.engine.Batch(fwd, rev)
		if err != nil {
			return "", err
		}

		frames, err := w.poolWorker.engine.Infer(batch)
		if err != nil {
			return "", fmt.Errorf("frame pair %d: %w", pairs, err)
		}

		for f := 0; f < frames.Dim(0); f++ {
			name := path.Join(processFolderWorker, fmt.Sprintf("%06d_%02d.png", pairs, f))
			if err := WritePNG(name, frames.Select(0, f)); err != nil {
				return "", err
			}
		}

		if frameCount > 0 {
			w.updateProgress(float64(pairs+1) / float64(frameCount) * 100)
		}
	}

	if pairs == 0 {
		return "", errors.New("no frames decoded from clip")
	}

	w.updateStep("Moving frames to output")
	baseOutputPath := path.Dir(clip.OutputPath)
	w.logger.WithField("baseOutputPath", baseOutputPath).
		Debug("Creating output folder if it doesn't exist")
	if err := os.MkdirAll(baseOutputPath, os.ModePerm); err != nil {
		return "", err
	}

	if err := os.RemoveAll(clip.OutputPath); err != nil {
		return "", err
	}

	if err := os.Rename(processFolderWorker, clip.OutputPath); err != nil {
		return "", err
	}

	w.logger.WithField("pairs", pairs).Info("Wrote global shutter frames")
	return "", nil
}

func (w *Worker) updateStep(step string) {
	w.Lock()
	w.workerInfo.Step = step
	w.workerInfo.Progress = 0
	w.Unlock()
	w.sendUpdate()
}

func (w *Worker) updateProgress(progress float64) {
	w.Lock()
	w.workerInfo.Progress = progress
	w.Unlock()
	w.sendUpdate()
}

func (w *Worker) GetInfo() WorkerInfo {
	w.RLock()
	defer w.RUnlock()

	info := w.workerInfo
	if info.Clip != nil {
		clip := *info.Clip
		info.Clip = &clip
	}

	return info
}

func (w *Worker) sendUpdate() {
	if w.hub == nil {
		return
	}

	w.hub.BroadcastMessage(WsWorkerProgress{
		WsBaseMessage: WsBaseMessage{Type: "worker_progress"},
		Worker:        w.GetInfo(),
	})
}
