package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	logger     *logrus.Entry
	queue      *Queue
	sqlite     *Sqlite
	poolWorker *PoolWorker
	trainer    *Trainer
	hub        *Hub
}

func NewServer(queue *Queue, sqlite *Sqlite, poolWorker *PoolWorker, trainer *Trainer, hub *Hub) (*Server, error) {
	logger, err := CreateLogger("api")
	if err != nil {
		return nil, err
	}

	return &Server{
		logger:     logger,
		queue:      queue,
		sqlite:     sqlite,
		poolWorker: poolWorker,
		trainer:    trainer,
		hub:        hub,
	}, nil
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(s.logger))
	r.GET("/ping", s.ping)
	r.GET("/queue", s.listClipQueue)
	r.POST("/queue", s.addClipToQueue)
	r.DELETE("/queue/:id", s.delClipFromQueue)
	r.GET("/failed", s.listFailedClips)
	r.GET("/workers", s.listWorkers)
	r.GET("/checkpoints", s.listCheckpoints)
	r.GET("/losses/:runId", s.listLosses)
	r.GET("/train", s.trainingState)
	r.POST("/train", s.startTraining)
	if s.hub != nil {
		r.GET("/ws", s.hub.HandleConnections)
	}

	return r
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func (s *Server) listClipQueue(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.GetClips())
}

func (s *Server) addClipToQueue(c *gin.Context) {
	var clip Clip
	if err := c.ShouldBindJSON(&clip); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	for _, source := range []string{clip.Path, clip.ReversePath} {
		same, err := IsSamePath(source, clip.OutputPath)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}

		if same {
			c.String(http.StatusBadRequest, "output path can't be one of the source videos")
			return
		}
	}

	if _, err := s.sqlite.InsertClip(&clip); err != nil {
		s.logger.Error("Failed to insert clip: ", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.WithFields(StructFields(clip)).Debug("Clip added to queue")
	s.queue.Enqueue(clip)
	c.JSON(http.StatusOK, clip)
}

func (s *Server) delClipFromQueue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	clip, ok := s.queue.RemoveByID(id)
	if !ok {
		c.String(http.StatusNotFound, "clip not in queue")
		return
	}

	if err := s.sqlite.DeleteClipByID(id); err != nil {
		s.logger.Error("Failed to delete clip: ", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.WithField("id", id).Debug("Clip removed from queue")
	c.JSON(http.StatusOK, clip)
}

func (s *Server) listFailedClips(c *gin.Context) {
	clips, err := s.sqlite.GetFailedClips()
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, clips)
}

func (s *Server) listWorkers(c *gin.Context) {
	if s.poolWorker == nil {
		c.JSON(http.StatusOK, gin.H{"workers": []WorkerInfo{}, "stats": PoolStats{}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workers": s.poolWorker.GetWorkerInfos(),
		"stats":   s.poolWorker.Stats(),
	})
}

func (s *Server) listCheckpoints(c *gin.Context) {
	checkpoints, err := s.sqlite.GetCheckpoints()
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, checkpoints)
}

func (s *Server) listLosses(c *gin.Context) {
	losses, err := s.sqlite.GetLosses(c.Param("runId"))
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, losses)
}

func (s *Server) trainingState(c *gin.Context) {
	if s.trainer == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"running": s.trainer.Running(),
		"runId":   s.trainer.RunID(),
	})
}

func (s *Server) startTraining(c *gin.Context) {
	if s.trainer == nil {
		c.String(http.StatusServiceUnavailable, "training is not available")
		return
	}

	var req TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	if req.Steps < 0 || req.StartStep < 0 {
		c.String(http.StatusBadRequest, "steps must not be negative")
		return
	}

	runID, err := s.trainer.Start(req)
	if errors.Is(err, errTrainingRunning) {
		c.String(http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"runId": runID})
}
