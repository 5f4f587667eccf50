package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/boostherd/boostherd/pkg/common/config"
	"github.com/boostherd/boostherd/pkg/common/database"
	"github.com/boostherd/boostherd/pkg/common/logger"
	"github.com/boostherd/boostherd/pkg/events"
	"github.com/boostherd/boostherd/pkg/jobs"
	"github.com/boostherd/boostherd/pkg/observability/metrics"
)

type server struct {
	service *jobs.Service
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	repo := jobs.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate job schema")
	}

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	statusCache := database.GetRedis(cfg)

	service, err := jobs.NewService(repo, producer, statusCache,
		cfg.ArtifactDir, cfg.CheckpointDir, cfg.MaxConcurrentJobs, cfg.StatusCacheTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize job service")
	}

	srv := &server{service: service}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", handleMetrics).Methods("GET")
	router.HandleFunc("/api/v1/training/jobs", srv.handleSubmitJob).Methods("POST")
	router.HandleFunc("/api/v1/training/jobs", srv.handleListJobs).Methods("GET")
	router.HandleFunc("/api/v1/training/jobs/{id}", srv.handleGetJob).Methods("GET")
	router.HandleFunc("/api/v1/training/jobs/{id}/status", srv.handleGetStatus).Methods("GET")
	router.HandleFunc("/api/v1/training/jobs/{id}/model", srv.handleGetModel).Methods("GET")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Trainer daemon started")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down trainer daemon...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close database")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("Failed to close redis")
	}

	logger.Log.Info("Trainer daemon stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

func (s *server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var input jobs.SubmitJobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := s.service.Submit(r.Context(), input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobList, err := s.service.List(r.Context(), 50)
	if err != nil {
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobList)
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.service.Get(r.Context(), id)
	if err != nil {
		if err == jobs.ErrJobNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	status, err := s.service.CachedStatus(r.Context(), id)
	if err != nil {
		if err == jobs.ErrJobNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"job_id": id.String(), "status": status})
}

func (s *server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.service.Get(r.Context(), id)
	if err != nil {
		if err == jobs.ErrJobNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}
	if job.Status != jobs.StatusCompleted || job.ModelPath == "" {
		http.Error(w, "Model not available", http.StatusConflict)
		return
	}

	http.ServeFile(w, r, job.ModelPath)
}
