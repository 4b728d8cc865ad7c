package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"facet/internal/daemon"
	"facet/internal/logging"
	"facet/internal/logs"
	"facet/internal/registry"
	"facet/internal/services"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Facet", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

// request tags one mutating call with a correlation id so its log lines
// can be tied back together across components.
func (s *service) request() (context.Context, *slog.Logger) {
	ctx := services.WithRequestID(s.ctx, uuid.NewString())
	return ctx, logging.WithContext(ctx, s.log())
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.QueuedJobs = status.Admission.Queued
	resp.RunningJobs = status.Admission.Running
	resp.JobDBPath = status.JobDBPath
	resp.LockPath = status.LockFilePath
	resp.PID = os.Getpid()
	resp.JobCounts = make(map[string]int, len(status.JobCounts))
	for k, v := range status.JobCounts {
		resp.JobCounts[string(k)] = v
	}
	return nil
}

func (s *service) JobCreate(req JobCreateRequest, resp *JobCreateResponse) error {
	ctx, log := s.request()
	log.Debug("job create requested", logging.Int("image_count", len(req.ImagePaths)))
	job, err := s.daemon.Orchestrator().CreateJob(ctx, req.Owner, req.ImagePaths)
	if err != nil {
		return err
	}
	resp.Job = FromJob(job)
	log.Info("job created via IPC", logging.String("job_id", job.ID))
	return nil
}

func (s *service) Reconstruct(req ReconstructRequest, resp *ReconstructResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("reconstruct requires a job id")
	}
	quality, ok := registry.ParseQuality(req.Quality)
	if !ok {
		return fmt.Errorf("unknown quality %q", req.Quality)
	}
	ctx, log := s.request()
	job, estimate, err := s.daemon.Orchestrator().Reconstruct(ctx, req.ID, quality)
	if err != nil {
		return err
	}
	resp.Job = FromJob(job)
	resp.EstimateLower = estimate.Lower.String()
	resp.EstimateUpper = estimate.Upper.String()
	log.Info("reconstruction queued via IPC",
		logging.String("job_id", job.ID),
		logging.String("quality", string(quality)))
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	var filter map[registry.Status]bool
	if len(req.Statuses) > 0 {
		filter = make(map[registry.Status]bool, len(req.Statuses))
		for _, raw := range req.Statuses {
			status, ok := registry.ParseStatus(raw)
			if !ok {
				continue
			}
			filter[status] = true
		}
	}
	jobs := s.daemon.Orchestrator().List(s.ctx)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	resp.Jobs = make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		if filter != nil && !filter[job.Status] {
			continue
		}
		resp.Jobs = append(resp.Jobs, FromJob(job))
	}
	return nil
}

func (s *service) JobDescribe(req JobDescribeRequest, resp *JobDescribeResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("describe requires a job id")
	}
	job, err := s.daemon.Orchestrator().Status(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = FromJob(job)
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("cancel requires a job id")
	}
	ctx, log := s.request()
	log.Debug("job cancel requested", logging.String("job_id", req.ID))
	job, err := s.daemon.Orchestrator().Cancel(ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = FromJob(job)
	log.Info("job cancelled via IPC", logging.String("job_id", job.ID))
	return nil
}

func (s *service) Artifact(req ArtifactRequest, resp *ArtifactResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("artifact requires a job id")
	}
	path, job, err := s.daemon.Orchestrator().ArtifactPath(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = FromJob(job)
	resp.ModelPath = path
	resp.ModelInfoPath = s.daemon.Orchestrator().ModelInfoPath(req.ID)
	return nil
}

func (s *service) Sweep(_ SweepRequest, resp *SweepResponse) error {
	s.log().Debug("retention sweep requested")
	removed := s.daemon.Orchestrator().SweepNow(s.ctx)
	resp.Removed = removed
	s.log().Info("retention sweep finished via IPC", logging.Int("removed_count", removed))
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
