package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"log/slog"

	"lifeline/internal/api"
	"lifeline/internal/daemon"
	"lifeline/internal/logging"
	"lifeline/internal/queue"
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
	if err := rpcServer.RegisterName("Lifeline", srv); err != nil {
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
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
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun lifeline stop"))
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
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.Pipeline = api.FromPipelineStatus(status.Pipeline)
	resp.QueueDBPath = status.QueueDB
	resp.LedgerDBPath = status.LedgerDB
	resp.LockPath = status.LockPath
	resp.SocketPath = status.SocketPath
	return nil
}

func (s *service) Observe(req ObserveRequest, resp *ObserveResponse) error {
	ev, err := req.Observation.Event()
	if err != nil {
		return err
	}
	messageID, err := s.daemon.SubmitObservation(s.ctx, ev)
	if err != nil {
		return err
	}
	resp.ID = ev.ID
	resp.Channel = queue.ChannelObservations
	s.log().Info("observation accepted via IPC",
		logging.String(logging.FieldEventType, "observation_accepted"),
		logging.String(logging.FieldEventID, ev.ID),
		logging.String(logging.FieldMessageID, messageID))
	return nil
}

func (s *service) QueueStats(_ QueueStatsRequest, resp *QueueStatsResponse) error {
	stats, err := s.daemon.ChannelStats(s.ctx)
	if err != nil {
		return err
	}
	resp.Channels = api.FromChannelStats(stats)
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		return errors.New("queue list requires a channel")
	}
	envelopes, err := s.daemon.ListMessages(s.ctx, channel, req.Limit)
	if err != nil {
		return err
	}
	resp.Messages = api.FromEnvelopes(envelopes)
	return nil
}

func (s *service) QueueReplay(req QueueReplayRequest, resp *QueueReplayResponse) error {
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		return errors.New("queue replay requires a channel")
	}
	s.log().Debug("queue replay requested", logging.String(logging.FieldChannel, channel))
	replayed, err := s.daemon.ReplayDeadLetters(s.ctx, channel)
	if err != nil {
		return err
	}
	resp.Replayed = replayed
	s.log().Info("dead letters replayed",
		logging.String(logging.FieldEventType, "queue_replay"),
		logging.String(logging.FieldChannel, channel),
		logging.Int64("replayed_count", replayed))
	return nil
}

func (s *service) QueuePurge(req QueuePurgeRequest, resp *QueuePurgeResponse) error {
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		return errors.New("queue purge requires a channel")
	}
	s.log().Debug("queue purge requested", logging.String(logging.FieldChannel, channel))
	purged, err := s.daemon.PurgeChannel(s.ctx, channel)
	if err != nil {
		return err
	}
	resp.Purged = purged
	s.log().Info("channel purged",
		logging.String(logging.FieldEventType, "queue_purge"),
		logging.String(logging.FieldChannel, channel),
		logging.Int64("purged_count", purged))
	return nil
}

func (s *service) TxList(req TxListRequest, resp *TxListResponse) error {
	records, err := s.daemon.Transactions(s.ctx, req.Status, req.Limit)
	if err != nil {
		return err
	}
	resp.Transactions = api.FromRecords(records)
	return nil
}

func (s *service) TxShow(req TxShowRequest, resp *TxShowResponse) error {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return errors.New("transaction key is required")
	}
	rec, attempts, err := s.daemon.Transaction(s.ctx, key)
	if err != nil {
		return err
	}
	resp.Transaction = api.FromRecord(rec)
	resp.Attempts = api.FromAttempts(attempts)
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	resp.Records = api.FromLogRecords(s.daemon.LogRecords(req.Limit))
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
