package api

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"WalletPlugins/internal/account"
	xerrors "WalletPlugins/internal/errors"
	"WalletPlugins/internal/observability/metrics"
	"WalletPlugins/internal/plugin"
	"WalletPlugins/internal/router"
	"WalletPlugins/internal/wallet"
)

// Options configures a Server.
type Options struct {
	Router         *router.Router
	Registry       *plugin.Registry
	Accounts       account.Store
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Audit          *slog.Logger
	OperatorSecret string
	// ShutdownTimeout bounds graceful shutdown; zero means 5s.
	ShutdownTimeout time.Duration
}

// Server serves the REST interface.
type Server struct {
	addr   string
	opts   Options
	engine *gin.Engine
}

// NewServer builds the gin engine and registers every route.
func NewServer(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = opts.Logger
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{addr: addr, opts: opts, engine: gin.New()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), requestID(), s.observe())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/accounts", operatorOnly([]byte(s.opts.OperatorSecret), s.opts.Audit), s.createAccount)
		v1.GET("/accounts/:address", s.getAccount)
		v1.GET("/accounts/:address/plugins", s.listPlugins)
		v1.POST("/accounts/:address/actions", s.submitAction)
		v1.POST("/accounts/:address/recovery/:op", s.submitRecovery)
		v1.POST("/accounts/:address/resume", operatorOnly([]byte(s.opts.OperatorSecret), s.opts.Audit), s.resume)
	}
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		timeout := s.opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		s.opts.Metrics.ObserveHTTPRequest(handler, c.Request.Method, c.Writer.Status(), time.Since(start))
		s.opts.Logger.Debug("http request",
			slog.String("request_id", c.GetString("request_id")),
			slog.String("method", c.Request.Method),
			slog.String("path", handler),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) createAccount(c *gin.Context) {
	var body CreateAccountRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid request body"))
		return
	}
	addr, err := parseAddress("address", body.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(body.Owners) == 0 {
		writeError(c, xerrors.New(xerrors.CodeInvalidInput, "at least one owner is required"))
		return
	}
	ownerAddrs := make([]common.Address, 0, len(body.Owners))
	for _, raw := range body.Owners {
		owner, err := parseAddress("owner", raw)
		if err != nil {
			writeError(c, err)
			return
		}
		ownerAddrs = append(ownerAddrs, owner)
	}
	created, err := s.opts.Accounts.Create(c.Request.Context(), wallet.NewAccount(addr, ownerAddrs...))
	if err != nil {
		writeError(c, err)
		return
	}
	acc, err := s.opts.Accounts.Load(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, accountResponse(acc))
}

func (s *Server) getAccount(c *gin.Context) {
	addr, ok := pathAccount(c)
	if !ok {
		return
	}
	acc, err := s.opts.Accounts.Load(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountResponse(acc))
}

func (s *Server) listPlugins(c *gin.Context) {
	addr, ok := pathAccount(c)
	if !ok {
		return
	}
	entries := s.opts.Registry.Entries(addr)
	out := make([]PluginResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, pluginResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) submitAction(c *gin.Context) {
	s.submit(c, "")
}

func (s *Server) submitRecovery(c *gin.Context) {
	var action wallet.ActionType
	switch c.Param("op") {
	case "initiate":
		action = wallet.ActionRecoveryInitiate
	case "execute":
		action = wallet.ActionRecoveryExecute
	case "cancel":
		action = wallet.ActionRecoveryCancel
	default:
		writeError(c, xerrors.Newf(xerrors.CodeNotFound, "unknown recovery operation %q", c.Param("op")))
		return
	}
	s.submit(c, action)
}

// submit decodes the body and runs it through the router. A verdict, admitted
// or not, is always answered with 200.
func (s *Server) submit(c *gin.Context, action wallet.ActionType) {
	addr, ok := pathAccount(c)
	if !ok {
		return
	}
	var body ActionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid request body"))
		return
	}
	if action != "" {
		body.Action = string(action)
	}
	req, err := body.ToRequest(addr)
	if err != nil {
		writeError(c, err)
		return
	}
	if !req.Relayed() {
		if err := authenticateSender(req, s.opts.Router.ChainID()); err != nil {
			s.opts.Audit.Warn("access_denied",
				slog.String("account", addr.Hex()),
				slog.String("sender", req.Sender.Hex()),
				slog.String("error", err.Error()))
			writeError(c, err)
			return
		}
	}
	verdict, err := s.opts.Router.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdictResponse(verdict))
}

// authenticateSender checks that a direct submission is signed by the sender
// it names.
func authenticateSender(req *wallet.Request, chainID *big.Int) error {
	if len(req.Signature) == 0 {
		return xerrors.New(xerrors.CodeUnauthorizedCaller, "direct submissions must be signed by the sender")
	}
	signer, err := wallet.RecoverSigner(req, chainID)
	if err != nil {
		return err
	}
	if signer != req.Sender {
		return xerrors.Newf(xerrors.CodeUnauthorizedCaller, "signature was produced by %s, not sender %s", signer.Hex(), req.Sender.Hex())
	}
	return nil
}

func (s *Server) resume(c *gin.Context) {
	addr, ok := pathAccount(c)
	if !ok {
		return
	}
	if err := s.opts.Router.Resume(c.Request.Context(), addr); err != nil {
		writeError(c, err)
		return
	}
	s.opts.Audit.Info("account_resumed",
		slog.String("account", addr.Hex()),
		slog.String("operator", c.GetString("operator")))
	acc, err := s.opts.Accounts.Load(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountResponse(acc))
}

func pathAccount(c *gin.Context) (common.Address, bool) {
	addr, err := parseAddress("account", c.Param("address"))
	if err != nil {
		writeError(c, err)
		return common.Address{}, false
	}
	return addr, true
}

func writeError(c *gin.Context, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidInput:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeUnauthorizedCaller:
		status = http.StatusForbidden
	case xerrors.CodeReplayOrStale:
		status = http.StatusConflict
	case xerrors.CodeStorageFailure:
		status = http.StatusServiceUnavailable
	}
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
	}
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Code: string(code), Message: message}})
}
