// Package httpapi is the local HTTP surface used by the desktop UI to drive
// and observe fiscal submission.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/alapierre/go-tra-vfd/vfd/metrics"
	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/alapierre/go-tra-vfd/vfd/queue"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "vfd.httpapi")

const requestIDHeader = "X-Request-ID"

// Fiscal receipt side of the API, implemented by *queue.Queue.
type Fiscal interface {
	Submit(ctx context.Context, saleID string, sale *model.Sale) (*store.ReceiptJob, error)
	SubmitSale(ctx context.Context, saleID string) (*store.ReceiptJob, error)
	Retry(ctx context.Context, saleID string) error
	Status(ctx context.Context, saleID string) (*queue.SaleStatus, error)
	Stats(ctx context.Context) (*queue.Stats, error)
}

// Reports Z-report side, implemented by *zreport.Scheduler.
type Reports interface {
	Reports(ctx context.Context, limit int) ([]store.ReportJob, error)
	Send(ctx context.Context, day string) (bool, error)
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
}

type Server struct {
	fiscal  Fiscal
	reports Reports
	metrics *metrics.Metrics
}

func NewServer(fiscal Fiscal, reports Reports, m *metrics.Metrics) *Server {
	return &Server{fiscal: fiscal, reports: reports, metrics: m}
}

// Router builds the gin engine with request logging and recovery.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(), recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api/v1/fiscal")
	api.GET("/stats", s.stats)
	api.GET("/sales/:saleID", s.status)
	api.POST("/sales/:saleID", s.submit)
	api.POST("/sales/:saleID/retry", s.retry)
	if s.reports != nil {
		api.GET("/zreports", s.listReports)
		api.POST("/zreports/:day", s.sendReport)
	}
	return r
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.fiscal.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

func (s *Server) status(c *gin.Context) {
	st, err := s.fiscal.Status(c.Request.Context(), c.Param("saleID"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// submit takes the sale from the body when present, otherwise from the sale source.
func (s *Server) submit(c *gin.Context) {
	saleID := c.Param("saleID")

	var (
		job *store.ReceiptJob
		err error
	)
	if c.Request.ContentLength == 0 {
		job, err = s.fiscal.SubmitSale(c.Request.Context(), saleID)
	} else {
		var sale model.Sale
		if berr := c.ShouldBindJSON(&sale); berr != nil && !errors.Is(berr, io.EOF) {
			errorResponse(c, http.StatusBadRequest, "INVALID_SALE", berr.Error())
			return
		}
		job, err = s.fiscal.Submit(c.Request.Context(), saleID, &sale)
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, job)
}

func (s *Server) retry(c *gin.Context) {
	if err := s.fiscal.Retry(c.Request.Context(), c.Param("saleID")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, gin.H{"saleId": c.Param("saleID"), "state": store.StatusQueued})
}

func (s *Server) listReports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	jobs, err := s.reports.Reports(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, jobs)
}

func (s *Server) sendReport(c *gin.Context) {
	day := c.Param("day")
	if _, err := time.Parse("20060102", day); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_DAY", "day must be YYYYMMDD")
		return
	}
	sent, err := s.reports.Send(c.Request.Context(), day)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"day": day, "sent": sent})
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data, RequestID: c.GetString(requestIDHeader)})
}

// fail maps the error taxonomy onto HTTP statuses.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, vfd.ErrAlreadyProcessing):
		errorResponse(c, http.StatusConflict, "ALREADY_PROCESSING", "another receipt is being processed for this sale")
	case errors.Is(err, vfd.ErrAlreadyAcknowledged):
		errorResponse(c, http.StatusConflict, "ALREADY_ACKNOWLEDGED", err.Error())
	case errors.Is(err, queue.ErrJobNotFound):
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, queue.ErrNotFailed):
		errorResponse(c, http.StatusConflict, "NOT_FAILED", err.Error())
	case errors.Is(err, vfd.ErrCredentialMissing):
		errorResponse(c, http.StatusServiceUnavailable, "CREDENTIAL_MISSING", err.Error())
	case errors.Is(err, vfd.ErrNetwork), errors.Is(err, vfd.ErrProtocol), errors.Is(err, vfd.ErrAuthFailure):
		errorResponse(c, http.StatusBadGateway, "TRA_UNAVAILABLE", err.Error())
	default:
		errorResponse(c, http.StatusUnprocessableEntity, "REJECTED", err.Error())
	}
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Error:     &ErrorBody{Code: code, Message: message},
		RequestID: c.GetString(requestIDHeader),
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"requestId": c.GetString(requestIDHeader),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    status,
			"latency":   time.Since(start),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.Errors())
		}
		switch {
		case status >= 500:
			entry.Error("http request")
		case status >= 400:
			entry.Warn("http request")
		default:
			entry.Debug("http request")
		}
	}
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("requestId", c.GetString(requestIDHeader)).Errorf("panic: %v", r)
				errorResponse(c, http.StatusInternalServerError, "INTERNAL", "internal error")
			}
		}()
		c.Next()
	}
}
